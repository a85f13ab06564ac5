// internal/stages/execution/file.go
package execution

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
	"insight-pipeline/internal/registry"
)

// FileCoordinator reads rows from an uploaded spreadsheet or CSV. The first
// row is the header; reads are capped at MaxRows.
type FileCoordinator struct {
	config *Config
	store  registry.Store
	logger logger.Logger
}

func NewFileCoordinator(config *Config, store registry.Store, log logger.Logger) *FileCoordinator {
	return &FileCoordinator{
		config: config,
		store:  store,
		logger: log.With(map[string]interface{}{
			"coordinator": "file",
		}),
	}
}

func (c *FileCoordinator) Execute(ctx context.Context, query *models.Query, source models.RankedSource) *models.SourceExecutionResult {
	record, err := c.store.Get(ctx, source.Candidate.ID)
	if err != nil {
		return FailureResult(source, pipelineerrors.ErrCodeRegistryLookupFailed, "source record unavailable")
	}
	if record.FilePath == "" {
		return FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "source has no file path")
	}

	var data []models.Row
	var sheet string

	switch strings.ToLower(filepath.Ext(record.FilePath)) {
	case ".csv":
		data, err = c.readCSV(record.FilePath)
	case ".xlsx":
		data, sheet, err = c.readXLSX(record.FilePath)
	default:
		return FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed,
			fmt.Sprintf("unsupported file type %s", filepath.Ext(record.FilePath)))
	}
	if err != nil {
		c.logger.Warn("file read failed", map[string]interface{}{
			"sourceId": source.Candidate.ID,
			"path":     record.FilePath,
			"error":    err.Error(),
		})
		return FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "file unreadable")
	}

	return &models.SourceExecutionResult{
		SourceID:   source.Candidate.ID,
		SourceName: source.Candidate.Name,
		Kind:       source.Candidate.Kind,
		Success:    true,
		Data:       data,
		File: &models.FileDetails{
			FileName: filepath.Base(record.FilePath),
			Sheet:    sheet,
			RowCount: len(data),
		},
	}
}

func (c *FileCoordinator) readCSV(path string) ([]models.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return []models.Row{}, nil
	}
	if err != nil {
		return nil, err
	}

	data := make([]models.Row, 0)
	for {
		if c.config.MaxRows > 0 && len(data) >= c.config.MaxRows {
			break
		}
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		data = append(data, rowFromCells(header, record))
	}
	return data, nil
}

func (c *FileCoordinator) readXLSX(path string) ([]models.Row, string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, "", errors.New("workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, "", err
	}
	if len(rows) == 0 {
		return []models.Row{}, sheet, nil
	}

	header := rows[0]
	data := make([]models.Row, 0, len(rows)-1)
	for _, cells := range rows[1:] {
		if c.config.MaxRows > 0 && len(data) >= c.config.MaxRows {
			break
		}
		data = append(data, rowFromCells(header, cells))
	}
	return data, sheet, nil
}

// rowFromCells zips header names with cell values. Extra cells beyond the
// header are dropped; missing trailing cells leave their columns unset.
func rowFromCells(header, cells []string) models.Row {
	row := make(models.Row, len(header))
	for i, name := range header {
		if name == "" {
			name = fmt.Sprintf("column_%d", i+1)
		}
		if i < len(cells) {
			row[name] = cells[i]
		}
	}
	return row
}

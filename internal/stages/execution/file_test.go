package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
)

func fileStore(path string) *stubStore {
	return &stubStore{
		sources: map[string]*models.DataSource{
			"src-file": {
				ID:          "src-file",
				WorkspaceID: "ws-1",
				Name:        "Campaign Sheet",
				Kind:        models.SourceKindFile,
				Status:      models.SourceStatusReady,
				FilePath:    path,
			},
		},
	}
}

func fileSource() models.RankedSource {
	return plannedSource("src-file", models.SourceKindFile, 1)
}

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func writeXLSX(t *testing.T, name string, rows [][]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)

	f := excelize.NewFile()
	for i, cells := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &cells))
	}
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())
	return path
}

func newFileCoordinator(t *testing.T, path string) *FileCoordinator {
	t.Helper()
	return NewFileCoordinator(LoadConfig(), fileStore(path), logger.NewTestLogger(t))
}

// ==========================
// CSV Tests
// ==========================

func TestFileCoordinator_Execute_CSVRows(t *testing.T) {
	path := writeCSV(t, "donations.csv", "city,total\nHyderabad,120\nPune,80\nDelhi,95\n")
	coordinator := newFileCoordinator(t, path)

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	require.True(t, result.Success)
	require.Len(t, result.Data, 3)
	assert.Equal(t, "Hyderabad", result.Data[0]["city"])
	assert.Equal(t, "120", result.Data[0]["total"])
	require.NotNil(t, result.File)
	assert.Equal(t, "donations.csv", result.File.FileName)
	assert.Empty(t, result.File.Sheet)
	assert.Equal(t, 3, result.File.RowCount)
	assert.Zero(t, result.TokensUsed)
}

func TestFileCoordinator_Execute_CSVRaggedRows(t *testing.T) {
	path := writeCSV(t, "ragged.csv", "city,total\nHyderabad,120,extra\nPune\n")
	coordinator := newFileCoordinator(t, path)

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	require.True(t, result.Success)
	require.Len(t, result.Data, 2)
	// Extra cells beyond the header are dropped.
	assert.Len(t, result.Data[0], 2)
	// Short rows leave their trailing columns unset.
	assert.Equal(t, "Pune", result.Data[1]["city"])
	_, ok := result.Data[1]["total"]
	assert.False(t, ok)
}

func TestFileCoordinator_Execute_CSVBlankHeaderName(t *testing.T) {
	path := writeCSV(t, "blank.csv", "city,,total\nHyderabad,note,120\n")
	coordinator := newFileCoordinator(t, path)

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	require.True(t, result.Success)
	require.Len(t, result.Data, 1)
	assert.Equal(t, "note", result.Data[0]["column_2"])
}

func TestFileCoordinator_Execute_CSVEmptyFile(t *testing.T) {
	path := writeCSV(t, "empty.csv", "")
	coordinator := newFileCoordinator(t, path)

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	require.True(t, result.Success)
	assert.Empty(t, result.Data)
	require.NotNil(t, result.File)
	assert.Zero(t, result.File.RowCount)
}

func TestFileCoordinator_Execute_CSVRowCap(t *testing.T) {
	path := writeCSV(t, "big.csv", "id\n1\n2\n3\n4\n5\n")
	config := LoadConfig()
	config.MaxRows = 2
	coordinator := NewFileCoordinator(config, fileStore(path), logger.NewTestLogger(t))

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	require.True(t, result.Success)
	assert.Len(t, result.Data, 2)
	assert.Equal(t, 2, result.File.RowCount)
}

// ==========================
// XLSX Tests
// ==========================

func TestFileCoordinator_Execute_XLSXRows(t *testing.T) {
	path := writeXLSX(t, "campaigns.xlsx", [][]interface{}{
		{"campaign", "budget"},
		{"Spring Drive", 5000},
		{"Winter Appeal", 7500},
	})
	coordinator := newFileCoordinator(t, path)

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	require.True(t, result.Success)
	require.Len(t, result.Data, 2)
	assert.Equal(t, "Spring Drive", result.Data[0]["campaign"])
	assert.Equal(t, "5000", result.Data[0]["budget"])
	require.NotNil(t, result.File)
	assert.Equal(t, "campaigns.xlsx", result.File.FileName)
	assert.Equal(t, "Sheet1", result.File.Sheet)
	assert.Equal(t, 2, result.File.RowCount)
}

func TestFileCoordinator_Execute_XLSXRowCap(t *testing.T) {
	path := writeXLSX(t, "big.xlsx", [][]interface{}{
		{"id"}, {1}, {2}, {3},
	})
	config := LoadConfig()
	config.MaxRows = 1
	coordinator := NewFileCoordinator(config, fileStore(path), logger.NewTestLogger(t))

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	require.True(t, result.Success)
	assert.Len(t, result.Data, 1)
}

// ==========================
// Failure Isolation Tests
// ==========================

func TestFileCoordinator_Execute_UnsupportedExtensionEnvelope(t *testing.T) {
	path := writeCSV(t, "report.pdf", "%PDF-1.4")
	coordinator := newFileCoordinator(t, path)

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	assert.False(t, result.Success)
	assert.Equal(t, string(pipelineerrors.ErrCodeSourceExecutionFailed), result.ErrorCode)
	assert.Equal(t, "unsupported file type .pdf", result.Error)
}

func TestFileCoordinator_Execute_MissingFileEnvelope(t *testing.T) {
	coordinator := newFileCoordinator(t, filepath.Join(t.TempDir(), "gone.csv"))

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	assert.False(t, result.Success)
	assert.Equal(t, "file unreadable", result.Error)
}

func TestFileCoordinator_Execute_CorruptXLSXEnvelope(t *testing.T) {
	path := writeCSV(t, "broken.xlsx", "this is not a workbook")
	coordinator := newFileCoordinator(t, path)

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	assert.False(t, result.Success)
	assert.Equal(t, "file unreadable", result.Error)
}

func TestFileCoordinator_Execute_NoFilePathEnvelope(t *testing.T) {
	coordinator := newFileCoordinator(t, "")

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	assert.False(t, result.Success)
	assert.Equal(t, "source has no file path", result.Error)
}

func TestFileCoordinator_Execute_UnknownSourceEnvelope(t *testing.T) {
	coordinator := NewFileCoordinator(LoadConfig(), &stubStore{}, logger.NewTestLogger(t))

	result := coordinator.Execute(context.Background(), testQuery(), fileSource())

	assert.False(t, result.Success)
	assert.Equal(t, string(pipelineerrors.ErrCodeRegistryLookupFailed), result.ErrorCode)
}

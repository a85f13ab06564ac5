// internal/stages/execution/database.go
package execution

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"insight-pipeline/internal/common/database"
	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
	"insight-pipeline/internal/registry"
)

// ConnOpener opens a connection to a customer database. Swapped for a stub
// in tests.
type ConnOpener func(dialect, dsn string) (*sql.DB, error)

// DatabaseCoordinator answers a question from one connected database:
// decrypt the connection config, load the captured schema, have the model
// write SQL, run it, and hand back rows. Each step that fails folds into the
// result envelope; the pipeline never sees a database error as fatal.
type DatabaseCoordinator struct {
	config    *Config
	store     registry.Store
	decryptor registry.Decryptor
	generator *SQLGenerator
	open      ConnOpener
	logger    logger.Logger
}

func NewDatabaseCoordinator(config *Config, store registry.Store, decryptor registry.Decryptor, client llm.Client, open ConnOpener, log logger.Logger) *DatabaseCoordinator {
	if open == nil {
		open = database.OpenSource
	}
	return &DatabaseCoordinator{
		config:    config,
		store:     store,
		decryptor: decryptor,
		generator: NewSQLGenerator(config, client, log),
		open:      open,
		logger: log.With(map[string]interface{}{
			"coordinator": "database",
		}),
	}
}

func (c *DatabaseCoordinator) Execute(ctx context.Context, query *models.Query, source models.RankedSource) *models.SourceExecutionResult {
	record, err := c.store.Get(ctx, source.Candidate.ID)
	if err != nil {
		return FailureResult(source, pipelineerrors.ErrCodeRegistryLookupFailed, "source record unavailable")
	}

	cfg, err := registry.DecryptConnectionConfig(c.decryptor, record.EncryptedConfig)
	if err != nil {
		c.logger.Error("connection config decryption failed", map[string]interface{}{
			"sourceId": source.Candidate.ID,
			"error":    err.Error(),
		})
		return FailureResult(source, pipelineerrors.ErrCodeConfigDecryptionFailed, "connection config unreadable")
	}

	schema, err := c.store.GetSchema(ctx, source.Candidate.ID)
	if err != nil {
		return FailureResult(source, pipelineerrors.ErrCodeSchemaUnavailable, "no captured schema for source")
	}

	tables, unfiltered := filterTables(schema.Tables, cfg.Tables)
	if unfiltered {
		c.logger.Warn("table allowlist matched nothing, using full schema", map[string]interface{}{
			"sourceId":  source.Candidate.ID,
			"allowlist": cfg.Tables,
		})
	}

	generated := c.generator.Generate(ctx, query.Text, tables, cfg.Dialect)

	db, err := c.open(cfg.Dialect, cfg.DSN)
	if err != nil {
		result := FailureResult(source, pipelineerrors.ErrCodeDatabaseConnectionFailed, "could not connect to source database")
		result.TokensUsed = generated.TokensUsed
		return result
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, generated.SQL)
	if err != nil {
		code := pipelineerrors.ErrCodeSourceExecutionFailed
		message := "query execution failed"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			code = pipelineerrors.ErrCodeQueryTimeout
			message = "query timed out"
		}
		c.logger.Error("query execution failed", map[string]interface{}{
			"sourceId": source.Candidate.ID,
			"sql":      generated.SQL,
			"error":    err.Error(),
		})
		result := FailureResult(source, code, message)
		result.TokensUsed = generated.TokensUsed
		result.Database = &models.DatabaseDetails{
			SQL:              generated.SQL,
			Dialect:          cfg.Dialect,
			UsedFallbackSQL:  generated.UsedFallback,
			UnfilteredSchema: unfiltered,
		}
		return result
	}
	defer rows.Close()

	data, err := scanRows(rows, c.config.MaxRows)
	if err != nil {
		result := FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "result rows unreadable")
		result.TokensUsed = generated.TokensUsed
		return result
	}

	return &models.SourceExecutionResult{
		SourceID:        source.Candidate.ID,
		SourceName:      source.Candidate.Name,
		Kind:            source.Candidate.Kind,
		Success:         true,
		Data:            data,
		TokensUsed:      generated.TokensUsed,
		ConfidenceScore: generated.Confidence,
		Database: &models.DatabaseDetails{
			SQL:              generated.SQL,
			Dialect:          cfg.Dialect,
			RowCount:         len(data),
			UsedFallbackSQL:  generated.UsedFallback,
			UnfilteredSchema: unfiltered,
		},
	}
}

// filterTables applies the owner's table allowlist. An allowlist that
// matches nothing falls back to the full schema, flagged so the response can
// note it.
func filterTables(tables []models.TableSchema, allowlist []string) ([]models.TableSchema, bool) {
	if len(allowlist) == 0 {
		return tables, false
	}

	allowed := make(map[string]bool, len(allowlist))
	for _, name := range allowlist {
		allowed[strings.ToLower(name)] = true
	}

	filtered := make([]models.TableSchema, 0, len(tables))
	for _, t := range tables {
		if allowed[strings.ToLower(t.Name)] {
			filtered = append(filtered, t)
		}
	}
	if len(filtered) == 0 {
		return tables, true
	}
	return filtered, false
}

// scanRows reads up to maxRows into generic row maps. Byte slices become
// strings so JSON marshalling stays readable.
func scanRows(rows *sql.Rows, maxRows int) ([]models.Row, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	data := make([]models.Row, 0)
	for rows.Next() {
		if maxRows > 0 && len(data) >= maxRows {
			break
		}

		values := make([]interface{}, len(columns))
		pointers := make([]interface{}, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return nil, err
		}

		row := make(models.Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		data = append(data, row)
	}
	return data, rows.Err()
}

// internal/registry/postgres.go
package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
)

// PostgresStore reads the data source catalog from the application database.
type PostgresStore struct {
	db     *sql.DB
	logger logger.Logger
}

func NewPostgresStore(db *sql.DB, log logger.Logger) *PostgresStore {
	return &PostgresStore{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "source-registry"}),
	}
}

func (s *PostgresStore) ListReady(ctx context.Context, workspaceID string) ([]models.DataSource, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, workspace_id, name, kind, status, ai_summary, encrypted_config, file_path, endpoint
		FROM data_sources
		WHERE workspace_id = $1 AND status = 'ready'
		ORDER BY created_at, id`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list ready sources: %w", err)
	}
	defer rows.Close()

	var sources []models.DataSource
	for rows.Next() {
		var src models.DataSource
		var summary, encConfig, filePath, endpoint sql.NullString
		if err := rows.Scan(
			&src.ID, &src.WorkspaceID, &src.Name, &src.Kind, &src.Status,
			&summary, &encConfig, &filePath, &endpoint,
		); err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		src.AISummary = summary.String
		src.EncryptedConfig = encConfig.String
		src.FilePath = filePath.String
		src.Endpoint = endpoint.String
		sources = append(sources, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}

	return sources, nil
}

func (s *PostgresStore) Get(ctx context.Context, sourceID string) (*models.DataSource, error) {
	var src models.DataSource
	var summary, encConfig, filePath, endpoint sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, workspace_id, name, kind, status, ai_summary, encrypted_config, file_path, endpoint
		FROM data_sources
		WHERE id = $1`, sourceID).Scan(
		&src.ID, &src.WorkspaceID, &src.Name, &src.Kind, &src.Status,
		&summary, &encConfig, &filePath, &endpoint,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get source: %w", err)
	}

	src.AISummary = summary.String
	src.EncryptedConfig = encConfig.String
	src.FilePath = filePath.String
	src.Endpoint = endpoint.String
	return &src, nil
}

func (s *PostgresStore) GetSchema(ctx context.Context, sourceID string) (*models.SourceSchema, error) {
	var dialect string
	var schemaJSON []byte

	err := s.db.QueryRowContext(ctx, `
		SELECT dialect, schema_json
		FROM source_schemas
		WHERE source_id = $1`, sourceID).Scan(&dialect, &schemaJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrSchemaNotFound, sourceID)
	}
	if err != nil {
		return nil, fmt.Errorf("get schema: %w", err)
	}

	var tables []models.TableSchema
	if err := json.Unmarshal(schemaJSON, &tables); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", sourceID, err)
	}

	return &models.SourceSchema{
		SourceID: sourceID,
		Dialect:  dialect,
		Tables:   tables,
	}, nil
}

// internal/registry/registry.go
package registry

import (
	"context"
	"errors"

	"insight-pipeline/internal/models"
)

var (
	ErrSourceNotFound = errors.New("SOURCE_NOT_FOUND")
	ErrSchemaNotFound = errors.New("SCHEMA_NOT_FOUND")
)

// Store provides access to the workspace data source catalog.
// Enumeration order is stable: sources come back oldest first so that
// downstream ranking ties resolve the same way on every run.
type Store interface {
	// ListReady returns the sources in the workspace whose ingestion has
	// completed. Sources still processing or failed are excluded.
	ListReady(ctx context.Context, workspaceID string) ([]models.DataSource, error)

	// Get returns a single source by ID.
	Get(ctx context.Context, sourceID string) (*models.DataSource, error)

	// GetSchema returns the stored table schema for a database source.
	GetSchema(ctx context.Context, sourceID string) (*models.SourceSchema, error)
}

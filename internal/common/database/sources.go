// internal/common/database/sources.go
package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Dialects accepted for workspace data sources.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// OpenSource opens a connection to a workspace data source using the
// driver matching its dialect. Source connections are short-lived and
// scoped to one request, so the pool is kept minimal. Callers own the
// returned handle and must Close it.
func OpenSource(dialect, dsn string) (*sql.DB, error) {
	var driver string
	switch dialect {
	case DialectPostgres:
		driver = "postgres"
	case DialectSQLite:
		driver = "sqlite3"
	default:
		return nil, fmt.Errorf("unsupported source dialect: %s", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s source: %w", dialect, err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(2 * time.Minute)

	return db, nil
}

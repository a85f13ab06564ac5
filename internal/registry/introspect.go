// internal/registry/introspect.go
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"insight-pipeline/internal/common/database"
	"insight-pipeline/internal/models"
)

// IntrospectSchema reads the live table layout of a source database.
// Dialects keep their catalog in different places: PostgreSQL exposes
// information_schema, SQLite keeps sqlite_master plus PRAGMA table_info.
// The result is what gets captured into source_schemas for SQL generation.
func IntrospectSchema(ctx context.Context, db *sql.DB, dialect string) ([]models.TableSchema, error) {
	switch dialect {
	case database.DialectPostgres:
		return introspectPostgres(ctx, db)
	case database.DialectSQLite:
		return introspectSQLite(ctx, db)
	default:
		return nil, fmt.Errorf("no schema introspection for dialect %q", dialect)
	}
}

func introspectPostgres(ctx context.Context, db *sql.DB) ([]models.TableSchema, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT c.table_name, c.column_name, c.data_type, c.is_nullable
		FROM information_schema.columns c
		JOIN information_schema.tables t
			ON t.table_schema = c.table_schema AND t.table_name = c.table_name
		WHERE c.table_schema = 'public' AND t.table_type = 'BASE TABLE'
		ORDER BY c.table_name, c.ordinal_position`)
	if err != nil {
		return nil, fmt.Errorf("read information_schema: %w", err)
	}
	defer rows.Close()

	var tables []models.TableSchema
	for rows.Next() {
		var tableName, columnName, dataType, isNullable string
		if err := rows.Scan(&tableName, &columnName, &dataType, &isNullable); err != nil {
			return nil, err
		}
		if len(tables) == 0 || tables[len(tables)-1].Name != tableName {
			tables = append(tables, models.TableSchema{Name: tableName})
		}
		last := &tables[len(tables)-1]
		last.Columns = append(last.Columns, models.ColumnSchema{
			Name:     columnName,
			DataType: dataType,
			Nullable: isNullable == "YES",
		})
	}
	return tables, rows.Err()
}

func introspectSQLite(ctx context.Context, db *sql.DB) ([]models.TableSchema, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT name FROM sqlite_master
		WHERE type = 'table' AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("read sqlite_master: %w", err)
	}

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tables := make([]models.TableSchema, 0, len(names))
	for _, name := range names {
		columns, err := sqliteColumns(ctx, db, name)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", name, err)
		}
		tables = append(tables, models.TableSchema{Name: name, Columns: columns})
	}
	return tables, nil
}

// sqliteColumns reads PRAGMA table_info for one table. PRAGMA takes no
// placeholders, so the identifier is quoted by hand.
func sqliteColumns(ctx context.Context, db *sql.DB, table string) ([]models.ColumnSchema, error) {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+quoteIdent(table)+")")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var columns []models.ColumnSchema
	for rows.Next() {
		var (
			cid      int
			name     string
			dataType string
			notNull  int
			dflt     sql.NullString
			pk       int
		)
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		columns = append(columns, models.ColumnSchema{
			Name:     name,
			DataType: dataType,
			Nullable: notNull == 0 && pk == 0,
		})
	}
	return columns, rows.Err()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

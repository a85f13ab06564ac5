// cmd/tools/source-admin/main.go
//
// source-admin maintains the data source registry from the command line.
// The ingestion service owns the registry in production; this tool exists
// for local development and for operators seeding a fresh environment.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"insight-pipeline/internal/common/config"
	"insight-pipeline/internal/common/database"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
	"insight-pipeline/internal/registry"
)

func main() {
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)
	schemaCmd := flag.NewFlagSet("schema", flag.ExitOnError)
	loadSchemaCmd := flag.NewFlagSet("load-schema", flag.ExitOnError)
	introspectCmd := flag.NewFlagSet("introspect", flag.ExitOnError)
	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)

	// Add command flags
	workspace := addCmd.String("workspace", "", "Workspace ID the source belongs to")
	name := addCmd.String("name", "", "Source display name")
	kind := addCmd.String("kind", "", "Source kind (database, file, api_endpoint, url)")
	summary := addCmd.String("summary", "", "Content summary used for discovery ranking")
	dialect := addCmd.String("dialect", "", "SQL dialect for database sources (postgres, sqlite)")
	dsn := addCmd.String("dsn", "", "Connection string for database sources")
	tables := addCmd.String("tables", "", "Comma-separated table allowlist for database sources")
	filePath := addCmd.String("file", "", "Path on disk for file sources")
	endpoint := addCmd.String("endpoint", "", "URL for api_endpoint and url sources")

	// List command flags
	listWorkspace := listCmd.String("workspace", "", "Workspace ID to list")

	// Schema command flags
	schemaSource := schemaCmd.String("source", "", "Source ID to show the stored schema for")

	// Load-schema command flags
	loadSource := loadSchemaCmd.String("source", "", "Source ID to store the schema for")
	loadDialect := loadSchemaCmd.String("dialect", "postgres", "SQL dialect of the schema")
	loadFile := loadSchemaCmd.String("file", "", "Path to a JSON file holding the table schemas")

	// Introspect command flags
	introspectSrc := introspectCmd.String("source", "", "Database source ID to read the live schema from")

	// Check command flags
	checkSource := checkCmd.String("source", "", "Source ID whose connection config to verify")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "add":
		addCmd.Parse(os.Args[2:])
		if *workspace == "" || *name == "" || *kind == "" {
			fmt.Println("Error: workspace, name, and kind are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		id, err := addSource(*workspace, *name, *kind, *summary, *dialect, *dsn, *tables, *filePath, *endpoint)
		if err != nil {
			fmt.Printf("Error adding source: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added source %s (%s)\n", id, *name)

	case "list":
		listCmd.Parse(os.Args[2:])
		if *listWorkspace == "" {
			fmt.Println("Error: workspace is required for list.")
			listCmd.Usage()
			os.Exit(1)
		}
		if err := listSources(*listWorkspace); err != nil {
			fmt.Printf("Error listing sources: %v\n", err)
			os.Exit(1)
		}

	case "schema":
		schemaCmd.Parse(os.Args[2:])
		if *schemaSource == "" {
			fmt.Println("Error: source is required for schema.")
			schemaCmd.Usage()
			os.Exit(1)
		}
		if err := showSchema(*schemaSource); err != nil {
			fmt.Printf("Error reading schema: %v\n", err)
			os.Exit(1)
		}

	case "load-schema":
		loadSchemaCmd.Parse(os.Args[2:])
		if *loadSource == "" || *loadFile == "" {
			fmt.Println("Error: source and file are required for load-schema.")
			loadSchemaCmd.Usage()
			os.Exit(1)
		}
		count, err := loadSchema(*loadSource, *loadDialect, *loadFile)
		if err != nil {
			fmt.Printf("Error loading schema: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Stored schema for %s: %d tables\n", *loadSource, count)

	case "introspect":
		introspectCmd.Parse(os.Args[2:])
		if *introspectSrc == "" {
			fmt.Println("Error: source is required for introspect.")
			introspectCmd.Usage()
			os.Exit(1)
		}
		count, err := introspectSource(*introspectSrc)
		if err != nil {
			fmt.Printf("Error introspecting source: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Captured schema for %s: %d tables\n", *introspectSrc, count)

	case "check":
		checkCmd.Parse(os.Args[2:])
		if *checkSource == "" {
			fmt.Println("Error: source is required for check.")
			checkCmd.Usage()
			os.Exit(1)
		}
		if err := checkSourceConfig(*checkSource); err != nil {
			fmt.Printf("Check failed: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

// open loads the application config and connects to the registry database.
func open() (*config.Config, *database.PostgresClient, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	return cfg, pg, nil
}

func encryptionKey(cfg *config.Config) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(cfg.Sources.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("sources.encryption_key is not valid base64: %w", err)
	}
	return key, nil
}

func addSource(workspace, name, kind, summary, dialect, dsn, tables, filePath, endpoint string) (string, error) {
	sourceKind := models.SourceKind(kind)
	var encryptedConfig string

	switch sourceKind {
	case models.SourceKindDatabase:
		if dialect == "" || dsn == "" {
			return "", fmt.Errorf("database sources need -dialect and -dsn")
		}
	case models.SourceKindFile:
		if filePath == "" {
			return "", fmt.Errorf("file sources need -file")
		}
	case models.SourceKindAPIEndpoint, models.SourceKindURL:
		if endpoint == "" {
			return "", fmt.Errorf("%s sources need -endpoint", kind)
		}
	default:
		return "", fmt.Errorf("unknown source kind: %s", kind)
	}

	cfg, pg, err := open()
	if err != nil {
		return "", err
	}
	defer pg.Close()

	if sourceKind == models.SourceKindDatabase {
		key, err := encryptionKey(cfg)
		if err != nil {
			return "", err
		}
		connConfig := registry.ConnectionConfig{
			Dialect: dialect,
			DSN:     dsn,
		}
		if tables != "" {
			for _, t := range strings.Split(tables, ",") {
				if trimmed := strings.TrimSpace(t); trimmed != "" {
					connConfig.Tables = append(connConfig.Tables, trimmed)
				}
			}
		}
		payload, err := json.Marshal(connConfig)
		if err != nil {
			return "", fmt.Errorf("encode connection config: %w", err)
		}
		encryptedConfig, err = registry.Encrypt(key, payload)
		if err != nil {
			return "", fmt.Errorf("encrypt connection config: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	id := uuid.New().String()
	_, err = pg.DB.ExecContext(ctx, `
		INSERT INTO data_sources
			(id, workspace_id, name, kind, status, ai_summary, encrypted_config, file_path, endpoint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())`,
		id, workspace, name, string(sourceKind), string(models.SourceStatusReady),
		summary, encryptedConfig, filePath, endpoint,
	)
	if err != nil {
		return "", fmt.Errorf("insert source: %w", err)
	}
	return id, nil
}

func listSources(workspace string) error {
	_, pg, err := open()
	if err != nil {
		return err
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := registry.NewPostgresStore(pg.DB, logger.NewNoOpLogger())
	sources, err := store.ListReady(ctx, workspace)
	if err != nil {
		return err
	}

	if len(sources) == 0 {
		fmt.Printf("No ready sources in workspace %s.\n", workspace)
		return nil
	}

	fmt.Printf("%-38s %-14s %-10s %s\n", "ID", "KIND", "STATUS", "NAME")
	for _, src := range sources {
		fmt.Printf("%-38s %-14s %-10s %s\n", src.ID, src.Kind, src.Status, src.Name)
	}
	fmt.Printf("%d sources.\n", len(sources))
	return nil
}

func showSchema(sourceID string) error {
	_, pg, err := open()
	if err != nil {
		return err
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := registry.NewPostgresStore(pg.DB, logger.NewNoOpLogger())
	schema, err := store.GetSchema(ctx, sourceID)
	if err != nil {
		return err
	}

	fmt.Printf("Source %s (%s): %d tables\n", schema.SourceID, schema.Dialect, len(schema.Tables))
	for _, table := range schema.Tables {
		fmt.Printf("  %s\n", table.Name)
		for _, col := range table.Columns {
			nullable := "not null"
			if col.Nullable {
				nullable = "nullable"
			}
			fmt.Printf("    %-28s %-12s %s\n", col.Name, col.DataType, nullable)
		}
	}
	return nil
}

func loadSchema(sourceID, dialect, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read schema file: %w", err)
	}

	var schemaTables []models.TableSchema
	if err := json.Unmarshal(data, &schemaTables); err != nil {
		return 0, fmt.Errorf("parse schema file: %w", err)
	}
	if len(schemaTables) == 0 {
		return 0, fmt.Errorf("schema file holds no tables")
	}

	_, pg, err := open()
	if err != nil {
		return 0, err
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := storeSchema(ctx, pg, sourceID, dialect, schemaTables); err != nil {
		return 0, err
	}
	return len(schemaTables), nil
}

// introspectSource connects to a registered database source and captures its
// live schema into the registry, replacing whatever was stored before.
func introspectSource(sourceID string) (int, error) {
	cfg, pg, err := open()
	if err != nil {
		return 0, err
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := registry.NewPostgresStore(pg.DB, logger.NewNoOpLogger())
	src, err := store.Get(ctx, sourceID)
	if err != nil {
		return 0, err
	}
	if src.Kind != models.SourceKindDatabase {
		return 0, fmt.Errorf("source %s is a %s source, nothing to introspect", sourceID, src.Kind)
	}

	key, err := encryptionKey(cfg)
	if err != nil {
		return 0, err
	}
	decryptor, err := registry.NewAESDecryptor(key)
	if err != nil {
		return 0, err
	}
	connConfig, err := registry.DecryptConnectionConfig(decryptor, src.EncryptedConfig)
	if err != nil {
		return 0, fmt.Errorf("decrypt connection config: %w", err)
	}

	db, err := database.OpenSource(connConfig.Dialect, connConfig.DSN)
	if err != nil {
		return 0, fmt.Errorf("connect to source: %w", err)
	}
	defer db.Close()

	schemaTables, err := registry.IntrospectSchema(ctx, db, connConfig.Dialect)
	if err != nil {
		return 0, err
	}
	if len(schemaTables) == 0 {
		return 0, fmt.Errorf("source database has no tables")
	}

	if err := storeSchema(ctx, pg, sourceID, connConfig.Dialect, schemaTables); err != nil {
		return 0, err
	}
	return len(schemaTables), nil
}

func storeSchema(ctx context.Context, pg *database.PostgresClient, sourceID, dialect string, tables []models.TableSchema) error {
	// Re-marshal so only known fields reach the database
	schemaJSON, err := json.Marshal(tables)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}

	_, err = pg.DB.ExecContext(ctx, `
		INSERT INTO source_schemas (source_id, dialect, schema_json, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source_id)
		DO UPDATE SET dialect = EXCLUDED.dialect, schema_json = EXCLUDED.schema_json, updated_at = now()`,
		sourceID, dialect, schemaJSON,
	)
	if err != nil {
		return fmt.Errorf("store schema: %w", err)
	}
	return nil
}

// checkSourceConfig verifies the configured encryption key can open a stored
// connection config. The DSN itself is never printed.
func checkSourceConfig(sourceID string) error {
	cfg, pg, err := open()
	if err != nil {
		return err
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := registry.NewPostgresStore(pg.DB, logger.NewNoOpLogger())
	src, err := store.Get(ctx, sourceID)
	if err != nil {
		return err
	}
	if src.Kind != models.SourceKindDatabase {
		return fmt.Errorf("source %s is a %s source, nothing to decrypt", sourceID, src.Kind)
	}

	key, err := encryptionKey(cfg)
	if err != nil {
		return err
	}
	decryptor, err := registry.NewAESDecryptor(key)
	if err != nil {
		return err
	}

	connConfig, err := registry.DecryptConnectionConfig(decryptor, src.EncryptedConfig)
	if err != nil {
		return fmt.Errorf("decrypt connection config: %w", err)
	}

	fmt.Printf("Source %s decrypts cleanly: dialect=%s", sourceID, connConfig.Dialect)
	if len(connConfig.Tables) > 0 {
		fmt.Printf(", allowlist=%s", strings.Join(connConfig.Tables, ","))
	}
	fmt.Println()
	return nil
}

func help() {
	fmt.Print(`
Usage: source-admin <command> [flags]

Commands:
  add         Register a data source in a workspace
  list        List the ready sources in a workspace
  schema      Show the stored schema for a database source
  load-schema Store a schema JSON file for a database source
  introspect  Capture the live schema of a database source into the registry
  check       Verify the encryption key opens a source's connection config
  help        Show this help message

Examples:
  source-admin add -workspace ws-1 -name "Donations DB" -kind database -dialect postgres -dsn "host=db user=app dbname=donations" -tables donations,donors -summary "Donation amounts by city and campaign"
  source-admin add -workspace ws-1 -name "Campaign spreadsheet" -kind file -file /data/uploads/campaigns.xlsx
  source-admin list -workspace ws-1
  source-admin load-schema -source 6f1a... -dialect postgres -file schema.json
  source-admin introspect -source 6f1a...
  source-admin check -source 6f1a...

Use 'source-admin <command> -h' for more information about a command.

`)
}

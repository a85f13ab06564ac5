// internal/models/source.go
package models

// SourceKind enumerates the supported data source varieties.
type SourceKind string

const (
	SourceKindDatabase    SourceKind = "database"
	SourceKindFile        SourceKind = "file"
	SourceKindURL         SourceKind = "url"
	SourceKindGoogleDocs  SourceKind = "google_docs"
	SourceKindAPIEndpoint SourceKind = "api_endpoint"
)

// SourceStatus tracks ingestion state in the registry. Only ready sources are
// discoverable.
type SourceStatus string

const (
	SourceStatusReady      SourceStatus = "ready"
	SourceStatusProcessing SourceStatus = "processing"
	SourceStatusFailed     SourceStatus = "failed"
)

// DataSource is a registry record for one connected source.
type DataSource struct {
	ID          string       `json:"id"`
	WorkspaceID string       `json:"workspaceId"`
	Name        string       `json:"name"`
	Kind        SourceKind   `json:"kind"`
	Status      SourceStatus `json:"status"`
	AISummary   string       `json:"aiSummary,omitempty"`
	// EncryptedConfig carries connection details; decryption happens inside
	// the execution coordinator, config never leaves it in clear.
	EncryptedConfig string `json:"-"`
	// FilePath is set for uploaded file sources.
	FilePath string `json:"filePath,omitempty"`
	// Endpoint is set for api_endpoint and url sources.
	Endpoint string `json:"endpoint,omitempty"`
}

// DataSourceCandidate is a source considered for the current query. Candidates
// are built fresh per request and never persisted.
type DataSourceCandidate struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Kind            SourceKind `json:"kind"`
	AISummary       string     `json:"aiSummary,omitempty"`
	Embedding       []float64  `json:"-"`
	ConfidenceScore float64    `json:"confidenceScore"`
	RelevanceScore  float64    `json:"relevanceScore"`
}

// TableSchema describes one table of a captured database schema.
type TableSchema struct {
	Name    string         `json:"name"`
	Columns []ColumnSchema `json:"columns"`
}

// ColumnSchema describes one column.
type ColumnSchema struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable"`
}

// SourceSchema is the captured schema for a database source.
type SourceSchema struct {
	SourceID string        `json:"sourceId"`
	Dialect  string        `json:"dialect"`
	Tables   []TableSchema `json:"tables"`
}

// TableNames returns the table names in schema order.
func (s *SourceSchema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, t := range s.Tables {
		names = append(names, t.Name)
	}
	return names
}

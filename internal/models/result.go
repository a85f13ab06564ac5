// internal/models/result.go
package models

// Row is one opaque record returned by a source.
type Row map[string]interface{}

// DatabaseDetails carries database-specific execution facts.
type DatabaseDetails struct {
	SQL              string `json:"sql"`
	Dialect          string `json:"dialect"`
	RowCount         int    `json:"rowCount"`
	UsedFallbackSQL  bool   `json:"usedFallbackSql,omitempty"`
	UnfilteredSchema bool   `json:"unfilteredSchema,omitempty"`
}

// APIDetails carries API-specific execution facts.
type APIDetails struct {
	Endpoint   string `json:"endpoint"`
	StatusCode int    `json:"statusCode"`
}

// FileDetails carries file-specific execution facts.
type FileDetails struct {
	FileName string `json:"fileName"`
	Sheet    string `json:"sheet,omitempty"`
	RowCount int    `json:"rowCount"`
}

// SourceExecutionResult is the common envelope for every planned source,
// failures included. Exactly one of Database, API, File is set, matching Kind.
type SourceExecutionResult struct {
	SourceID        string     `json:"sourceId"`
	SourceName      string     `json:"sourceName"`
	Kind            SourceKind `json:"kind"`
	Success         bool       `json:"success"`
	Data            []Row      `json:"data,omitempty"`
	ErrorCode       string     `json:"errorCode,omitempty"`
	Error           string     `json:"error,omitempty"`
	ExecutionTimeMS int64      `json:"executionTimeMs"`
	TokensUsed      int        `json:"tokensUsed"`
	ConfidenceScore float64    `json:"confidenceScore"`

	Database *DatabaseDetails `json:"database,omitempty"`
	API      *APIDetails      `json:"api,omitempty"`
	File     *FileDetails     `json:"file,omitempty"`
}

// AnySucceeded reports whether at least one result carries usable data.
func AnySucceeded(results []SourceExecutionResult) bool {
	for _, r := range results {
		if r.Success {
			return true
		}
	}
	return false
}

// SucceededCount returns how many results succeeded.
func SucceededCount(results []SourceExecutionResult) int {
	n := 0
	for _, r := range results {
		if r.Success {
			n++
		}
	}
	return n
}

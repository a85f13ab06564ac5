// internal/collab/events.go
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/google/uuid"

	"insight-pipeline/internal/common/logger"
)

// QueryEvent records that a query ran against a source, for drift and
// usage monitoring. Purely observational.
type QueryEvent struct {
	RequestID   string    `json:"request_id"`
	WorkspaceID string    `json:"workspace_id"`
	SourceID    string    `json:"source_id,omitempty"`
	SourceKind  string    `json:"source_kind,omitempty"`
	Stage       string    `json:"stage"`
	Succeeded   bool      `json:"succeeded"`
	ErrorCode   string    `json:"error_code,omitempty"`
	DurationMS  int64     `json:"duration_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventSink receives query events. Write failures are the caller's to log;
// the pipeline result never depends on them.
type EventSink interface {
	RecordQueryEvent(ctx context.Context, event *QueryEvent) error
}

// ESEventSink indexes query events into Elasticsearch.
type ESEventSink struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewESEventSink(client *elasticsearch.Client, index string, log logger.Logger) *ESEventSink {
	if index == "" {
		index = "pipeline-usage"
	}
	return &ESEventSink{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "event-sink"}),
	}
}

func (s *ESEventSink) RecordQueryEvent(ctx context.Context, event *QueryEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal query event: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      s.index,
		DocumentID: uuid.New().String(),
		Body:       strings.NewReader(string(body)),
	}

	res, err := req.Do(ctx, s.client)
	if err != nil {
		return fmt.Errorf("index query event: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index query event: %s", res.Status())
	}
	return nil
}

// NoopEventSink drops events. Used when monitoring is disabled.
type NoopEventSink struct{}

func (NoopEventSink) RecordQueryEvent(ctx context.Context, event *QueryEvent) error {
	return nil
}

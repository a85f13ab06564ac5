// internal/collab/events_test.go
package collab

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insight-pipeline/internal/common/logger"
)

// newTestESServer fakes the Elasticsearch index endpoint. The product
// header is required by the v8 client's compatibility check.
func newTestESServer(t *testing.T, status int, captured *[]QueryEvent) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")

		if r.Method == http.MethodPut || r.Method == http.MethodPost {
			body, _ := io.ReadAll(r.Body)
			var event QueryEvent
			if err := json.Unmarshal(body, &event); err == nil {
				*captured = append(*captured, event)
			}
			w.WriteHeader(status)
			w.Write([]byte(`{"result":"created"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		w.Write([]byte("{}"))
	}))
}

func TestESEventSink_RecordQueryEvent(t *testing.T) {
	var captured []QueryEvent
	server := newTestESServer(t, http.StatusCreated, &captured)
	defer server.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)

	sink := NewESEventSink(client, "pipeline-usage", logger.NewTestLogger(t))

	err = sink.RecordQueryEvent(context.Background(), &QueryEvent{
		RequestID:   "req-1",
		WorkspaceID: "ws-1",
		SourceID:    "src-1",
		SourceKind:  "database",
		Stage:       "execution",
		Succeeded:   true,
		DurationMS:  120,
	})

	require.NoError(t, err)
	require.Len(t, captured, 1)
	assert.Equal(t, "req-1", captured[0].RequestID)
	assert.Equal(t, "execution", captured[0].Stage)
	assert.True(t, captured[0].Succeeded)
	assert.False(t, captured[0].Timestamp.IsZero())
}

func TestESEventSink_IndexError(t *testing.T) {
	var captured []QueryEvent
	server := newTestESServer(t, http.StatusInternalServerError, &captured)
	defer server.Close()

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{server.URL}})
	require.NoError(t, err)

	sink := NewESEventSink(client, "pipeline-usage", logger.NewTestLogger(t))

	err = sink.RecordQueryEvent(context.Background(), &QueryEvent{RequestID: "req-1", Stage: "execution"})
	assert.Error(t, err)
}

func TestESEventSink_DefaultIndex(t *testing.T) {
	sink := NewESEventSink(nil, "", logger.NewNoOpLogger())
	assert.Equal(t, "pipeline-usage", sink.index)
}

func TestNoopEventSink(t *testing.T) {
	var sink NoopEventSink
	assert.NoError(t, sink.RecordQueryEvent(context.Background(), &QueryEvent{}))
}

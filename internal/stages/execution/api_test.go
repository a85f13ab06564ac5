package execution

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineerrors "insight-pipeline/internal/common/errors"
	pipelinehttp "insight-pipeline/internal/common/http"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
)

func apiStore(endpoint string) *stubStore {
	return &stubStore{
		sources: map[string]*models.DataSource{
			"src-api": {
				ID:          "src-api",
				WorkspaceID: "ws-1",
				Name:        "CRM API",
				Kind:        models.SourceKindAPIEndpoint,
				Status:      models.SourceStatusReady,
				Endpoint:    endpoint,
			},
		},
	}
}

func apiSource() models.RankedSource {
	return plannedSource("src-api", models.SourceKindAPIEndpoint, 1)
}

func newAPICoordinator(t *testing.T, store *stubStore) *APICoordinator {
	t.Helper()
	return NewAPICoordinator(LoadConfig(), store, pipelinehttp.NewClient(5*time.Second), logger.NewTestLogger(t))
}

// ==========================
// Payload Shape Tests
// ==========================

func TestAPICoordinator_Execute_ArrayPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"donor": "A", "total": 120}, {"donor": "B", "total": 80}]`))
	}))
	defer server.Close()

	coordinator := newAPICoordinator(t, apiStore(server.URL))

	result := coordinator.Execute(context.Background(), testQuery(), apiSource())

	require.True(t, result.Success)
	require.Len(t, result.Data, 2)
	assert.Equal(t, "A", result.Data[0]["donor"])
	require.NotNil(t, result.API)
	assert.Equal(t, server.URL, result.API.Endpoint)
	assert.Equal(t, http.StatusOK, result.API.StatusCode)
	assert.Zero(t, result.TokensUsed)
}

func TestAPICoordinator_Execute_WrappedDataPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": [{"id": 1}, {"id": 2}, {"id": 3}], "page": 1}`))
	}))
	defer server.Close()

	coordinator := newAPICoordinator(t, apiStore(server.URL))

	result := coordinator.Execute(context.Background(), testQuery(), apiSource())

	require.True(t, result.Success)
	assert.Len(t, result.Data, 3)
}

func TestAPICoordinator_Execute_SingleObjectPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"total_donors": 412, "active": 390}`))
	}))
	defer server.Close()

	coordinator := newAPICoordinator(t, apiStore(server.URL))

	result := coordinator.Execute(context.Background(), testQuery(), apiSource())

	require.True(t, result.Success)
	require.Len(t, result.Data, 1)
	assert.EqualValues(t, 412, result.Data[0]["total_donors"])
}

func TestAPICoordinator_Execute_RowCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id": 1}, {"id": 2}, {"id": 3}]`))
	}))
	defer server.Close()

	config := LoadConfig()
	config.MaxRows = 2
	coordinator := NewAPICoordinator(config, apiStore(server.URL), pipelinehttp.NewClient(5*time.Second), logger.NewTestLogger(t))

	result := coordinator.Execute(context.Background(), testQuery(), apiSource())

	require.True(t, result.Success)
	assert.Len(t, result.Data, 2)
}

// ==========================
// Failure Isolation Tests
// ==========================

func TestAPICoordinator_Execute_ErrorStatusEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	}))
	defer server.Close()

	coordinator := newAPICoordinator(t, apiStore(server.URL))

	result := coordinator.Execute(context.Background(), testQuery(), apiSource())

	assert.False(t, result.Success)
	assert.Equal(t, string(pipelineerrors.ErrCodeSourceExecutionFailed), result.ErrorCode)
	require.NotNil(t, result.API)
	assert.Equal(t, http.StatusInternalServerError, result.API.StatusCode)
}

func TestAPICoordinator_Execute_UnreachableEndpointEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := server.URL
	server.Close()

	coordinator := newAPICoordinator(t, apiStore(endpoint))

	result := coordinator.Execute(context.Background(), testQuery(), apiSource())

	assert.False(t, result.Success)
	assert.Equal(t, string(pipelineerrors.ErrCodeSourceExecutionFailed), result.ErrorCode)
	assert.Equal(t, "endpoint unreachable", result.Error)
}

func TestAPICoordinator_Execute_MalformedPayloadEnvelope(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	coordinator := newAPICoordinator(t, apiStore(server.URL))

	result := coordinator.Execute(context.Background(), testQuery(), apiSource())

	assert.False(t, result.Success)
	assert.Equal(t, "endpoint response unreadable", result.Error)
}

func TestAPICoordinator_Execute_MissingEndpointEnvelope(t *testing.T) {
	coordinator := newAPICoordinator(t, apiStore(""))

	result := coordinator.Execute(context.Background(), testQuery(), apiSource())

	assert.False(t, result.Success)
	assert.Equal(t, "source has no endpoint configured", result.Error)
}

func TestAPICoordinator_Execute_UnknownSourceEnvelope(t *testing.T) {
	coordinator := newAPICoordinator(t, &stubStore{})

	result := coordinator.Execute(context.Background(), testQuery(), apiSource())

	assert.False(t, result.Success)
	assert.Equal(t, string(pipelineerrors.ErrCodeRegistryLookupFailed), result.ErrorCode)
}

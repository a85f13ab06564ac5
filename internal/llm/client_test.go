// internal/llm/client_test.go
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"insight-pipeline/internal/common/logger"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:     "http://localhost:8080",
		Model:       "test-model",
		Temperature: 0.2,
		MaxTokens:   500,
		Timeout:     5 * time.Second,
		MaxRetries:  1,
	}
}

func createCompletionAPIResponse(content string, tokens int) string {
	response := map[string]interface{}{
		"content": content,
		"usage": map[string]interface{}{
			"total_tokens": tokens,
		},
	}
	data, _ := json.Marshal(response)
	return string(data)
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHTTPClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/ai/complete", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)
		assert.Equal(t, "test-model", reqBody["model"])
		assert.NotEmpty(t, reqBody["messages"])
		assert.Equal(t, float64(500), reqBody["max_tokens"])
		assert.Equal(t, true, reqBody["json_mode"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(createCompletionAPIResponse(`{"ok":true}`, 42)))
	}))
	defer server.Close()

	config := createTestClientConfig()
	config.BaseURL = server.URL
	client := NewHTTPClient(config, logger.NewTestLogger(t))

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{
			{Role: RoleSystem, Content: "You classify messages."},
			{Role: RoleUser, Content: "hello"},
		},
		JSONMode: true,
	})

	assert.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, `{"ok":true}`, resp.Content)
	assert.Equal(t, 42, resp.TokensUsed)
}

func TestHTTPClient_Complete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			return
		case <-time.After(10 * time.Second):
			return
		}
	}))
	defer server.Close()

	config := createTestClientConfig()
	config.BaseURL = server.URL
	config.Timeout = 50 * time.Millisecond
	client := NewHTTPClient(config, logger.NewTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Complete(ctx, &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "test"}},
	})

	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "Expected LLM_TIMEOUT, got: %v", err)
	assert.Nil(t, resp)
}

func TestHTTPClient_Complete_APIError(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"Internal Server Error", http.StatusInternalServerError},
		{"Bad Gateway", http.StatusBadGateway},
		{"Service Unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			config := createTestClientConfig()
			config.BaseURL = server.URL
			client := NewHTTPClient(config, logger.NewTestLogger(t))

			resp, err := client.Complete(context.Background(), &CompletionRequest{
				Messages: []Message{{Role: RoleUser, Content: "test"}},
			})

			assert.Error(t, err)
			assert.True(t, errors.Is(err, ErrCallFailed))
			assert.Nil(t, resp)
		})
	}
}

func TestHTTPClient_Complete_RetryLogic(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		// Each attempt must carry a full request body
		var reqBody map[string]interface{}
		json.NewDecoder(r.Body).Decode(&reqBody)
		assert.NotEmpty(t, reqBody["messages"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(createCompletionAPIResponse("Success after retry", 10)))
	}))
	defer server.Close()

	config := createTestClientConfig()
	config.BaseURL = server.URL
	config.MaxRetries = 2
	client := NewHTTPClient(config, logger.NewTestLogger(t))

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "test"}},
	})

	assert.NoError(t, err)
	assert.NotNil(t, resp)
	assert.Equal(t, "Success after retry", resp.Content)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestHTTPClient_Complete_MalformedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("invalid json {{{"))
	}))
	defer server.Close()

	config := createTestClientConfig()
	config.BaseURL = server.URL
	client := NewHTTPClient(config, logger.NewTestLogger(t))

	resp, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "test"}},
	})

	assert.Error(t, err)
	assert.True(t, errors.Is(err, ErrCallFailed))
	assert.Nil(t, resp)
}

func TestHTTPClient_Complete_AuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(createCompletionAPIResponse("ok", 1)))
	}))
	defer server.Close()

	config := createTestClientConfig()
	config.BaseURL = server.URL
	config.APIKey = "secret-key"
	client := NewHTTPClient(config, logger.NewTestLogger(t))

	_, err := client.Complete(context.Background(), &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "test"}},
	})
	assert.NoError(t, err)
}

// ==========================
// Benchmark Tests
// ==========================

func BenchmarkHTTPClient_Complete(b *testing.B) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(createCompletionAPIResponse("Test response", 8)))
	}))
	defer server.Close()

	config := createTestClientConfig()
	config.BaseURL = server.URL
	client := NewHTTPClient(config, logger.NewNoOpLogger())

	req := &CompletionRequest{
		Messages: []Message{{Role: RoleUser, Content: "benchmark"}},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		client.Complete(context.Background(), req)
	}
}

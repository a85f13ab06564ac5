// Package llm wraps the completion and embedding model services behind small
// interfaces so stages stay testable against fakes.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"insight-pipeline/internal/common/logger"
)

var (
	ErrCallFailed      = errors.New("LLM_CALL_FAILED")
	ErrTimeout         = errors.New("LLM_TIMEOUT")
	ErrMalformedOutput = errors.New("MALFORMED_MODEL_OUTPUT")
)

// Message roles accepted by the completion service.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the completion service.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest describes one completion call.
type CompletionRequest struct {
	Messages    []Message
	Temperature float64
	MaxTokens   int
	JSONMode    bool
}

// CompletionResponse is the service reply with its token bill.
type CompletionResponse struct {
	Content    string
	TokensUsed int
}

// Client is the completion service seen by pipeline stages.
type Client interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}

// ClientConfig holds the completion service connection settings.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// HTTPClient talks to the completion gateway over HTTP JSON.
type HTTPClient struct {
	config *ClientConfig
	client *http.Client
	logger logger.Logger
}

func NewHTTPClient(config *ClientConfig, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log.With(map[string]interface{}{
			"component": "llm-client",
		}),
	}
}

type completionWire struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	JSONMode    bool      `json:"json_mode"`
}

type completionWireResponse struct {
	Content string `json:"content"`
	Usage   struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete sends one completion request, retrying transient failures with
// exponential backoff. Context expiry maps to ErrTimeout.
func (c *HTTPClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	temperature := req.Temperature
	if temperature == 0 {
		temperature = c.config.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}

	body, err := json.Marshal(completionWire{
		Model:       c.config.Model,
		Messages:    req.Messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		JSONMode:    req.JSONMode,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ErrTimeout
			}
		}

		// Rebuild the request each attempt; the body reader is consumed.
		httpReq, reqErr := http.NewRequestWithContext(ctx, "POST", c.config.BaseURL+"/api/ai/complete", bytes.NewReader(body))
		if reqErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCallFailed, reqErr)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.config.APIKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
		}

		resp, lastErr = c.client.Do(httpReq)

		if ctx.Err() != nil ||
			errors.Is(lastErr, context.DeadlineExceeded) ||
			errors.Is(lastErr, context.Canceled) {
			return nil, ErrTimeout
		}

		if lastErr == nil {
			if resp.StatusCode == http.StatusOK {
				break
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			resp = nil
		}
	}

	if lastErr != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("%w: %v", ErrCallFailed, lastErr)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: no successful response after retries", ErrCallFailed)
	}
	defer resp.Body.Close()

	var wire completionWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrCallFailed, err)
	}

	c.logger.Debug("completion call finished", map[string]interface{}{
		"tokensUsed": wire.Usage.TotalTokens,
		"jsonMode":   req.JSONMode,
	})

	return &CompletionResponse{
		Content:    wire.Content,
		TokensUsed: wire.Usage.TotalTokens,
	}, nil
}

// internal/llm/embeddings.go
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

var ErrEmbeddingFailed = errors.New("EMBEDDING_FAILED")

// BatchResult carries the vectors for a batch call plus its token bill.
type BatchResult struct {
	Vectors    [][]float64
	TokensUsed int
}

// Embedder turns text into vectors. Embed returns the vector and the tokens
// billed for it; cached lookups bill zero.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, int, error)
	EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error)
}

// EmbedderConfig holds the embedding service connection settings.
type EmbedderConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Timeout    time.Duration
	BatchSize  int
	MaxRetries int
}

// HTTPEmbedder talks to the embedding gateway over HTTP JSON.
type HTTPEmbedder struct {
	config *EmbedderConfig
	client *http.Client
	logger logger.Logger
}

func NewHTTPEmbedder(config *EmbedderConfig, log logger.Logger) *HTTPEmbedder {
	if config.BatchSize <= 0 {
		config.BatchSize = 64
	}
	return &HTTPEmbedder{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		logger: log.With(map[string]interface{}{
			"component": "embedder",
		}),
	}
}

// Embed embeds a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float64, int, error) {
	batch, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, 0, err
	}
	if len(batch.Vectors) != 1 {
		return nil, 0, fmt.Errorf("%w: expected 1 vector, got %d", ErrEmbeddingFailed, len(batch.Vectors))
	}
	return batch.Vectors[0], batch.TokensUsed, nil
}

// EmbedBatch embeds texts in service-sized chunks, preserving input order.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) (*BatchResult, error) {
	if len(texts) == 0 {
		return &BatchResult{}, nil
	}

	result := &BatchResult{Vectors: make([][]float64, 0, len(texts))}
	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := start + e.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		chunk, err := e.embedChunk(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		result.Vectors = append(result.Vectors, chunk.Vectors...)
		result.TokensUsed += chunk.TokensUsed
	}

	if len(result.Vectors) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d vectors, got %d", ErrEmbeddingFailed, len(texts), len(result.Vectors))
	}
	return result, nil
}

type embeddingWireResponse struct {
	Vectors [][]float64 `json:"vectors"`
	Usage   struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (e *HTTPEmbedder) embedChunk(ctx context.Context, texts []string) (*BatchResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"model": e.config.Model,
		"input": texts,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	var resp *http.Response
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(100*(1<<(attempt-1))) * time.Millisecond
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, ctx.Err())
			}
		}

		req, reqErr := http.NewRequestWithContext(ctx, "POST", e.config.BaseURL+"/api/ai/embeddings", bytes.NewReader(body))
		if reqErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, reqErr)
		}
		req.Header.Set("Content-Type", "application/json")
		if e.config.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
		}

		resp, lastErr = e.client.Do(req)

		if ctx.Err() != nil ||
			errors.Is(lastErr, context.DeadlineExceeded) ||
			errors.Is(lastErr, context.Canceled) {
			return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, context.Cause(ctx))
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
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, lastErr)
	}
	if resp == nil {
		return nil, fmt.Errorf("%w: no successful response after retries", ErrEmbeddingFailed)
	}
	defer resp.Body.Close()

	var wire embeddingWireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: decode error: %v", ErrEmbeddingFailed, err)
	}

	return &BatchResult{Vectors: wire.Vectors, TokensUsed: wire.Usage.TotalTokens}, nil
}

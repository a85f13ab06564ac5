// internal/stages/execution/api.go
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	pipelineerrors "insight-pipeline/internal/common/errors"
	pipelinehttp "insight-pipeline/internal/common/http"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
	"insight-pipeline/internal/registry"
)

// APICoordinator pulls rows from a connected JSON endpoint. One source's
// flaky API stays that source's problem: every failure is an envelope, never
// an error.
type APICoordinator struct {
	config *Config
	store  registry.Store
	client *pipelinehttp.Client
	logger logger.Logger
}

func NewAPICoordinator(config *Config, store registry.Store, client *pipelinehttp.Client, log logger.Logger) *APICoordinator {
	return &APICoordinator{
		config: config,
		store:  store,
		client: client,
		logger: log.With(map[string]interface{}{
			"coordinator": "api",
		}),
	}
}

func (c *APICoordinator) Execute(ctx context.Context, query *models.Query, source models.RankedSource) *models.SourceExecutionResult {
	record, err := c.store.Get(ctx, source.Candidate.ID)
	if err != nil {
		return FailureResult(source, pipelineerrors.ErrCodeRegistryLookupFailed, "source record unavailable")
	}
	if record.Endpoint == "" {
		return FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "source has no endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, record.Endpoint, nil)
	if err != nil {
		return FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "endpoint request could not be built")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("endpoint call failed", map[string]interface{}{
			"sourceId": source.Candidate.ID,
			"error":    err.Error(),
		})
		return FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "endpoint unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		result := FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed,
			fmt.Sprintf("endpoint returned status %d", resp.StatusCode))
		result.API = &models.APIDetails{Endpoint: record.Endpoint, StatusCode: resp.StatusCode}
		return result
	}

	data, err := decodeAPIRows(resp, c.config.MaxRows)
	if err != nil {
		result := FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "endpoint response unreadable")
		result.API = &models.APIDetails{Endpoint: record.Endpoint, StatusCode: resp.StatusCode}
		return result
	}

	return &models.SourceExecutionResult{
		SourceID:   source.Candidate.ID,
		SourceName: source.Candidate.Name,
		Kind:       source.Candidate.Kind,
		Success:    true,
		Data:       data,
		API:        &models.APIDetails{Endpoint: record.Endpoint, StatusCode: resp.StatusCode},
	}
}

// decodeAPIRows accepts the three response shapes seen in the wild: a bare
// array of objects, an object wrapping a data array, or a single object.
func decodeAPIRows(resp *http.Response, maxRows int) ([]models.Row, error) {
	var payload interface{}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	switch v := payload.(type) {
	case []interface{}:
		return rowsFromList(v, maxRows), nil
	case map[string]interface{}:
		if list, ok := v["data"].([]interface{}); ok {
			return rowsFromList(list, maxRows), nil
		}
		return []models.Row{models.Row(v)}, nil
	default:
		return nil, fmt.Errorf("unsupported payload shape %T", payload)
	}
}

func rowsFromList(list []interface{}, maxRows int) []models.Row {
	rows := make([]models.Row, 0, len(list))
	for _, item := range list {
		if maxRows > 0 && len(rows) >= maxRows {
			break
		}
		if obj, ok := item.(map[string]interface{}); ok {
			rows = append(rows, models.Row(obj))
		}
	}
	return rows
}

// Package execution runs the planned sources through their kind-specific
// coordinators. Every planned source yields exactly one result envelope, so
// a crashing database and a healthy spreadsheet land in the same slice and
// synthesis can explain both. Parallel plans fan out one goroutine per
// source behind a weighted semaphore and join on all of them.
package execution

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
)

const StageName = "execution"

var ErrEmptyPlan = errors.New("EMPTY_PLAN")

// Coordinator executes one planned source. Implementations never return an
// error: every failure is folded into the result envelope.
type Coordinator interface {
	Execute(ctx context.Context, query *models.Query, source models.RankedSource) *models.SourceExecutionResult
}

type Handler struct {
	config       *Config
	coordinators map[models.SourceKind]Coordinator
	logger       logger.Logger
}

func NewHandler(config *Config, coordinators map[models.SourceKind]Coordinator, log logger.Logger) *Handler {
	return &Handler{
		config:       config,
		coordinators: coordinators,
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if input.Plan == nil || len(input.Plan.Sources) == 0 {
		return nil, ErrEmptyPlan
	}

	var results []models.SourceExecutionResult
	if input.Plan.ProcessingStrategy == models.StrategyParallel {
		results = h.executeParallel(ctx, input.Query, input.Plan.Sources)
	} else {
		results = h.executeSerial(ctx, input.Query, input.Plan.Sources)
	}

	tokens := 0
	succeeded := 0
	for _, r := range results {
		tokens += r.TokensUsed
		if r.Success {
			succeeded++
		}
	}

	h.logger.Info("source execution finished", map[string]interface{}{
		"planned":   len(results),
		"succeeded": succeeded,
		"strategy":  string(input.Plan.ProcessingStrategy),
	})
	return &Output{Results: results, TokensUsed: tokens}, nil
}

// executeParallel starts one goroutine per planned source and waits for all
// of them. Results land in the slice at their plan position, so output order
// matches rank order regardless of completion order.
func (h *Handler) executeParallel(ctx context.Context, query *models.Query, sources []models.RankedSource) []models.SourceExecutionResult {
	results := make([]models.SourceExecutionResult, len(sources))
	sem := semaphore.NewWeighted(int64(h.config.MaxParallel))

	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func(i int, source models.RankedSource) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = *h.cancelledResult(source)
				return
			}
			defer sem.Release(1)
			results[i] = *h.executeOne(ctx, query, source)
		}(i, source)
	}
	wg.Wait()

	return results
}

// executeSerial runs sources one at a time in rank order. Cancellation marks
// every remaining source as failed instead of dropping it.
func (h *Handler) executeSerial(ctx context.Context, query *models.Query, sources []models.RankedSource) []models.SourceExecutionResult {
	results := make([]models.SourceExecutionResult, len(sources))
	for i, source := range sources {
		if ctx.Err() != nil {
			results[i] = *h.cancelledResult(source)
			continue
		}
		results[i] = *h.executeOne(ctx, query, source)
	}
	return results
}

func (h *Handler) executeOne(ctx context.Context, query *models.Query, source models.RankedSource) *models.SourceExecutionResult {
	coordinator, ok := h.coordinators[source.Candidate.Kind]
	if !ok {
		result := FailureResult(source, pipelineerrors.ErrCodeUnsupportedSourceKind, "no coordinator for source kind")
		h.logger.Warn("unsupported source kind", map[string]interface{}{
			"sourceId": source.Candidate.ID,
			"kind":     string(source.Candidate.Kind),
		})
		return result
	}

	sourceCtx, cancel := context.WithTimeout(ctx, h.config.SourceTimeout)
	defer cancel()

	start := time.Now()
	result := coordinator.Execute(sourceCtx, query, source)
	if result == nil {
		result = FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "coordinator returned no result")
	}

	// The handler owns the identity and timing fields of every envelope.
	result.SourceID = source.Candidate.ID
	result.SourceName = source.Candidate.Name
	result.Kind = source.Candidate.Kind
	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	if result.Success && result.ConfidenceScore == 0 {
		result.ConfidenceScore = source.Candidate.RelevanceScore
	}

	if !result.Success {
		h.logger.Warn("source execution failed", map[string]interface{}{
			"sourceId":  source.Candidate.ID,
			"errorCode": result.ErrorCode,
			"error":     result.Error,
		})
	}
	return result
}

func (h *Handler) cancelledResult(source models.RankedSource) *models.SourceExecutionResult {
	result := FailureResult(source, pipelineerrors.ErrCodeSourceExecutionFailed, "execution cancelled")
	return result
}

// FailureResult builds a failed envelope for a planned source. Shared by the
// coordinators so failures look the same regardless of source kind.
func FailureResult(source models.RankedSource, code pipelineerrors.ErrorCode, message string) *models.SourceExecutionResult {
	return &models.SourceExecutionResult{
		SourceID:   source.Candidate.ID,
		SourceName: source.Candidate.Name,
		Kind:       source.Candidate.Kind,
		Success:    false,
		ErrorCode:  string(code),
		Error:      message,
	}
}

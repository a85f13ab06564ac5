// Package ranking turns the discovered candidates into an execution plan: an
// order over the sources plus a processing strategy. The model proposes the
// plan; assembly guarantees the plan stays a permutation of the candidates
// with single_source as the conservative default whenever the proposal is
// unusable.
package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
)

const StageName = "ranking"

var ErrNoCandidates = errors.New("NO_CANDIDATES")

type Handler struct {
	config *Config
	client llm.Client
	logger logger.Logger
}

func NewHandler(config *Config, client llm.Client, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		client: client,
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	if len(input.Candidates) == 0 {
		return nil, ErrNoCandidates
	}

	resp, err := h.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You plan how to query data sources for a question. Respond with JSON only."},
			{Role: llm.RoleUser, Content: h.buildPrompt(input)},
		},
		Temperature: h.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		h.logger.Warn("ranking call failed, planning in discovery order", map[string]interface{}{
			"error": err.Error(),
		})
		return &Output{Plan: defaultPlan(input.Candidates)}, nil
	}

	var parsed planResult
	if err := llm.DecodeStrict(planSchema, resp.Content, &parsed); err != nil {
		h.logger.Warn("ranking output unparseable, planning in discovery order", map[string]interface{}{
			"error": err.Error(),
		})
		return &Output{Plan: defaultPlan(input.Candidates), TokensUsed: resp.TokensUsed}, nil
	}

	plan := h.assemble(input.Candidates, &parsed)

	h.logger.Info("execution plan built", map[string]interface{}{
		"sources":  len(plan.Sources),
		"strategy": string(plan.ProcessingStrategy),
	})
	return &Output{Plan: plan, TokensUsed: resp.TokensUsed}, nil
}

var planSchema = llm.ObjectSchema(map[string]interface{}{
	"ranked": map[string]interface{}{
		"type": "array",
		"items": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":        map[string]interface{}{"type": "string"},
				"rank":      map[string]interface{}{"type": "integer"},
				"priority":  map[string]interface{}{"type": "string"},
				"reasoning": map[string]interface{}{"type": "string"},
			},
			"required": []string{"id"},
		},
	},
	"processing_strategy":  map[string]interface{}{"type": "string"},
	"combination_approach": map[string]interface{}{"type": "string"},
	"reasoning":            map[string]interface{}{"type": "string"},
}, "ranked")

// assemble reconciles the model's proposal with the candidate set. Unknown
// IDs are dropped, candidates the model skipped are appended at the fallback
// rank in discovery order, and the final sort is stable so equal ranks keep
// proposal order.
func (h *Handler) assemble(candidates []models.DataSourceCandidate, parsed *planResult) *models.ExecutionPlan {
	byID := make(map[string]models.DataSourceCandidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	sources := make([]models.RankedSource, 0, len(candidates))
	for _, entry := range parsed.Ranked {
		candidate, ok := byID[entry.ID]
		if !ok {
			h.logger.Warn("ranking returned unknown source id, dropping", map[string]interface{}{
				"sourceId": entry.ID,
			})
			continue
		}
		rank := entry.Rank
		if rank <= 0 {
			rank = fallbackRank
		}
		sources = append(sources, models.RankedSource{
			Candidate: candidate,
			Rank:      rank,
			Priority:  normalizePriority(entry.Priority),
			Reasoning: entry.Reasoning,
		})
		delete(byID, entry.ID)
	}

	// Whatever the model skipped still executes, just last.
	for _, c := range candidates {
		if _, skipped := byID[c.ID]; skipped {
			sources = append(sources, models.RankedSource{
				Candidate: c,
				Rank:      fallbackRank,
				Priority:  "low",
			})
		}
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Rank < sources[j].Rank
	})

	return &models.ExecutionPlan{
		Sources:             sources,
		ProcessingStrategy:  normalizeStrategy(parsed.ProcessingStrategy),
		CombinationApproach: normalizeCombination(parsed.CombinationApproach),
		Reasoning:           parsed.Reasoning,
	}
}

// defaultPlan executes everything in discovery order under the most
// conservative strategy.
func defaultPlan(candidates []models.DataSourceCandidate) *models.ExecutionPlan {
	sources := make([]models.RankedSource, len(candidates))
	for i, c := range candidates {
		sources[i] = models.RankedSource{
			Candidate: c,
			Rank:      i + 1,
			Priority:  "medium",
		}
	}
	return &models.ExecutionPlan{
		Sources:             sources,
		ProcessingStrategy:  models.StrategySingleSource,
		CombinationApproach: models.CombineComplementary,
		Reasoning:           "planner unavailable, executing in discovery order",
	}
}

func (h *Handler) buildPrompt(input *Input) string {
	type promptSource struct {
		ID        string  `json:"id"`
		Name      string  `json:"name"`
		Kind      string  `json:"kind"`
		Summary   string  `json:"summary,omitempty"`
		Relevance float64 `json:"relevance"`
	}
	sources := make([]promptSource, len(input.Candidates))
	for i, c := range input.Candidates {
		sources[i] = promptSource{
			ID:        c.ID,
			Name:      c.Name,
			Kind:      string(c.Kind),
			Summary:   c.AISummary,
			Relevance: c.RelevanceScore,
		}
	}
	sourcesJSON, _ := json.MarshalIndent(sources, "", "  ")

	var parts []string
	parts = append(parts, "You are planning which data sources to query, in what order, and how to combine their answers.")
	parts = append(parts, fmt.Sprintf("\nUser Question: %s", input.Query.Text))
	parts = append(parts, fmt.Sprintf("\nSelected Sources:\n%s", string(sourcesJSON)))
	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Rank every source, rank 1 is queried first")
	parts = append(parts, "- priority is one of: high, medium, low")
	parts = append(parts, "- processing_strategy is one of: single_source, parallel, sequential")
	parts = append(parts, "- Use parallel only when several sources contribute independently")
	parts = append(parts, "- combination_approach is one of: complementary, verification, comprehensive")
	parts = append(parts, `- Respond with JSON: {"ranked": [{"id": "...", "rank": 1, "priority": "high", "reasoning": "..."}], "processing_strategy": "...", "combination_approach": "...", "reasoning": "..."}`)
	return strings.Join(parts, "\n")
}

func normalizeStrategy(s string) models.ProcessingStrategy {
	switch models.ProcessingStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case models.StrategyParallel:
		return models.StrategyParallel
	case models.StrategySequential:
		return models.StrategySequential
	case models.StrategySingleSource:
		return models.StrategySingleSource
	}
	return models.StrategySingleSource
}

func normalizeCombination(s string) models.CombinationApproach {
	switch models.CombinationApproach(strings.ToLower(strings.TrimSpace(s))) {
	case models.CombineVerification:
		return models.CombineVerification
	case models.CombineComprehensive:
		return models.CombineComprehensive
	case models.CombineComplementary:
		return models.CombineComplementary
	}
	return models.CombineComplementary
}

func normalizePriority(p string) string {
	switch strings.ToLower(strings.TrimSpace(p)) {
	case "high":
		return "high"
	case "low":
		return "low"
	}
	return "medium"
}

// Package discovery finds the data sources that could answer the question.
// Ready sources are ranked by embedding similarity, then one model call
// filters the shortlist. The model can only narrow the set: IDs it invents
// are discarded, and an empty or failed filter falls back to the similarity
// ranking.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
	"insight-pipeline/internal/registry"
)

const StageName = "source_discovery"

type Handler struct {
	config   *Config
	store    registry.Store
	embedder llm.Embedder
	client   llm.Client
	logger   logger.Logger
}

func NewHandler(config *Config, store registry.Store, embedder llm.Embedder, client llm.Client, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		store:    store,
		embedder: embedder,
		client:   client,
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	sources, err := h.store.ListReady(ctx, input.Query.WorkspaceID)
	if err != nil {
		return nil, pipelineerrors.NewRegistryLookupFailedError(err)
	}
	if len(sources) == 0 {
		return nil, pipelineerrors.NewNoSourcesAvailableError(input.Query.WorkspaceID)
	}

	candidates, embedTokens := h.rankBySimilarity(ctx, input.Query.Text, sources)
	shortlist := h.shortlist(candidates)

	filtered, criteria, filterTokens := h.filter(ctx, input.Query.Text, shortlist)

	h.logger.Info("sources discovered", map[string]interface{}{
		"available": len(sources),
		"selected":  len(filtered),
	})

	return &Output{
		Candidates:     filtered,
		FilterCriteria: criteria,
		Considered:     len(sources),
		TokensUsed:     embedTokens + filterTokens,
	}, nil
}

// rankBySimilarity embeds the question and every source summary in one batch
// call, then sorts candidates by cosine similarity. The sort is stable, so
// ties keep registry enumeration order. An embedding outage degrades to
// enumeration order with zero similarity rather than failing the run.
func (h *Handler) rankBySimilarity(ctx context.Context, queryText string, sources []models.DataSource) ([]models.DataSourceCandidate, int) {
	candidates := make([]models.DataSourceCandidate, len(sources))
	for i, s := range sources {
		candidates[i] = models.DataSourceCandidate{
			ID:        s.ID,
			Name:      s.Name,
			Kind:      s.Kind,
			AISummary: s.AISummary,
		}
	}

	texts := make([]string, 0, len(sources)+1)
	texts = append(texts, queryText)
	for _, s := range sources {
		texts = append(texts, summarize(s))
	}

	batch, err := h.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		h.logger.Warn("embedding failed, keeping registry order", map[string]interface{}{
			"error": err.Error(),
		})
		return candidates, 0
	}

	queryVector := batch.Vectors[0]
	for i := range candidates {
		candidates[i].Embedding = batch.Vectors[i+1]
		candidates[i].ConfidenceScore = llm.CosineSimilarity(queryVector, batch.Vectors[i+1])
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].ConfidenceScore > candidates[j].ConfidenceScore
	})
	return candidates, batch.TokensUsed
}

// shortlist applies the similarity floor and the candidate cap. The floor
// never empties the list: with no candidate above it, everything stays.
func (h *Handler) shortlist(candidates []models.DataSourceCandidate) []models.DataSourceCandidate {
	above := make([]models.DataSourceCandidate, 0, len(candidates))
	for _, c := range candidates {
		if c.ConfidenceScore >= h.config.MinSimilarity {
			above = append(above, c)
		}
	}
	if len(above) > 0 {
		candidates = above
	}
	if h.config.MaxCandidates > 0 && len(candidates) > h.config.MaxCandidates {
		candidates = candidates[:h.config.MaxCandidates]
	}
	return candidates
}

var filterSchema = llm.ObjectSchema(map[string]interface{}{
	"selected": map[string]interface{}{
		"type": "array",
		"items": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"id":              map[string]interface{}{"type": "string"},
				"relevance_score": map[string]interface{}{"type": "number"},
				"reason":          map[string]interface{}{"type": "string"},
			},
			"required": []string{"id"},
		},
	},
	"filter_criteria": map[string]interface{}{"type": "string"},
}, "selected")

// filter asks the model which shortlisted sources are actually relevant.
// Unknown IDs are dropped; a failed call or an emptied selection keeps the
// similarity ranking with similarity standing in for relevance.
func (h *Handler) filter(ctx context.Context, queryText string, shortlist []models.DataSourceCandidate) ([]models.DataSourceCandidate, string, int) {
	resp, err := h.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You select relevant data sources for a question. Respond with JSON only."},
			{Role: llm.RoleUser, Content: h.buildFilterPrompt(queryText, shortlist)},
		},
		Temperature: h.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		h.logger.Warn("source filter call failed, keeping similarity ranking", map[string]interface{}{
			"error": err.Error(),
		})
		return withSimilarityAsRelevance(shortlist), "", 0
	}

	var parsed filterResult
	if err := llm.DecodeStrict(filterSchema, resp.Content, &parsed); err != nil {
		h.logger.Warn("source filter unparseable, keeping similarity ranking", map[string]interface{}{
			"error": err.Error(),
		})
		return withSimilarityAsRelevance(shortlist), "", resp.TokensUsed
	}

	byID := make(map[string]models.DataSourceCandidate, len(shortlist))
	for _, c := range shortlist {
		byID[c.ID] = c
	}

	selected := make([]models.DataSourceCandidate, 0, len(parsed.Selected))
	for _, sel := range parsed.Selected {
		candidate, ok := byID[sel.ID]
		if !ok {
			h.logger.Warn("filter returned unknown source id, dropping", map[string]interface{}{
				"sourceId": sel.ID,
			})
			continue
		}
		candidate.RelevanceScore = clampScore(sel.RelevanceScore)
		selected = append(selected, candidate)
		delete(byID, sel.ID)
	}

	if len(selected) == 0 {
		h.logger.Warn("filter selected nothing usable, keeping similarity ranking", nil)
		return withSimilarityAsRelevance(shortlist), parsed.FilterCriteria, resp.TokensUsed
	}
	return selected, parsed.FilterCriteria, resp.TokensUsed
}

func (h *Handler) buildFilterPrompt(queryText string, shortlist []models.DataSourceCandidate) string {
	type promptSource struct {
		ID         string  `json:"id"`
		Name       string  `json:"name"`
		Kind       string  `json:"kind"`
		Summary    string  `json:"summary,omitempty"`
		Similarity float64 `json:"similarity"`
	}
	sources := make([]promptSource, len(shortlist))
	for i, c := range shortlist {
		sources[i] = promptSource{
			ID:         c.ID,
			Name:       c.Name,
			Kind:       string(c.Kind),
			Summary:    c.AISummary,
			Similarity: c.ConfidenceScore,
		}
	}
	sourcesJSON, _ := json.MarshalIndent(sources, "", "  ")

	var parts []string
	parts = append(parts, "You are selecting which data sources can help answer a user's question.")
	parts = append(parts, fmt.Sprintf("\nUser Question: %s", queryText))
	parts = append(parts, fmt.Sprintf("\nAvailable Sources:\n%s", string(sourcesJSON)))
	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Pick only sources whose data could contribute to the answer")
	parts = append(parts, "- Use the id values exactly as given")
	parts = append(parts, "- relevance_score is a number between 0 and 1")
	parts = append(parts, "- filter_criteria briefly states what you looked for")
	parts = append(parts, `- Respond with JSON: {"selected": [{"id": "...", "relevance_score": 0.0, "reason": "..."}], "filter_criteria": "..."}`)
	return strings.Join(parts, "\n")
}

func withSimilarityAsRelevance(candidates []models.DataSourceCandidate) []models.DataSourceCandidate {
	out := make([]models.DataSourceCandidate, len(candidates))
	copy(out, candidates)
	for i := range out {
		out[i].RelevanceScore = out[i].ConfidenceScore
	}
	return out
}

func clampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func summarize(s models.DataSource) string {
	parts := []string{s.Name, string(s.Kind)}
	if s.AISummary != "" {
		parts = append(parts, s.AISummary)
	}
	return strings.Join(parts, ". ")
}

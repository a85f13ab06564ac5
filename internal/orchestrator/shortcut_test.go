// internal/orchestrator/shortcut_test.go
package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/models"
)

// ==========================
// Catalog Shortcut
// ==========================

func TestRun_CatalogQuestionAnsweredFromRegistry(t *testing.T) {
	h := newHarness(t)

	resp := h.orch.Run(context.Background(), &models.Query{Text: "what data do I have?", WorkspaceID: "ws-1"})

	assert.Equal(t, models.StatusCompleted, resp.Status)
	assert.Contains(t, resp.Content, "Donations DB")
	assert.Contains(t, resp.Content, "CRM API")
	assert.Contains(t, resp.Content, "Tables: donations, campaigns")
	assert.Equal(t, 2, resp.Explainability.SourcesConsidered)

	names := stageNames(resp.Explainability.StageTimings)
	require.NotEmpty(t, names)
	assert.Equal(t, ShortcutName, names[len(names)-1])

	// No discovery, no execution, no synthesis.
	assert.Zero(t, h.embedder.callCount())
	assert.Empty(t, h.coord.executed())
	assert.Zero(t, h.client.callCount(routeFilter))
	assert.Zero(t, h.client.callCount(routeAnswer))
}

func TestRun_CatalogAnswerBillsFlatCharge(t *testing.T) {
	h := newHarness(t)

	resp := h.orch.Run(context.Background(), &models.Query{Text: "what data do I have?", WorkspaceID: "ws-1"})

	// One greeting check, two validation calls, then the flat catalog
	// charge instead of any discovery or synthesis spend.
	assert.Equal(t, 145, resp.Usage.TotalTokens)
	assert.Equal(t, 1, resp.Usage.Credits)

	byStage := make(map[string]int)
	for _, e := range resp.Usage.TokensByStage {
		byStage[e.Stage] = e.Tokens
	}
	assert.Equal(t, h.config.ShortcutFlatTokens, byStage[ShortcutName])
}

func TestRun_CatalogQuestionOnEmptyWorkspace(t *testing.T) {
	h := newHarness(t)
	h.store.sources = nil

	resp := h.orch.Run(context.Background(), &models.Query{Text: "which tables do I have?", WorkspaceID: "ws-1"})

	assert.Equal(t, models.StatusFailed, resp.Status)
	assert.Equal(t, string(pipelineerrors.ErrCodeNoSourcesAvailable), resp.ErrorCode)
	assert.Contains(t, resp.Content, "no data sources connected")
	assert.Empty(t, h.coord.executed())
}

func TestRun_CatalogLookupFailureFallsBackToPipeline(t *testing.T) {
	h := newHarness(t)
	h.store.listErr = errors.New("registry down")

	resp := h.orch.Run(context.Background(), &models.Query{Text: "what data do I have?", WorkspaceID: "ws-1"})

	// The shortcut shrugged and discovery surfaced the registry failure.
	assert.Equal(t, models.StatusFailed, resp.Status)
	assert.Equal(t, string(pipelineerrors.ErrCodeRegistryLookupFailed), resp.ErrorCode)
	assert.Equal(t, 2, h.store.listReadyCalls())
}

func TestRun_ShortcutDisabledRunsFullPipeline(t *testing.T) {
	h := newHarness(t)
	h.config.SchemaShortcut = false

	resp := h.orch.Run(context.Background(), &models.Query{Text: "what data do I have?", WorkspaceID: "ws-1"})

	assert.Equal(t, models.StatusCompleted, resp.Status)
	assert.Equal(t, 1, h.client.callCount(routeFilter))
	assert.NotEmpty(t, h.coord.executed())
}

func TestIsCatalogQuestion(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"What data do I have?", true},
		{"Which data sources are connected here?", true},
		{"list my tables please", true},
		{"What's connected to this workspace?", true},
		{"how many donations were made in Hyderabad?", false},
		{"show me revenue by city", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, isCatalogQuestion(tc.text), tc.text)
	}
}

// ==========================
// Plan Cache
// ==========================

func TestRun_RepeatQuestionSkipsRanking(t *testing.T) {
	h := newHarness(t)

	first := h.orch.Run(context.Background(), donationsQuery())
	second := h.orch.Run(context.Background(), donationsQuery())

	assert.Equal(t, models.StatusCompleted, first.Status)
	assert.Equal(t, models.StatusCompleted, second.Status)
	assert.Equal(t, 1, h.client.callCount(routeRanking))
	assert.Equal(t, first.Explainability.Strategy, second.Explainability.Strategy)
	assert.Equal(t, first.Explainability.SourcesSelected, second.Explainability.SourcesSelected)
}

func TestRun_StaleCachedPlanTriggersReRanking(t *testing.T) {
	h := newHarness(t)

	h.orch.Run(context.Background(), donationsQuery())
	require.Equal(t, 1, h.client.callCount(routeRanking))

	// The filter now keeps only the API source, so the cached plan's
	// database entry no longer appears among the candidates.
	h.client.route(routeFilter, `{"selected": [{"id": "src-api", "relevance_score": 0.7, "reason": "only fit"}], "filter_criteria": "api only"}`)

	resp := h.orch.Run(context.Background(), donationsQuery())

	assert.Equal(t, 2, h.client.callCount(routeRanking))
	require.Len(t, resp.Explainability.SourcesSelected, 1)
	assert.Equal(t, "src-api", resp.Explainability.SourcesSelected[0].SourceID)
}

func TestRun_PlanCacheDisabledAlwaysRanks(t *testing.T) {
	h := newHarness(t)
	h.config.PlanCache = false

	h.orch.Run(context.Background(), donationsQuery())
	h.orch.Run(context.Background(), donationsQuery())

	assert.Equal(t, 2, h.client.callCount(routeRanking))
}

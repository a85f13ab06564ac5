// internal/orchestrator/shortcut.go
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
)

// ShortcutName labels the catalog shortcut in timings and the ledger.
const ShortcutName = "schema_shortcut"

// catalogMarkers match questions about the workspace catalog itself rather
// than the data inside it. Matching is substring over the lowercased text.
var catalogMarkers = []string{
	"what data do i have",
	"what data do we have",
	"what data is available",
	"what data sources",
	"which data sources",
	"what sources do i have",
	"which sources do i have",
	"what tables do i have",
	"which tables do i have",
	"what tables are available",
	"what columns",
	"what datasets",
	"list my sources",
	"list my data",
	"list my tables",
	"what can i ask",
	"what is connected",
	"what's connected",
}

func isCatalogQuestion(text string) bool {
	lowered := strings.ToLower(text)
	for _, marker := range catalogMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// schemaShortcut answers catalog questions from the registry alone, without
// discovery, execution or any model call. The run bills a flat charge
// instead of model tokens. Returns false when the question is not about the
// catalog or the registry read fails, in which case the normal stages run.
func (o *Orchestrator) schemaShortcut(ctx context.Context, st *runState, query *models.Query, log logger.Logger) (*models.PipelineResponse, bool) {
	if !isCatalogQuestion(query.Text) {
		return nil, false
	}

	started := time.Now()
	sources, err := o.listReadyShared(ctx, query.WorkspaceID)
	if err != nil {
		log.Warn("catalog shortcut lookup failed, running discovery instead", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, false
	}

	if len(sources) == 0 {
		o.record(st, ShortcutName, started, 0)
		log.Info("catalog question on empty workspace", nil)
		return failed(ShortcutName, pipelineerrors.ErrCodeNoSourcesAvailable), true
	}

	content := o.catalogOverview(ctx, sources)
	o.record(st, ShortcutName, started, o.config.ShortcutFlatTokens)
	st.explain.SourcesConsidered = len(sources)
	log.Info("catalog question answered from registry", map[string]interface{}{
		"sources": len(sources),
	})
	return &models.PipelineResponse{
		Status:  models.StatusCompleted,
		Content: content,
	}, true
}

// listReadyShared collapses concurrent catalog reads for the same workspace
// into one registry call.
func (o *Orchestrator) listReadyShared(ctx context.Context, workspaceID string) ([]models.DataSource, error) {
	v, err, _ := o.catalog.Do(workspaceID, func() (interface{}, error) {
		return o.store.ListReady(ctx, workspaceID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.DataSource), nil
}

// catalogOverview renders the source list as short prose. Database sources
// include their captured table names when a schema is on file.
func (o *Orchestrator) catalogOverview(ctx context.Context, sources []models.DataSource) string {
	var b strings.Builder
	b.WriteString("Here is what's connected to this workspace:\n")
	for _, s := range sources {
		b.WriteString(fmt.Sprintf("\n- %s (%s)", s.Name, s.Kind))
		if s.AISummary != "" {
			b.WriteString(": " + s.AISummary)
		}
		if s.Kind == models.SourceKindDatabase {
			if schema, err := o.store.GetSchema(ctx, s.ID); err == nil && len(schema.Tables) > 0 {
				b.WriteString(". Tables: " + strings.Join(schema.TableNames(), ", "))
			}
		}
	}
	b.WriteString("\n\nAsk a question about any of them to get started.")
	return b.String()
}

// internal/stages/discovery/models.go
package discovery

import "insight-pipeline/internal/models"

type Input struct {
	Query *models.Query `json:"query"`
}

// Output is the filtered candidate set in relevance order. Candidates is
// never empty on success; an empty workspace is a fatal error instead.
// Considered counts the ready sources enumerated before any filtering.
type Output struct {
	Candidates     []models.DataSourceCandidate `json:"candidates"`
	FilterCriteria string                       `json:"filterCriteria,omitempty"`
	Considered     int                          `json:"considered"`
	TokensUsed     int                          `json:"tokensUsed"`
}

type filterSelection struct {
	ID             string  `json:"id"`
	RelevanceScore float64 `json:"relevance_score"`
	Reason         string  `json:"reason"`
}

type filterResult struct {
	Selected       []filterSelection `json:"selected"`
	FilterCriteria string            `json:"filter_criteria"`
}

// internal/stages/ranking/models.go
package ranking

import "insight-pipeline/internal/models"

// fallbackRank sorts sources the model left unranked behind every ranked one
// without dropping them.
const fallbackRank = 999

type Input struct {
	Query      *models.Query                `json:"query"`
	Candidates []models.DataSourceCandidate `json:"candidates"`
}

type Output struct {
	Plan       *models.ExecutionPlan `json:"plan"`
	TokensUsed int                   `json:"tokensUsed"`
}

type rankedEntry struct {
	ID        string `json:"id"`
	Rank      int    `json:"rank"`
	Priority  string `json:"priority"`
	Reasoning string `json:"reasoning"`
}

type planResult struct {
	Ranked              []rankedEntry `json:"ranked"`
	ProcessingStrategy  string        `json:"processing_strategy"`
	CombinationApproach string        `json:"combination_approach"`
	Reasoning           string        `json:"reasoning"`
}

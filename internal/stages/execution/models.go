// internal/stages/execution/models.go
package execution

import "insight-pipeline/internal/models"

type Input struct {
	Query *models.Query         `json:"query"`
	Plan  *models.ExecutionPlan `json:"plan"`
}

// Output holds exactly one result envelope per planned source, in plan
// order, failures included. TokensUsed sums the per-source bills.
type Output struct {
	Results    []models.SourceExecutionResult `json:"results"`
	TokensUsed int                            `json:"tokensUsed"`
}

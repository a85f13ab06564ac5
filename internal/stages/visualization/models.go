// internal/stages/visualization/models.go
package visualization

import "insight-pipeline/internal/models"

type Input struct {
	Query   *models.Query                  `json:"query"`
	Results []models.SourceExecutionResult `json:"results"`
	Answer  *models.SynthesizedAnswer      `json:"answer"`
}

type Output struct {
	Decision   *models.VisualizationDecision `json:"decision"`
	Chart      *models.ChartSpec             `json:"chart,omitempty"`
	TokensUsed int                           `json:"tokensUsed"`
}

// decisionResult is the wire shape of the decision call.
type decisionResult struct {
	Required   bool    `json:"required"`
	ChartType  string  `json:"chart_type"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

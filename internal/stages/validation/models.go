// internal/stages/validation/models.go
package validation

import "insight-pipeline/internal/models"

// Intents the stage can resolve to. The first five come from the model; the
// last two are assigned during resolution.
const (
	IntentGreeting      = "greeting"
	IntentClosing       = "closing"
	IntentContinuation  = "continuation"
	IntentClarification = "clarification"
	IntentDataQuery     = "data_query"
	IntentIrrelevant    = "irrelevant"
	IntentAmbiguous     = "ambiguous"
)

type Input struct {
	Query *models.Query `json:"query"`
}

// Output is the resolved verdict. IsValid=false stops the pipeline with a
// rejection; RequiresFollowUp asks the user for more detail either way.
type Output struct {
	Intent           string  `json:"intent"`
	IsValid          bool    `json:"isValid"`
	RequiresFollowUp bool    `json:"requiresFollowUp"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason,omitempty"`
	TokensUsed       int     `json:"tokensUsed"`
}

type intentAnalysis struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

type relevanceAnalysis struct {
	IsIrrelevant bool    `json:"is_irrelevant"`
	Reason       string  `json:"reason"`
	Confidence   float64 `json:"confidence"`
}

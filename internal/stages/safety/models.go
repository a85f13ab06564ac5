// internal/stages/safety/models.go
package safety

import "insight-pipeline/internal/models"

// Risk levels reported by the gate.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

type Input struct {
	Query *models.Query `json:"query"`
}

// Output is the gate verdict. Allowed=false means the pipeline stops before
// any model or source work happens.
type Output struct {
	Allowed   bool   `json:"allowed"`
	RiskLevel string `json:"riskLevel"`
	Reason    string `json:"reason,omitempty"`
}

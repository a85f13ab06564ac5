// internal/stages/followup/models.go
package followup

import "insight-pipeline/internal/models"

type Input struct {
	Query *models.Query `json:"query"`
	// Answer is the synthesized narrative; its own follow-ups are merged in
	// ahead of anything generated here.
	Answer *models.SynthesizedAnswer `json:"answer"`
	// SourceNames lists the data sources that contributed to the answer.
	SourceNames []string `json:"sourceNames"`
}

type Output struct {
	Questions  []string `json:"questions"`
	TokensUsed int      `json:"tokensUsed"`
}

// followUpResult is the wire shape of the generation call.
type followUpResult struct {
	Questions []string `json:"questions"`
}

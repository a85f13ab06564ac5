// internal/stages/synthesis/models.go
package synthesis

import "insight-pipeline/internal/models"

type Input struct {
	Query   *models.Query                  `json:"query"`
	Results []models.SourceExecutionResult `json:"results"`
}

type Output struct {
	Answer             *models.SynthesizedAnswer `json:"answer"`
	ClarificationReply bool                      `json:"clarificationReply"`
	AllSourcesFailed   bool                      `json:"allSourcesFailed"`
	TokensUsed         int                       `json:"tokensUsed"`
}

// clarificationCheck is the wire shape of the clarification-reply call.
type clarificationCheck struct {
	IsClarificationReply bool    `json:"is_clarification_reply"`
	Confidence           float64 `json:"confidence"`
}

// answerResult is the wire shape of the synthesis call.
type answerResult struct {
	Content           string             `json:"content"`
	Attributions      []attributionEntry `json:"attributions"`
	Insights          []string           `json:"insights"`
	Conflicts         []string           `json:"conflicts"`
	Gaps              []string           `json:"gaps"`
	FollowUpQuestions []string           `json:"follow_up_questions"`
	Confidence        float64            `json:"confidence"`
}

type attributionEntry struct {
	SourceID     string  `json:"source_id"`
	Contribution string  `json:"contribution"`
	Confidence   float64 `json:"confidence"`
}

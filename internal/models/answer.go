// internal/models/answer.go
package models

// Attribution ties part of the answer back to a contributing source.
type Attribution struct {
	SourceID     string  `json:"sourceId"`
	SourceName   string  `json:"sourceName"`
	Contribution string  `json:"contribution"`
	Confidence   float64 `json:"confidence"`
}

// SynthesizedAnswer is the grounded narrative built from all source results.
type SynthesizedAnswer struct {
	Content             string        `json:"content"`
	Attributions        []Attribution `json:"attributions,omitempty"`
	Insights            []string      `json:"insights,omitempty"`
	Conflicts           []string      `json:"conflicts,omitempty"`
	Gaps                []string      `json:"gaps,omitempty"`
	ClarificationNeeded bool          `json:"clarificationNeeded"`
	FollowUpQuestions   []string      `json:"followUpQuestions,omitempty"`
	Confidence          float64       `json:"confidence"`
}

// internal/models/response.go
package models

// PipelineStatus is the terminal state of a pipeline run.
type PipelineStatus string

const (
	StatusCompleted      PipelineStatus = "completed"
	StatusPartial        PipelineStatus = "partial"
	StatusShortCircuited PipelineStatus = "short_circuited"
	StatusBlocked        PipelineStatus = "blocked"
	StatusRejected       PipelineStatus = "rejected"
	StatusFailed         PipelineStatus = "failed"
)

// StageTiming records wall-clock duration for one executed stage.
type StageTiming struct {
	Stage      string `json:"stage"`
	DurationMS int64  `json:"durationMs"`
}

// SelectedSource appears in the explainability block for each planned source.
type SelectedSource struct {
	SourceID   string  `json:"sourceId"`
	SourceName string  `json:"sourceName"`
	Rank       int     `json:"rank"`
	Relevance  float64 `json:"relevance"`
	Succeeded  bool    `json:"succeeded"`
}

// Explainability describes how the answer was produced.
type Explainability struct {
	SourcesConsidered int                `json:"sourcesConsidered"`
	SourcesSelected   []SelectedSource   `json:"sourcesSelected,omitempty"`
	Strategy          ProcessingStrategy `json:"strategy,omitempty"`
	FilterCriteria    string             `json:"filterCriteria,omitempty"`
	StageTimings      []StageTiming      `json:"stageTimings,omitempty"`
}

// UsageReport carries token and credit totals for billing.
type UsageReport struct {
	TokensByStage []LedgerEntry `json:"tokensByStage,omitempty"`
	TotalTokens   int           `json:"totalTokens"`
	Credits       int           `json:"credits"`
}

// PipelineResponse is the final envelope returned to the caller.
type PipelineResponse struct {
	RequestID         string                 `json:"requestId"`
	Status            PipelineStatus         `json:"status"`
	Content           string                 `json:"content"`
	ErrorCode         string                 `json:"errorCode,omitempty"`
	Answer            *SynthesizedAnswer     `json:"answer,omitempty"`
	Visualization     *VisualizationDecision `json:"visualization,omitempty"`
	Chart             *ChartSpec             `json:"chart,omitempty"`
	FollowUpQuestions []string               `json:"followUpQuestions,omitempty"`
	Explainability    Explainability         `json:"explainability"`
	Usage             UsageReport            `json:"usage"`
}

// internal/models/plan.go
package models

// ProcessingStrategy controls how planned sources execute.
type ProcessingStrategy string

const (
	StrategySingleSource ProcessingStrategy = "single_source"
	StrategyParallel     ProcessingStrategy = "parallel"
	StrategySequential   ProcessingStrategy = "sequential"
)

// CombinationApproach hints how source answers should be merged.
type CombinationApproach string

const (
	CombineComplementary CombinationApproach = "complementary"
	CombineVerification  CombinationApproach = "verification"
	CombineComprehensive CombinationApproach = "comprehensive"
)

// RankedSource is one candidate with its execution order assigned.
type RankedSource struct {
	Candidate DataSourceCandidate `json:"candidate"`
	Rank      int                 `json:"rank"`
	Priority  string              `json:"priority"` // high | medium | low
	Reasoning string              `json:"reasoning,omitempty"`
}

// ExecutionPlan fixes which sources run and in which order. Sources are a
// subset of the discovery output; slice order is execution and display order.
type ExecutionPlan struct {
	Sources             []RankedSource      `json:"sources"`
	ProcessingStrategy  ProcessingStrategy  `json:"processingStrategy"`
	CombinationApproach CombinationApproach `json:"combinationApproach"`
	Reasoning           string              `json:"reasoning,omitempty"`
}

// SourceIDs returns the planned source IDs in rank order.
func (p *ExecutionPlan) SourceIDs() []string {
	ids := make([]string, 0, len(p.Sources))
	for _, s := range p.Sources {
		ids = append(ids, s.Candidate.ID)
	}
	return ids
}

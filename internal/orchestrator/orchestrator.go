// Package orchestrator sequences the pipeline stages for one query. Each
// stage is a small handler with its own behavior and tests; the orchestrator
// only orders them, times them, accumulates the token ledger and assembles
// the response envelope. Run never returns an error: every outcome,
// including a blocked or failed run, is a complete PipelineResponse.
package orchestrator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"insight-pipeline/internal/collab"
	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/common/metrics"
	"insight-pipeline/internal/common/observability"
	"insight-pipeline/internal/models"
	"insight-pipeline/internal/registry"
	"insight-pipeline/internal/stages/discovery"
	"insight-pipeline/internal/stages/execution"
	"insight-pipeline/internal/stages/followup"
	"insight-pipeline/internal/stages/greeting"
	"insight-pipeline/internal/stages/ranking"
	"insight-pipeline/internal/stages/safety"
	"insight-pipeline/internal/stages/synthesis"
	"insight-pipeline/internal/stages/validation"
	"insight-pipeline/internal/stages/visualization"
)

// Stages bundles the stage handlers in pipeline order.
type Stages struct {
	Safety        *safety.Handler
	Greeting      *greeting.Handler
	Validation    *validation.Handler
	Discovery     *discovery.Handler
	Ranking       *ranking.Handler
	Execution     *execution.Handler
	Synthesis     *synthesis.Handler
	Visualization *visualization.Handler
	FollowUp      *followup.Handler
}

// Collaborators are the out-of-band services a run reports to. Every field
// is optional; nil entries are replaced with no-ops.
type Collaborators struct {
	PlanCache collab.PlanCache
	CostSink  collab.CostSink
	Events    collab.EventSink
	Telemetry *observability.Observability
}

type Orchestrator struct {
	config    *Config
	stages    Stages
	store     registry.Store
	planCache collab.PlanCache
	costSink  collab.CostSink
	events    collab.EventSink
	telemetry *observability.Observability
	catalog   singleflight.Group
	logger    logger.Logger
}

func NewOrchestrator(config *Config, stages Stages, store registry.Store, collaborators Collaborators, log logger.Logger) *Orchestrator {
	planCache := collaborators.PlanCache
	if planCache == nil {
		planCache = collab.NoopPlanCache{}
	}
	costSink := collaborators.CostSink
	if costSink == nil {
		costSink = collab.NoopCostSink{}
	}
	events := collaborators.Events
	if events == nil {
		events = collab.NoopEventSink{}
	}
	return &Orchestrator{
		config:    config,
		stages:    stages,
		store:     store,
		planCache: planCache,
		costSink:  costSink,
		events:    events,
		telemetry: collaborators.Telemetry,
		logger: log.With(map[string]interface{}{
			"component": "orchestrator",
		}),
	}
}

// runState carries the rolling facts of one run: token usage, stage timings
// and the explainability block under construction.
type runState struct {
	requestID string
	started   time.Time
	ledger    *models.TokenLedger
	timings   []models.StageTiming
	explain   models.Explainability
}

// Run executes the full pipeline for one query. The response is complete on
// every path: request id, usage and timings are stamped even when a gate
// stops the run at the first stage.
func (o *Orchestrator) Run(ctx context.Context, query *models.Query) *models.PipelineResponse {
	st := &runState{
		requestID: uuid.New().String(),
		started:   time.Now(),
		ledger:    models.NewTokenLedger(),
	}
	log := o.logger.With(map[string]interface{}{
		"requestId":   st.requestID,
		"workspaceId": workspaceOf(query),
	})

	resp := o.run(ctx, st, query, log)
	o.finish(ctx, st, query, resp, log)
	return resp
}

func (o *Orchestrator) run(ctx context.Context, st *runState, query *models.Query, log logger.Logger) *models.PipelineResponse {
	if query == nil || strings.TrimSpace(query.Text) == "" {
		return refuse(pipelineerrors.ErrCodeValidationRejectedAmbiguous, models.StatusRejected)
	}

	log.Info("pipeline run started", map[string]interface{}{
		"queryLength":  len(query.Text),
		"historyTurns": len(query.History),
	})

	// Safety gate. Checker trouble fails open inside the stage already; a
	// hard error here gets the same treatment so a broken checker never
	// blocks legitimate questions.
	started := time.Now()
	verdict, err := o.stages.Safety.Execute(ctx, &safety.Input{Query: query})
	o.record(st, safety.StageName, started, 0)
	if err != nil || verdict == nil {
		log.Warn("safety stage errored, failing open", map[string]interface{}{"error": errText(err)})
		verdict = &safety.Output{Allowed: true, RiskLevel: safety.RiskMedium, Reason: "checker error"}
	}
	if !verdict.Allowed {
		log.Info("query blocked by safety gate", map[string]interface{}{
			"riskLevel": verdict.RiskLevel,
			"reason":    verdict.Reason,
		})
		return refuse(pipelineerrors.ErrCodeSafetyBlocked, models.StatusBlocked)
	}

	// Conversational short-circuit. A detected greeting ends the run with a
	// canned response before any source work starts.
	started = time.Now()
	greet, err := o.stages.Greeting.Execute(ctx, &greeting.Input{Query: query})
	if err != nil || greet == nil {
		log.Warn("greeting stage errored, continuing", map[string]interface{}{"error": errText(err)})
		greet = &greeting.Output{GreetingType: greeting.TypeNone}
	}
	o.record(st, greeting.StageName, started, greet.TokensUsed)
	if greet.IsGreeting {
		log.Info("conversational query short-circuited", map[string]interface{}{
			"greetingType": greet.GreetingType,
		})
		return &models.PipelineResponse{
			Status:  models.StatusShortCircuited,
			Content: greet.Response,
		}
	}

	started = time.Now()
	check, err := o.stages.Validation.Execute(ctx, &validation.Input{Query: query})
	if err != nil || check == nil {
		log.Warn("validation stage errored, treating as data query", map[string]interface{}{"error": errText(err)})
		check = &validation.Output{Intent: validation.IntentDataQuery, IsValid: true, Confidence: 1.0}
	}
	o.record(st, validation.StageName, started, check.TokensUsed)
	if !check.IsValid {
		code := pipelineerrors.ErrCodeValidationRejectedIrrelev
		if check.Intent == validation.IntentAmbiguous {
			code = pipelineerrors.ErrCodeValidationRejectedAmbiguous
		}
		log.Info("query rejected by validation", map[string]interface{}{
			"intent": check.Intent,
			"reason": check.Reason,
		})
		return refuse(code, models.StatusRejected)
	}

	if o.config.SchemaShortcut {
		if resp, ok := o.schemaShortcut(ctx, st, query, log); ok {
			return resp
		}
	}

	started = time.Now()
	disc, err := o.stages.Discovery.Execute(ctx, &discovery.Input{Query: query})
	if err != nil {
		o.record(st, discovery.StageName, started, 0)
		code := pipelineerrors.CodeOf(err)
		log.Warn("source discovery failed", map[string]interface{}{
			"errorCode": string(code),
			"error":     err.Error(),
		})
		return failed(discovery.StageName, code)
	}
	o.record(st, discovery.StageName, started, disc.TokensUsed)
	st.explain.SourcesConsidered = disc.Considered
	st.explain.FilterCriteria = disc.FilterCriteria

	plan := o.cachedPlan(ctx, query, disc.Candidates, log)
	if plan == nil {
		started = time.Now()
		rank, err := o.stages.Ranking.Execute(ctx, &ranking.Input{Query: query, Candidates: disc.Candidates})
		if err != nil {
			o.record(st, ranking.StageName, started, 0)
			log.Error("source ranking failed", map[string]interface{}{"error": err.Error()})
			return failed(ranking.StageName, pipelineerrors.CodeOf(err))
		}
		o.record(st, ranking.StageName, started, rank.TokensUsed)
		plan = rank.Plan
		if o.config.PlanCache {
			o.planCache.PutPlan(ctx, query.WorkspaceID, query.Text, plan)
		}
	}
	st.explain.Strategy = plan.ProcessingStrategy

	started = time.Now()
	exec, err := o.stages.Execution.Execute(ctx, &execution.Input{Query: query, Plan: plan})
	if err != nil {
		o.record(st, execution.StageName, started, 0)
		log.Error("execution stage failed", map[string]interface{}{"error": err.Error()})
		return failed(execution.StageName, pipelineerrors.CodeOf(err))
	}
	o.record(st, execution.StageName, started, exec.TokensUsed)
	st.explain.SourcesSelected = selectedSources(plan, exec.Results)
	o.recordSourceEvents(ctx, st.requestID, query, exec.Results, log)

	started = time.Now()
	synth, err := o.stages.Synthesis.Execute(ctx, &synthesis.Input{Query: query, Results: exec.Results})
	if err != nil {
		o.record(st, synthesis.StageName, started, 0)
		log.Error("synthesis failed", map[string]interface{}{"error": err.Error()})
		return failed(synthesis.StageName, pipelineerrors.ErrCodeSynthesisFailed)
	}
	o.record(st, synthesis.StageName, started, synth.TokensUsed)

	if synth.AllSourcesFailed {
		log.Warn("every planned source failed", map[string]interface{}{"sources": len(exec.Results)})
		metrics.StageFailures.WithLabelValues(execution.StageName, string(pipelineerrors.ErrCodeSourceExecutionFailed)).Inc()
		resp := &models.PipelineResponse{
			Status:    models.StatusFailed,
			ErrorCode: string(pipelineerrors.ErrCodeSourceExecutionFailed),
			Content:   pipelineerrors.UserMessage(pipelineerrors.ErrCodeSourceExecutionFailed),
		}
		if synth.Answer != nil {
			resp.Content = synth.Answer.Content
			resp.Answer = synth.Answer
		}
		return resp
	}

	started = time.Now()
	viz, err := o.stages.Visualization.Execute(ctx, &visualization.Input{
		Query:   query,
		Results: exec.Results,
		Answer:  synth.Answer,
	})
	if err != nil || viz == nil {
		log.Warn("visualization stage errored, continuing without a chart", map[string]interface{}{"error": errText(err)})
		viz = &visualization.Output{Decision: &models.VisualizationDecision{}}
	}
	o.record(st, visualization.StageName, started, viz.TokensUsed)

	started = time.Now()
	fu, err := o.stages.FollowUp.Execute(ctx, &followup.Input{
		Query:       query,
		Answer:      synth.Answer,
		SourceNames: succeededNames(exec.Results),
	})
	if err != nil || fu == nil {
		log.Warn("follow-up stage errored, continuing without suggestions", map[string]interface{}{"error": errText(err)})
		fu = &followup.Output{}
	}
	o.record(st, followup.StageName, started, fu.TokensUsed)

	status := models.StatusCompleted
	if models.SucceededCount(exec.Results) < len(exec.Results) {
		status = models.StatusPartial
	}
	return &models.PipelineResponse{
		Status:            status,
		Content:           synth.Answer.Content,
		Answer:            synth.Answer,
		Visualization:     viz.Decision,
		Chart:             viz.Chart,
		FollowUpQuestions: fu.Questions,
	}
}

// cachedPlan returns a previously stored plan when every planned source is
// still in the discovered candidate set. A stale plan is ignored rather
// than repaired; ranking runs again and overwrites it.
func (o *Orchestrator) cachedPlan(ctx context.Context, query *models.Query, candidates []models.DataSourceCandidate, log logger.Logger) *models.ExecutionPlan {
	if !o.config.PlanCache {
		return nil
	}
	plan, ok := o.planCache.GetPlan(ctx, query.WorkspaceID, query.Text)
	if !ok || plan == nil || len(plan.Sources) == 0 {
		return nil
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}
	for _, s := range plan.Sources {
		if !known[s.Candidate.ID] {
			log.Info("cached plan references a source no longer discovered, re-ranking", map[string]interface{}{
				"sourceId": s.Candidate.ID,
			})
			return nil
		}
	}

	log.Info("execution plan served from cache", map[string]interface{}{"sources": len(plan.Sources)})
	return plan
}

// recordSourceEvents writes one monitoring event per executed source. Sink
// failures are logged and dropped; they never touch the run outcome.
func (o *Orchestrator) recordSourceEvents(ctx context.Context, requestID string, query *models.Query, results []models.SourceExecutionResult, log logger.Logger) {
	for _, r := range results {
		outcome := "success"
		if !r.Success {
			outcome = "failure"
		}
		metrics.SourceExecutions.WithLabelValues(string(r.Kind), outcome).Inc()

		event := &collab.QueryEvent{
			RequestID:   requestID,
			WorkspaceID: query.WorkspaceID,
			SourceID:    r.SourceID,
			SourceKind:  string(r.Kind),
			Stage:       execution.StageName,
			Succeeded:   r.Success,
			ErrorCode:   r.ErrorCode,
			DurationMS:  r.ExecutionTimeMS,
		}
		if err := o.events.RecordQueryEvent(ctx, event); err != nil {
			log.Warn("query event write failed", map[string]interface{}{
				"sourceId": r.SourceID,
				"error":    err.Error(),
			})
		}
	}
}

// finish stamps identity, usage and timings onto the response and reports
// the run to metrics, billing and monitoring. Billing uses a context that
// survives caller cancellation: a cancelled run still pays for the tokens
// it consumed.
func (o *Orchestrator) finish(ctx context.Context, st *runState, query *models.Query, resp *models.PipelineResponse, log logger.Logger) {
	resp.RequestID = st.requestID
	st.explain.StageTimings = st.timings
	resp.Explainability = st.explain
	resp.Usage = models.UsageReport{
		TokensByStage: st.ledger.Entries(),
		TotalTokens:   st.ledger.Total(),
		Credits:       st.ledger.Credits(o.config.TokensPerCredit),
	}

	elapsed := time.Since(st.started)
	metrics.PipelineRequests.WithLabelValues(string(resp.Status)).Inc()
	if o.telemetry != nil {
		o.telemetry.RecordRun(ctx, string(resp.Status))
		o.telemetry.RecordRunDuration(ctx, elapsed, string(resp.Status))
		for _, e := range resp.Usage.TokensByStage {
			o.telemetry.RecordTokens(ctx, e.Stage, e.Tokens)
		}
	}

	event := &collab.UsageEvent{
		RequestID:     st.requestID,
		WorkspaceID:   workspaceOf(query),
		AgentID:       agentOf(query),
		Status:        string(resp.Status),
		TotalTokens:   resp.Usage.TotalTokens,
		Credits:       resp.Usage.Credits,
		TokensByStage: resp.Usage.TokensByStage,
	}
	if err := o.costSink.PublishUsage(context.WithoutCancel(ctx), event); err != nil {
		log.Warn("usage publish failed", map[string]interface{}{"error": err.Error()})
	}

	log.Info("pipeline run finished", map[string]interface{}{
		"status":      string(resp.Status),
		"totalTokens": resp.Usage.TotalTokens,
		"credits":     resp.Usage.Credits,
		"durationMs":  elapsed.Milliseconds(),
	})
}

// record closes out one stage: timing for the explainability block, tokens
// for the ledger, both mirrored to Prometheus.
func (o *Orchestrator) record(st *runState, stage string, started time.Time, tokens int) {
	elapsed := time.Since(started)
	st.timings = append(st.timings, models.StageTiming{Stage: stage, DurationMS: elapsed.Milliseconds()})
	st.ledger.Add(stage, tokens)
	metrics.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if tokens > 0 {
		metrics.TokensConsumed.WithLabelValues(stage).Add(float64(tokens))
	}
}

// refuse builds the envelope for a gate outcome: the pipeline worked, the
// question was turned away.
func refuse(code pipelineerrors.ErrorCode, status models.PipelineStatus) *models.PipelineResponse {
	return &models.PipelineResponse{
		Status:    status,
		ErrorCode: string(code),
		Content:   pipelineerrors.UserMessage(code),
	}
}

// failed builds the envelope for a stage error and counts it. Raw error
// details stay in the logs; the body carries only the user-facing text.
func failed(stage string, code pipelineerrors.ErrorCode) *models.PipelineResponse {
	metrics.StageFailures.WithLabelValues(stage, string(code)).Inc()
	return &models.PipelineResponse{
		Status:    models.StatusFailed,
		ErrorCode: string(code),
		Content:   pipelineerrors.UserMessage(code),
	}
}

// selectedSources pairs the plan with per-source outcomes for the
// explainability block.
func selectedSources(plan *models.ExecutionPlan, results []models.SourceExecutionResult) []models.SelectedSource {
	succeeded := make(map[string]bool, len(results))
	for _, r := range results {
		succeeded[r.SourceID] = r.Success
	}
	out := make([]models.SelectedSource, 0, len(plan.Sources))
	for _, s := range plan.Sources {
		out = append(out, models.SelectedSource{
			SourceID:   s.Candidate.ID,
			SourceName: s.Candidate.Name,
			Rank:       s.Rank,
			Relevance:  s.Candidate.RelevanceScore,
			Succeeded:  succeeded[s.Candidate.ID],
		})
	}
	return out
}

func succeededNames(results []models.SourceExecutionResult) []string {
	var names []string
	for _, r := range results {
		if r.Success {
			names = append(names, r.SourceName)
		}
	}
	return names
}

func workspaceOf(q *models.Query) string {
	if q == nil {
		return ""
	}
	return q.WorkspaceID
}

func agentOf(q *models.Query) string {
	if q == nil {
		return ""
	}
	return q.AgentID
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

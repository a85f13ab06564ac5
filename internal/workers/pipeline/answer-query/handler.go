// Package answerquery exposes the query pipeline as a Zeebe job worker.
// A process throws one answer-query job per question; the handler runs the
// in-process pipeline and completes the job with the response envelope. The
// pipeline itself never imports Zeebe.
package answerquery

import (
	"context"
	"fmt"
	"time"

	"insight-pipeline/internal/common/camunda"
	"insight-pipeline/internal/common/config"
	pipelineerrors "insight-pipeline/internal/common/errors"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/common/metrics"
	"insight-pipeline/internal/common/validation"
	"insight-pipeline/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/pb"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const TaskType = "answer-query"

// Pipeline runs one query end to end and always returns a complete
// response envelope. *orchestrator.Orchestrator satisfies it.
type Pipeline interface {
	Run(ctx context.Context, query *models.Query) *models.PipelineResponse
}

type Handler struct {
	config    *Config
	logger    logger.Logger
	camunda   *camunda.Client
	pipeline  Pipeline
	jobWorker worker.JobWorker
}

type HandlerOptions struct {
	AppConfig    *config.Config
	Camunda      *camunda.Client
	CustomConfig *Config
	Pipeline     Pipeline
	Logger       logger.Logger
}

func NewHandler(opts HandlerOptions) (*Handler, error) {
	workerConfig := createConfigFromAppConfig(opts.AppConfig, opts.CustomConfig)

	if err := workerConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration for answer-query: %w", err)
	}

	if opts.Pipeline == nil {
		return nil, fmt.Errorf("answer-query handler requires a pipeline")
	}

	var loggerInstance logger.Logger
	if opts.Logger != nil {
		loggerInstance = opts.Logger
	} else {
		loggerInstance = logger.NewStructured("info", "json")
	}

	return &Handler{
		config:   workerConfig,
		logger:   loggerInstance,
		camunda:  opts.Camunda,
		pipeline: opts.Pipeline,
	}, nil
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	startTime := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	h.logger.Info("Processing answer-query job", map[string]interface{}{
		"jobKey":             job.GetKey(),
		"processInstanceKey": job.GetProcessInstanceKey(),
		"worker":             TaskType,
	})

	if !h.config.Enabled {
		h.logger.Info("Worker disabled by configuration", map[string]interface{}{
			"worker": TaskType,
		})
		h.completeJob(ctx, client, job, &models.PipelineResponse{
			Status:  models.StatusFailed,
			Content: "Query answering is disabled",
		})
		return
	}

	input, err := h.parseInput(job)
	if err != nil {
		errorCode := extractErrorCode(err)
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, errorCode).Inc()
		h.failJob(ctx, client, job, err)
		return
	}

	resp := h.pipeline.Run(ctx, input.ToQuery())

	if retryablePipelineFailure(resp) {
		metrics.WorkerJobsFailed.WithLabelValues(TaskType, resp.ErrorCode).Inc()
		h.failJob(ctx, client, job, runFailureError(resp))
		return
	}

	h.completeJob(ctx, client, job, resp)
	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(startTime).Seconds())
}

func (h *Handler) parseInput(job entities.Job) (*Input, error) {
	variables, err := job.GetVariablesAsMap()
	if err != nil {
		return nil, &pipelineerrors.PipelineError{
			Code:      "INPUT_PARSING_FAILED",
			Message:   "Failed to parse job variables",
			Details:   err.Error(),
			Retryable: false,
			Timestamp: time.Now().UTC(),
		}
	}

	schema := GetInputSchema()
	validationResult := validation.ValidateInput(variables, schema)
	if !validationResult.Valid {
		return nil, &pipelineerrors.PipelineError{
			Code:      "VALIDATION_FAILED",
			Message:   "Job variables failed validation",
			Details:   fmt.Sprintf("Validation errors: %v", validationResult.GetErrorMessages()),
			Retryable: false,
			Timestamp: time.Now().UTC(),
		}
	}

	input := &Input{
		Query:       variables["query"].(string),
		WorkspaceID: variables["workspaceId"].(string),
	}

	if agentID, ok := variables["agentId"].(string); ok {
		input.AgentID = agentID
	}

	if rawHistory, ok := variables["history"].([]interface{}); ok {
		input.History = parseHistoryTurns(rawHistory)
	}

	return input, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, resp *models.PipelineResponse) {
	variables := completionVariables(resp)

	request, err := client.NewCompleteJobCommand().JobKey(job.GetKey()).VariablesFromMap(variables)
	if err != nil {
		h.logger.Error("Failed to create complete job command", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
		return
	}

	_, err = request.Send(ctx)
	if err != nil {
		h.logger.Error("Failed to complete job", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  err.Error(),
			"worker": TaskType,
		})
	} else {
		h.logger.Info("Successfully completed answer-query job", map[string]interface{}{
			"jobKey":    job.GetKey(),
			"requestId": resp.RequestID,
			"status":    string(resp.Status),
			"credits":   resp.Usage.Credits,
			"worker":    TaskType,
		})
	}
}

func (h *Handler) failJob(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	pipeErr := convertToPipelineError(err)
	bpmnErr := pipelineerrors.ConvertToBPMNError(pipeErr)

	h.logger.Error("Answer-query job failed", map[string]interface{}{
		"jobKey":       job.GetKey(),
		"errorCode":    bpmnErr.Code,
		"errorMessage": bpmnErr.Message,
		"retryable":    bpmnErr.Retryable,
		"retries":      bpmnErr.Retries,
		"worker":       TaskType,
	})

	failCmd := client.NewFailJobCommand().
		JobKey(job.GetKey()).
		Retries(int32(bpmnErr.Retries)).
		ErrorMessage(fmt.Sprintf("[%s] %s", bpmnErr.Code, bpmnErr.Message))

	var finalCmd interface {
		Send(context.Context) (*pb.FailJobResponse, error)
	}
	if len(bpmnErr.ErrorVariables) > 0 {
		varCmd, varErr := failCmd.VariablesFromMap(bpmnErr.ToErrorVariables())
		if varErr != nil {
			h.logger.Error("Failed to set error variables, sending without them", map[string]interface{}{
				"jobKey": job.GetKey(),
				"error":  varErr.Error(),
				"worker": TaskType,
			})
			finalCmd = failCmd
		} else {
			finalCmd = varCmd
		}
	} else {
		finalCmd = failCmd
	}

	_, failErr := finalCmd.Send(ctx)
	if failErr != nil {
		h.logger.Error("Failed to send BPMN error to Camunda", map[string]interface{}{
			"jobKey": job.GetKey(),
			"error":  failErr.Error(),
			"worker": TaskType,
		})
	}
}

func (h *Handler) Register() error {
	if !h.config.Enabled {
		h.logger.Info("Worker is disabled, skipping registration", map[string]interface{}{
			"worker": TaskType,
		})
		return nil
	}

	zeebeClient := h.camunda.GetClient()

	jobWorker := zeebeClient.NewJobWorker().
		JobType(TaskType).
		Handler(h.Handle).
		MaxJobsActive(h.config.MaxJobsActive).
		Timeout(h.config.Timeout).
		Name(fmt.Sprintf("%s-worker", TaskType)).
		Open()

	h.jobWorker = jobWorker

	h.logger.Info("Answer-query worker registered with Camunda", map[string]interface{}{
		"taskType":      TaskType,
		"maxJobsActive": h.config.MaxJobsActive,
		"timeout":       h.config.Timeout.String(),
		"enabled":       h.config.Enabled,
	})

	return nil
}

func (h *Handler) Close() {
	if h.jobWorker != nil {
		h.logger.Info("Shutting down worker gracefully", map[string]interface{}{
			"worker": TaskType,
		})
		h.jobWorker.Close()
		h.jobWorker = nil
	}
}

func (h *Handler) HealthCheck(ctx context.Context) error {
	if err := h.camunda.HealthCheck(ctx); err != nil {
		return fmt.Errorf("camunda health check failed: %w", err)
	}
	return nil
}

func (h *Handler) GetTaskType() string {
	return TaskType
}

func (h *Handler) IsEnabled() bool {
	return h.config.Enabled
}

func (h *Handler) GetConfig() *Config {
	return h.config
}

// completionVariables flattens the response envelope into process variables.
// answerStatus and answerErrorCode are the fields BPMN gateways branch on;
// the structured blocks ride along for the responding service.
func completionVariables(resp *models.PipelineResponse) map[string]interface{} {
	variables := map[string]interface{}{
		"requestId":      resp.RequestID,
		"answerStatus":   string(resp.Status),
		"answerContent":  resp.Content,
		"explainability": resp.Explainability,
		"usage":          resp.Usage,
	}

	if resp.ErrorCode != "" {
		variables["answerErrorCode"] = resp.ErrorCode
	}

	if len(resp.FollowUpQuestions) > 0 {
		variables["followUpQuestions"] = resp.FollowUpQuestions
	}

	if resp.Chart != nil {
		variables["chart"] = resp.Chart
	}

	if resp.Visualization != nil && resp.Visualization.Required {
		variables["visualization"] = resp.Visualization
	}

	return variables
}

// retryablePipelineFailure reports whether a run outcome goes back to the
// engine as a failed job. Only technical failures with retry budget left
// qualify; blocked, rejected, short-circuited and terminal failed runs
// complete with their envelope so the process can respond to the user.
func retryablePipelineFailure(resp *models.PipelineResponse) bool {
	if resp == nil || resp.Status != models.StatusFailed {
		return false
	}
	return pipelineerrors.IsRetryableErrorCode(pipelineerrors.ErrorCode(resp.ErrorCode))
}

// runFailureError shapes a failed run for the engine. The requestId travels
// in the details so an incident can be matched to the run's logs.
func runFailureError(resp *models.PipelineResponse) *pipelineerrors.PipelineError {
	return &pipelineerrors.PipelineError{
		Code:      pipelineerrors.ErrorCode(resp.ErrorCode),
		Message:   "Query pipeline run failed",
		Details:   fmt.Sprintf("requestId: %s", resp.RequestID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func extractErrorCode(err error) string {
	if pipeErr, ok := err.(*pipelineerrors.PipelineError); ok {
		return string(pipeErr.Code)
	}
	return "UNKNOWN_ERROR"
}

func convertToPipelineError(err error) *pipelineerrors.PipelineError {
	if pipeErr, ok := err.(*pipelineerrors.PipelineError); ok {
		return pipeErr
	}
	return &pipelineerrors.PipelineError{
		Code:      "ANSWER_QUERY_ERROR",
		Message:   "Failed to answer query",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// Package errors provides standardized error handling for the query pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Pipeline Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Terminal pipeline outcomes.
const (
	ErrCodeSafetyBlocked               ErrorCode = "SAFETY_BLOCKED"
	ErrCodeValidationRejectedIrrelev   ErrorCode = "VALIDATION_REJECTED_IRRELEVANT"
	ErrCodeValidationRejectedAmbiguous ErrorCode = "VALIDATION_REJECTED_AMBIGUOUS"
	ErrCodeNoSourcesAvailable          ErrorCode = "NO_SOURCES_AVAILABLE"
	ErrCodeSynthesisFailed             ErrorCode = "SYNTHESIS_FAILED"
)

// Per-source execution errors. These stay inside the result aggregate and
// never abort the pipeline on their own.
const (
	ErrCodeSchemaUnavailable     ErrorCode = "SCHEMA_UNAVAILABLE"
	ErrCodeSourceExecutionFailed ErrorCode = "SOURCE_EXECUTION_FAILED"
	ErrCodeUnsupportedSourceKind ErrorCode = "UNSUPPORTED_SOURCE_KIND"
)

// Model service errors.
const (
	ErrCodeLLMCallFailed        ErrorCode = "LLM_CALL_FAILED"
	ErrCodeLLMTimeout           ErrorCode = "LLM_TIMEOUT"
	ErrCodeMalformedModelOutput ErrorCode = "MALFORMED_MODEL_OUTPUT"
	ErrCodeEmbeddingFailed      ErrorCode = "EMBEDDING_FAILED"
)

// Infrastructure errors.
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryTimeout             ErrorCode = "QUERY_TIMEOUT"
	ErrCodeConfigDecryptionFailed   ErrorCode = "CONFIG_DECRYPTION_FAILED"
	ErrCodeRegistryLookupFailed     ErrorCode = "REGISTRY_LOOKUP_FAILED"
)

// PipelineError represents a structured application error.
type PipelineError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("PipelineError[%s]: %s", e.Code, e.Message)
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	if e.ErrorVariables != nil {
		for k, v := range e.ErrorVariables {
			vars[k] = v
		}
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewSafetyBlockedError creates a non-retryable safety rejection.
func NewSafetyBlockedError(riskLevel, reason string) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeSafetyBlocked,
		Message:   "Request blocked by safety screening",
		Details:   fmt.Sprintf("riskLevel: %s, reason: %s", riskLevel, reason),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationRejectedError creates a non-retryable validation rejection.
// Rejection kind is "irrelevant" or "ambiguous".
func NewValidationRejectedError(kind, details string) *PipelineError {
	code := ErrCodeValidationRejectedIrrelev
	if kind == "ambiguous" {
		code = ErrCodeValidationRejectedAmbiguous
	}
	return &PipelineError{
		Code:      code,
		Message:   "Question rejected during validation",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewNoSourcesAvailableError creates a non-retryable empty-workspace error.
func NewNoSourcesAvailableError(workspaceID string) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeNoSourcesAvailable,
		Message:   "No data sources available in this workspace",
		Details:   fmt.Sprintf("workspaceId: %s", workspaceID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSchemaUnavailableError creates a non-retryable per-source schema error.
func NewSchemaUnavailableError(sourceID string) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeSchemaUnavailable,
		Message:   "No captured schema for data source",
		Details:   fmt.Sprintf("sourceId: %s", sourceID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSourceExecutionFailedError creates a per-source execution error.
func NewSourceExecutionFailedError(sourceID string, err error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeSourceExecutionFailed,
		Message:   "Data source execution failed",
		Details:   fmt.Sprintf("sourceId: %s, error: %s", sourceID, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewUnsupportedSourceKindError creates a non-retryable source kind error.
func NewUnsupportedSourceKindError(sourceID, kind string) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeUnsupportedSourceKind,
		Message:   "Data source kind has no execution coordinator",
		Details:   fmt.Sprintf("sourceId: %s, kind: %s", sourceID, kind),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSynthesisFailedError creates a retryable synthesis error.
func NewSynthesisFailedError(err error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeSynthesisFailed,
		Message:   "Answer synthesis failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMCallFailedError creates a retryable model service error.
func NewLLMCallFailedError(operation string, err error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeLLMCallFailed,
		Message:   "Language model call failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewLLMTimeoutError creates a retryable model timeout error.
func NewLLMTimeoutError(operation string) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeLLMTimeout,
		Message:   "Language model call timeout",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedModelOutputError creates a non-retryable parse error. Callers
// are expected to substitute the documented default after raising this.
func NewMalformedModelOutputError(operation, detail string) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeMalformedModelOutput,
		Message:   "Language model returned unparseable output",
		Details:   fmt.Sprintf("operation: %s, detail: %s", operation, detail),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewEmbeddingFailedError creates a retryable embedding service error.
func NewEmbeddingFailedError(err error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeEmbeddingFailed,
		Message:   "Embedding service call failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable connection error.
func NewDatabaseConnectionFailedError(err error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewQueryTimeoutError creates a retryable query timeout error.
func NewQueryTimeoutError(sourceID string) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeQueryTimeout,
		Message:   "Database query timeout",
		Details:   fmt.Sprintf("sourceId: %s", sourceID),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewConfigDecryptionFailedError creates a non-retryable decryption error.
func NewConfigDecryptionFailedError(sourceID string, err error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeConfigDecryptionFailed,
		Message:   "Connection config decryption failed",
		Details:   fmt.Sprintf("sourceId: %s, error: %s", sourceID, err.Error()),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewRegistryLookupFailedError creates a retryable registry error.
func NewRegistryLookupFailedError(err error) *PipelineError {
	return &PipelineError{
		Code:      ErrCodeRegistryLookupFailed,
		Message:   "Data source registry lookup failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

// BPMNErrorMapping maps internal error codes to BPMN error codes. The engine
// uses the same identifiers, so the mapping is identity unless noted.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeSafetyBlocked:               "SAFETY_BLOCKED",
	ErrCodeValidationRejectedIrrelev:   "VALIDATION_REJECTED_IRRELEVANT",
	ErrCodeValidationRejectedAmbiguous: "VALIDATION_REJECTED_AMBIGUOUS",
	ErrCodeNoSourcesAvailable:          "NO_SOURCES_AVAILABLE",
	ErrCodeSynthesisFailed:             "SYNTHESIS_FAILED",
	ErrCodeSchemaUnavailable:           "SCHEMA_UNAVAILABLE",
	ErrCodeSourceExecutionFailed:       "SOURCE_EXECUTION_FAILED",
	ErrCodeUnsupportedSourceKind:       "UNSUPPORTED_SOURCE_KIND",
	ErrCodeLLMCallFailed:               "LLM_CALL_FAILED",
	ErrCodeLLMTimeout:                  "LLM_TIMEOUT",
	ErrCodeMalformedModelOutput:        "MALFORMED_MODEL_OUTPUT",
	ErrCodeEmbeddingFailed:             "EMBEDDING_FAILED",
	ErrCodeDatabaseConnectionFailed:    "DATABASE_CONNECTION_FAILED",
	ErrCodeQueryTimeout:                "QUERY_TIMEOUT",
	ErrCodeConfigDecryptionFailed:      "CONFIG_DECRYPTION_FAILED",
	ErrCodeRegistryLookupFailed:        "REGISTRY_LOOKUP_FAILED",
}

// GetRetryCount returns the recommended retry count per error code.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeSourceExecutionFailed,
		ErrCodeEmbeddingFailed,
		ErrCodeDatabaseConnectionFailed,
		ErrCodeRegistryLookupFailed,
		ErrCodeSynthesisFailed,
		ErrCodeLLMCallFailed:
		return 3 // Retryable technical errors

	case ErrCodeQueryTimeout:
		return 2 // Partial retry for timeouts

	case ErrCodeLLMTimeout:
		return 1 // Boundary event escalates after one retry

	default:
		return 0 // Terminal pipeline outcomes: no retry
	}
}

// ConvertToBPMNError converts a PipelineError to a BPMNError for Camunda.
func ConvertToBPMNError(pipeErr *PipelineError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[pipeErr.Code]
	if !exists {
		bpmnCode = string(pipeErr.Code) // Fallback
	}

	retries := GetRetryCount(pipeErr.Code)
	if !pipeErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   pipeErr.Message,
		Details:   pipeErr.Details,
		Retryable: pipeErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(pipeErr.Code),
			"timestamp":         pipeErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// CodeOf extracts the ErrorCode from an error chain, or "" when the chain
// holds no PipelineError.
func CodeOf(err error) ErrorCode {
	var pipeErr *PipelineError
	if stderrors.As(err, &pipeErr) {
		return pipeErr.Code
	}
	return ""
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// IsRetryableErrorCode checks if an error code is retryable.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// UserMessage returns the user-facing text for a terminal error code. Raw
// error details never reach the response body.
func UserMessage(code ErrorCode) string {
	switch code {
	case ErrCodeSafetyBlocked:
		return "I can't help with that request. If you believe this is a mistake, try rephrasing your question."
	case ErrCodeValidationRejectedIrrelev:
		return "That question doesn't seem related to the data in this workspace. Could you ask about your connected data sources?"
	case ErrCodeValidationRejectedAmbiguous:
		return "I'm not sure what you're asking. Could you rephrase the question with a bit more detail?"
	case ErrCodeNoSourcesAvailable:
		return "There are no data sources connected to this workspace yet. Connect a database, file, or API to start asking questions."
	case ErrCodeSynthesisFailed, ErrCodeLLMCallFailed, ErrCodeLLMTimeout:
		return "I ran into a problem while preparing your answer. Please try again in a moment."
	default:
		return "Something went wrong while answering your question. Please try again."
	}
}

// GetErrorCategory returns the category of the error code.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "SAFETY") || strings.Contains(codeStr, "VALIDATION"):
		return "GATE"
	case strings.Contains(codeStr, "SOURCE") || strings.Contains(codeStr, "SCHEMA"):
		return "EXECUTION"
	case strings.Contains(codeStr, "LLM") || strings.Contains(codeStr, "MODEL") || strings.Contains(codeStr, "EMBEDDING") || strings.Contains(codeStr, "SYNTHESIS"):
		return "MODEL"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY") || strings.Contains(codeStr, "REGISTRY") || strings.Contains(codeStr, "CONFIG"):
		return "INFRASTRUCTURE"
	default:
		return "OTHER"
	}
}

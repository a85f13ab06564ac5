// Package validation decides whether a question is worth running the data
// pipeline for. Two model analyses (intent and relevance) feed a fixed
// priority resolution; when either analysis cannot complete, the question is
// assumed to be a valid data query rather than rejected.
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
)

const StageName = "validation"

type Handler struct {
	config *Config
	client llm.Client
	logger logger.Logger
}

func NewHandler(config *Config, client llm.Client, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		client: client,
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	intent, intentTokens := h.analyzeIntent(ctx, input.Query)
	relevance, relevanceTokens := h.analyzeRelevance(ctx, input.Query)

	out := h.resolve(intent, relevance)
	out.TokensUsed = intentTokens + relevanceTokens

	h.logger.Info("question validated", map[string]interface{}{
		"intent":           out.Intent,
		"isValid":          out.IsValid,
		"requiresFollowUp": out.RequiresFollowUp,
		"confidence":       out.Confidence,
	})
	return out, nil
}

// resolve applies the fixed priority order: conversational intents pass
// through untouched, irrelevance rejects, low confidence downgrades a data
// query to ambiguous, everything else is a valid data query.
func (h *Handler) resolve(intent *intentAnalysis, relevance *relevanceAnalysis) *Output {
	switch intent.Intent {
	case IntentGreeting, IntentClosing, IntentContinuation, IntentClarification:
		return &Output{
			Intent:     intent.Intent,
			IsValid:    true,
			Confidence: intent.Confidence,
		}
	}

	if relevance.IsIrrelevant {
		return &Output{
			Intent:           IntentIrrelevant,
			IsValid:          false,
			RequiresFollowUp: true,
			Confidence:       relevance.Confidence,
			Reason:           relevance.Reason,
		}
	}

	if intent.Confidence < h.config.ConfidenceThreshold {
		return &Output{
			Intent:           IntentAmbiguous,
			IsValid:          false,
			RequiresFollowUp: true,
			Confidence:       intent.Confidence,
			Reason:           "intent confidence below threshold",
		}
	}

	return &Output{
		Intent:           IntentDataQuery,
		IsValid:          true,
		RequiresFollowUp: intent.Confidence < h.config.ConfidenceThreshold+h.config.FollowUpMargin,
		Confidence:       intent.Confidence,
	}
}

var intentSchema = llm.ObjectSchema(map[string]interface{}{
	"intent":     map[string]interface{}{"type": "string"},
	"confidence": map[string]interface{}{"type": "number"},
}, "intent", "confidence")

// analyzeIntent classifies the question. Any failure defaults to a confident
// data query so a flaky model never rejects real questions.
func (h *Handler) analyzeIntent(ctx context.Context, query *models.Query) (*intentAnalysis, int) {
	fallback := &intentAnalysis{Intent: IntentDataQuery, Confidence: 1.0}

	resp, err := h.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You classify user questions for a data analysis assistant. Respond with JSON only."},
			{Role: llm.RoleUser, Content: h.buildIntentPrompt(query)},
		},
		Temperature: h.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		h.logger.Warn("intent analysis call failed, defaulting to data_query", map[string]interface{}{
			"error": err.Error(),
		})
		return fallback, 0
	}

	var parsed intentAnalysis
	if err := llm.DecodeStrict(intentSchema, resp.Content, &parsed); err != nil {
		h.logger.Warn("intent analysis unparseable, defaulting to data_query", map[string]interface{}{
			"error": err.Error(),
		})
		return fallback, resp.TokensUsed
	}

	if !knownIntent(parsed.Intent) {
		parsed.Intent = IntentDataQuery
	}
	if parsed.Confidence < 0 || parsed.Confidence > 1 {
		parsed.Confidence = 0.5
	}
	return &parsed, resp.TokensUsed
}

var relevanceSchema = llm.ObjectSchema(map[string]interface{}{
	"is_irrelevant": map[string]interface{}{"type": "boolean"},
	"reason":        map[string]interface{}{"type": "string"},
	"confidence":    map[string]interface{}{"type": "number"},
}, "is_irrelevant", "confidence")

// analyzeRelevance checks whether the question belongs in a data product at
// all. Any failure defaults to relevant.
func (h *Handler) analyzeRelevance(ctx context.Context, query *models.Query) (*relevanceAnalysis, int) {
	fallback := &relevanceAnalysis{IsIrrelevant: false}

	resp, err := h.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You screen questions for a data analysis assistant. Respond with JSON only."},
			{Role: llm.RoleUser, Content: h.buildRelevancePrompt(query)},
		},
		Temperature: h.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		h.logger.Warn("relevance analysis call failed, assuming relevant", map[string]interface{}{
			"error": err.Error(),
		})
		return fallback, 0
	}

	var parsed relevanceAnalysis
	if err := llm.DecodeStrict(relevanceSchema, resp.Content, &parsed); err != nil {
		h.logger.Warn("relevance analysis unparseable, assuming relevant", map[string]interface{}{
			"error": err.Error(),
		})
		return fallback, resp.TokensUsed
	}
	return &parsed, resp.TokensUsed
}

func (h *Handler) buildIntentPrompt(query *models.Query) string {
	var parts []string
	parts = append(parts, "Classify the intent of the user's message in a data analysis conversation.")
	parts = append(parts, fmt.Sprintf("\nUser Message: %s", query.Text))

	if history := query.RecentHistory(h.config.MaxHistoryTurns); len(history) > 0 {
		historyJSON, _ := json.MarshalIndent(history, "", "  ")
		parts = append(parts, fmt.Sprintf("\nRecent Conversation:\n%s", string(historyJSON)))
	}

	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- intent must be one of: greeting, closing, continuation, clarification, data_query")
	parts = append(parts, "- continuation means the message builds on the previous answer")
	parts = append(parts, "- clarification means the message answers a question the assistant asked")
	parts = append(parts, "- confidence is a number between 0 and 1")
	parts = append(parts, `- Respond with JSON: {"intent": "...", "confidence": 0.0}`)
	return strings.Join(parts, "\n")
}

func (h *Handler) buildRelevancePrompt(query *models.Query) string {
	var parts []string
	parts = append(parts, "Decide whether the user's message belongs in a conversation about their connected business data.")
	parts = append(parts, fmt.Sprintf("\nUser Message: %s", query.Text))
	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- is_irrelevant is true only when the message clearly has nothing to do with data analysis, such as requests for jokes, recipes, or personal advice")
	parts = append(parts, "- When unsure, keep is_irrelevant false")
	parts = append(parts, "- reason briefly explains an irrelevant verdict")
	parts = append(parts, `- Respond with JSON: {"is_irrelevant": false, "reason": "...", "confidence": 0.0}`)
	return strings.Join(parts, "\n")
}

func knownIntent(intent string) bool {
	switch intent {
	case IntentGreeting, IntentClosing, IntentContinuation, IntentClarification, IntentDataQuery:
		return true
	}
	return false
}

// Package synthesis turns the per-source execution results into one
// attributed answer. It never invents a narrative: when every source failed
// the stage returns a clarification response without spending a single model
// token, and when the model's output is unusable it degrades to a plain
// row-count summary built from the results themselves.
package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
)

const StageName = "synthesis"

var ErrNoResults = errors.New("NO_RESULTS")

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
	if len(input.Results) == 0 {
		return nil, ErrNoResults
	}

	if !models.AnySucceeded(input.Results) {
		h.logger.Warn("every source failed, returning clarification response", map[string]interface{}{
			"sourceCount": len(input.Results),
		})
		return &Output{
			Answer:           failureAnswer(input.Results),
			AllSourcesFailed: true,
		}, nil
	}

	clarificationReply, clarificationTokens := h.detectClarificationReply(ctx, input.Query)
	answer, synthesisTokens := h.synthesize(ctx, input, clarificationReply)

	out := &Output{
		Answer:             answer,
		ClarificationReply: clarificationReply,
		TokensUsed:         clarificationTokens + synthesisTokens,
	}
	h.logger.Info("answer synthesized", map[string]interface{}{
		"confidence":         answer.Confidence,
		"attributionCount":   len(answer.Attributions),
		"clarificationReply": clarificationReply,
		"tokensUsed":         out.TokensUsed,
	})
	return out, nil
}

// clarificationMarkers flag agent turns that were asking the user to narrow
// the question down.
var clarificationMarkers = []string{
	"clarify",
	"be more specific",
	"did you mean",
	"which of",
	"what do you mean",
	"what time period",
	"which period",
	"narrow down",
	"rephrase",
	"specify",
}

func seeksClarification(text string) bool {
	lowered := strings.ToLower(text)
	for _, marker := range clarificationMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

var clarificationSchema = llm.ObjectSchema(map[string]interface{}{
	"is_clarification_reply": map[string]interface{}{"type": "boolean"},
	"confidence":             map[string]interface{}{"type": "number"},
}, "is_clarification_reply")

// detectClarificationReply decides whether the current message answers a
// clarifying question the assistant asked last turn. The model is only
// consulted when the last agent turn actually sought clarification; any
// failure falls back to treating the message as a fresh question.
func (h *Handler) detectClarificationReply(ctx context.Context, query *models.Query) (bool, int) {
	lastAgent := query.LastAgentTurn()
	if lastAgent == nil || !seeksClarification(lastAgent.Content) {
		return false, 0
	}

	resp, err := h.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You interpret conversational state for a data analysis assistant. Respond with JSON only."},
			{Role: llm.RoleUser, Content: h.buildClarificationPrompt(lastAgent.Content, query.Text)},
		},
		Temperature: h.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		h.logger.Warn("clarification check call failed, treating as fresh question", map[string]interface{}{
			"error": err.Error(),
		})
		return false, 0
	}

	var parsed clarificationCheck
	if err := llm.DecodeStrict(clarificationSchema, resp.Content, &parsed); err != nil {
		h.logger.Warn("clarification check unparseable, treating as fresh question", map[string]interface{}{
			"error": err.Error(),
		})
		return false, resp.TokensUsed
	}
	return parsed.IsClarificationReply, resp.TokensUsed
}

var answerSchema = llm.ObjectSchema(map[string]interface{}{
	"content": map[string]interface{}{"type": "string"},
	"attributions": map[string]interface{}{
		"type": "array",
		"items": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"source_id":    map[string]interface{}{"type": "string"},
				"contribution": map[string]interface{}{"type": "string"},
				"confidence":   map[string]interface{}{"type": "number"},
			},
			"required": []string{"source_id"},
		},
	},
	"insights":            map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
	"conflicts":           map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
	"gaps":                map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
	"follow_up_questions": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
	"confidence":          map[string]interface{}{"type": "number"},
}, "content")

func (h *Handler) synthesize(ctx context.Context, input *Input, clarificationReply bool) (*models.SynthesizedAnswer, int) {
	resp, err := h.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You are a data analyst who writes grounded, source-attributed answers. Respond with JSON only."},
			{Role: llm.RoleUser, Content: h.buildSynthesisPrompt(input.Query, input.Results, clarificationReply)},
		},
		Temperature: h.config.Temperature,
		MaxTokens:   h.config.MaxTokens,
		JSONMode:    true,
	})
	if err != nil {
		h.logger.Warn("synthesis call failed, summarizing row counts", map[string]interface{}{
			"error": err.Error(),
		})
		return h.fallbackAnswer(input.Results), 0
	}

	var parsed answerResult
	if err := llm.DecodeStrict(answerSchema, resp.Content, &parsed); err != nil {
		h.logger.Warn("synthesis output unparseable, summarizing row counts", map[string]interface{}{
			"error": err.Error(),
		})
		return h.fallbackAnswer(input.Results), resp.TokensUsed
	}

	return h.assemble(&parsed, input.Results), resp.TokensUsed
}

// assemble validates the model's answer against the results it claims to
// describe. Attributions naming sources that were never executed are dropped.
func (h *Handler) assemble(parsed *answerResult, results []models.SourceExecutionResult) *models.SynthesizedAnswer {
	answer := &models.SynthesizedAnswer{
		Content:           strings.TrimSpace(parsed.Content),
		Insights:          compact(parsed.Insights),
		Conflicts:         compact(parsed.Conflicts),
		Gaps:              compact(parsed.Gaps),
		FollowUpQuestions: compact(parsed.FollowUpQuestions),
		Confidence:        parsed.Confidence,
	}
	if answer.Content == "" {
		answer.Content = "I don't have enough information to answer that question."
		answer.Confidence = 0.1
	}
	if answer.Confidence < 0 || answer.Confidence > 1 {
		answer.Confidence = 0.5
	}

	names := make(map[string]string, len(results))
	for _, r := range results {
		names[r.SourceID] = r.SourceName
	}
	for _, entry := range parsed.Attributions {
		name, ok := names[entry.SourceID]
		if !ok {
			h.logger.Warn("attribution names unknown source, dropping", map[string]interface{}{
				"sourceId": entry.SourceID,
			})
			continue
		}
		answer.Attributions = append(answer.Attributions, models.Attribution{
			SourceID:     entry.SourceID,
			SourceName:   name,
			Contribution: entry.Contribution,
			Confidence:   entry.Confidence,
		})
	}
	return answer
}

// fallbackAnswer reports what came back without narrating it. Row counts
// only, no invented numbers.
func (h *Handler) fallbackAnswer(results []models.SourceExecutionResult) *models.SynthesizedAnswer {
	answer := &models.SynthesizedAnswer{Confidence: 0.3}

	var counts []string
	for _, r := range results {
		if !r.Success {
			answer.Gaps = append(answer.Gaps, fmt.Sprintf("%s: %s", r.SourceName, r.Error))
			continue
		}
		counts = append(counts, fmt.Sprintf("%s returned %d rows", r.SourceName, len(r.Data)))
		answer.Attributions = append(answer.Attributions, models.Attribution{
			SourceID:     r.SourceID,
			SourceName:   r.SourceName,
			Contribution: fmt.Sprintf("%d rows", len(r.Data)),
			Confidence:   r.ConfidenceScore,
		})
	}

	answer.Content = fmt.Sprintf(
		"I retrieved the data but couldn't summarize it this time: %s. Please ask again.",
		strings.Join(counts, "; "))
	return answer
}

// failureAnswer covers the run where every source failed. No narrative, no
// model call.
func failureAnswer(results []models.SourceExecutionResult) *models.SynthesizedAnswer {
	answer := &models.SynthesizedAnswer{
		Content:             "I couldn't retrieve data from any of the connected sources for this question. Please try again in a moment, or rephrase the question.",
		ClarificationNeeded: true,
	}
	for _, r := range results {
		answer.Gaps = append(answer.Gaps, fmt.Sprintf("%s: %s", r.SourceName, r.Error))
	}
	return answer
}

func (h *Handler) buildClarificationPrompt(agentTurn, userText string) string {
	var parts []string
	parts = append(parts, "Decide whether the user's message answers the assistant's clarifying question.")
	parts = append(parts, fmt.Sprintf("\nAssistant Asked: %s", agentTurn))
	parts = append(parts, fmt.Sprintf("\nUser Replied: %s", userText))
	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- is_clarification_reply is true only when the reply supplies the detail the assistant asked for")
	parts = append(parts, "- A new unrelated question is not a clarification reply")
	parts = append(parts, `- Respond with JSON: {"is_clarification_reply": false, "confidence": 0.0}`)
	return strings.Join(parts, "\n")
}

func (h *Handler) buildSynthesisPrompt(query *models.Query, results []models.SourceExecutionResult, clarificationReply bool) string {
	var parts []string
	parts = append(parts, "You are a data analyst. Answer the user's question based ONLY on the data returned by their connected sources.")
	parts = append(parts, fmt.Sprintf("\nUser Question: %s", query.Text))

	if clarificationReply {
		parts = append(parts, "\nThe user is answering a clarifying question the assistant asked; read their message together with the recent conversation.")
	}

	if history := query.RecentHistory(h.config.MaxHistoryTurns); len(history) > 0 {
		historyJSON, _ := json.MarshalIndent(history, "", "  ")
		parts = append(parts, fmt.Sprintf("\nRecent Conversation:\n%s", string(historyJSON)))
	}

	for _, r := range results {
		if !r.Success {
			continue
		}
		rows := r.Data
		if h.config.MaxRowsPerSource > 0 && len(rows) > h.config.MaxRowsPerSource {
			rows = rows[:h.config.MaxRowsPerSource]
		}
		rowsJSON, _ := json.MarshalIndent(rows, "", "  ")
		parts = append(parts, fmt.Sprintf("\nSource: %s (id: %s, kind: %s, rows: %d)\n%s",
			r.SourceName, r.SourceID, r.Kind, len(r.Data), string(rowsJSON)))
	}

	var failed []string
	for _, r := range results {
		if !r.Success {
			failed = append(failed, fmt.Sprintf("- %s: %s", r.SourceName, r.Error))
		}
	}
	if len(failed) > 0 {
		parts = append(parts, "\nUnavailable Sources:")
		parts = append(parts, failed...)
	}

	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Use only the rows above; never invent numbers")
	parts = append(parts, "- content is the answer in plain prose")
	parts = append(parts, "- attributions name each source that contributed, by its id")
	parts = append(parts, "- conflicts lists disagreements between sources, gaps lists what the data could not answer, including unavailable sources")
	parts = append(parts, "- follow_up_questions are 2-3 short questions grounded in the returned data, not generic suggestions")
	parts = append(parts, "- confidence is a number between 0 and 1")
	parts = append(parts, `- Respond with JSON: {"content": "...", "attributions": [{"source_id": "...", "contribution": "...", "confidence": 0.0}], "insights": [], "conflicts": [], "gaps": [], "follow_up_questions": [], "confidence": 0.0}`)
	return strings.Join(parts, "\n")
}

func compact(items []string) []string {
	var out []string
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

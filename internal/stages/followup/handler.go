// Package followup proposes the next questions worth asking. Follow-ups the
// synthesis stage already attached take precedence; one generation call tops
// the list up, and duplicates differing only in case or spacing collapse.
package followup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
)

const StageName = "follow_up"

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
	var seed []string
	if input.Answer != nil {
		seed = input.Answer.FollowUpQuestions
	}

	// When synthesis already filled the list there is nothing left to
	// generate, so the call is skipped entirely.
	seeded := mergeQuestions(h.config.MaxQuestions, seed)
	if h.config.MaxQuestions > 0 && len(seeded) >= h.config.MaxQuestions {
		return &Output{Questions: seeded}, nil
	}

	generated, tokens := h.generate(ctx, input)

	out := &Output{
		Questions:  mergeQuestions(h.config.MaxQuestions, seed, generated),
		TokensUsed: tokens,
	}
	h.logger.Info("follow-up questions assembled", map[string]interface{}{
		"fromSynthesis": len(seed),
		"generated":     len(generated),
		"final":         len(out.Questions),
	})
	return out, nil
}

var questionsSchema = llm.ObjectSchema(map[string]interface{}{
	"questions": map[string]interface{}{
		"type":  "array",
		"items": map[string]interface{}{"type": "string"},
	},
}, "questions")

// generate asks the model for follow-ups grounded in the answer. Any failure
// leaves the synthesis-provided questions standing alone.
func (h *Handler) generate(ctx context.Context, input *Input) ([]string, int) {
	resp, err := h.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You suggest follow-up questions for a data analysis conversation. Respond with JSON only."},
			{Role: llm.RoleUser, Content: h.buildPrompt(input)},
		},
		Temperature: h.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		h.logger.Warn("follow-up call failed, keeping synthesis questions", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, 0
	}

	var parsed followUpResult
	if err := llm.DecodeStrict(questionsSchema, resp.Content, &parsed); err != nil {
		h.logger.Warn("follow-up output unparseable, keeping synthesis questions", map[string]interface{}{
			"error": err.Error(),
		})
		return nil, resp.TokensUsed
	}
	return parsed.Questions, resp.TokensUsed
}

// mergeQuestions concatenates the groups in order, dropping blanks and
// duplicates that differ only in case or spacing, and caps the result.
func mergeQuestions(limit int, groups ...[]string) []string {
	var merged []string
	seen := make(map[string]bool)
	for _, group := range groups {
		for _, question := range group {
			trimmed := strings.TrimSpace(question)
			if trimmed == "" {
				continue
			}
			key := strings.Join(strings.Fields(strings.ToLower(trimmed)), " ")
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, trimmed)
			if limit > 0 && len(merged) >= limit {
				return merged
			}
		}
	}
	return merged
}

func (h *Handler) buildPrompt(input *Input) string {
	var parts []string
	parts = append(parts, "Suggest follow-up questions the user could ask next about their data.")
	parts = append(parts, fmt.Sprintf("\nUser Question: %s", input.Query.Text))

	if input.Answer != nil && input.Answer.Content != "" {
		parts = append(parts, fmt.Sprintf("\nAnswer Given: %s", input.Answer.Content))
	}
	if len(input.SourceNames) > 0 {
		parts = append(parts, fmt.Sprintf("\nData Sources Used: %s", strings.Join(input.SourceNames, ", ")))
	}
	if history := input.Query.RecentHistory(h.config.MaxHistoryTurns); len(history) > 0 {
		historyJSON, _ := json.MarshalIndent(history, "", "  ")
		parts = append(parts, fmt.Sprintf("\nRecent Conversation:\n%s", string(historyJSON)))
	}

	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Suggest 2-3 short questions answerable from the same data sources")
	parts = append(parts, "- Each question must build on the answer given, not repeat it")
	parts = append(parts, "- No generic questions like \"anything else?\"")
	parts = append(parts, `- Respond with JSON: {"questions": ["...", "..."]}`)
	return strings.Join(parts, "\n")
}

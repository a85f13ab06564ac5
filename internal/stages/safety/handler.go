// Package safety screens incoming questions before any model call or source
// access. The gate is a local denylist check, so a clean question costs
// nothing, and a checker fault fails open rather than locking users out.
package safety

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/models"
)

const StageName = "safety"

var ErrMissingQuery = errors.New("MISSING_QUERY")

// blockPatterns stop the pipeline outright. Categories cover harmful-content
// requests, credential fishing against connected sources, destructive data
// operations, and prompt-injection attempts.
var blockPatterns = []struct {
	category string
	re       *regexp.Regexp
}{
	{"harmful_content", regexp.MustCompile(`(?i)\bhow\s+(?:to|do\s+i)\s+(?:make|build|create)\s+(?:a\s+)?(?:bomb|weapon|explosive|poison)\b`)},
	{"harmful_content", regexp.MustCompile(`(?i)\b(?:hurt|harm|kill)\s+(?:myself|someone|people)\b`)},
	{"credential_fishing", regexp.MustCompile(`(?i)\b(?:show|reveal|give|dump)\s+(?:me\s+)?(?:the\s+)?(?:password|credential|api\s*key|secret|connection\s+string)s?\b`)},
	{"destructive_operation", regexp.MustCompile(`(?i)\b(?:drop|truncate)\s+(?:table|database|schema)\b`)},
	{"destructive_operation", regexp.MustCompile(`(?i)\bdelete\s+(?:all|every)\s+(?:record|row|entry|data)`)},
	{"prompt_injection", regexp.MustCompile(`(?i)\bignore\s+(?:all\s+)?(?:your\s+|previous\s+|prior\s+)?(?:instructions|prompts?|rules)\b`)},
	{"prompt_injection", regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(?:a|an|in)\b.{0,40}\bmode\b`)},
}

// flagPatterns let the question through but mark it medium risk for the
// downstream stages and the audit trail.
var flagPatterns = []struct {
	category string
	re       *regexp.Regexp
}{
	{"system_probing", regexp.MustCompile(`(?i)\b(?:what|which)\s+(?:model|llm|ai)\s+(?:are|is)\b`)},
	{"system_probing", regexp.MustCompile(`(?i)\bsystem\s+prompt\b`)},
	{"bulk_extraction", regexp.MustCompile(`(?i)\b(?:export|dump|extract)\s+(?:the\s+)?(?:entire|whole|full|all)\s+(?:database|dataset|table)s?\b`)},
}

type Handler struct {
	config *Config
	logger logger.Logger
}

func NewHandler(config *Config, log logger.Logger) *Handler {
	return &Handler{
		config: config,
		logger: log.With(map[string]interface{}{
			"stage": StageName,
		}),
	}
}

// Execute never fails the pipeline: a checker error produces a fail-open
// verdict (allowed, medium risk) with a warning in the log.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	out, err := h.evaluate(input)
	if err != nil {
		h.logger.Warn("safety check errored, failing open", map[string]interface{}{
			"error": err.Error(),
		})
		return &Output{Allowed: true, RiskLevel: RiskMedium, Reason: "checker_error"}, nil
	}

	if !out.Allowed {
		h.logger.Info("question blocked", map[string]interface{}{
			"riskLevel": out.RiskLevel,
			"reason":    out.Reason,
		})
	}
	return out, nil
}

func (h *Handler) evaluate(input *Input) (*Output, error) {
	if input == nil || input.Query == nil {
		return nil, ErrMissingQuery
	}

	texts := []string{input.Query.Text}
	for _, turn := range input.Query.RecentHistory(h.config.MaxHistoryTurns) {
		if turn.Sender == models.SenderUser {
			texts = append(texts, turn.Content)
		}
	}
	joined := strings.Join(texts, "\n")

	for _, p := range blockPatterns {
		if p.re.MatchString(joined) {
			return &Output{Allowed: false, RiskLevel: RiskHigh, Reason: p.category}, nil
		}
	}
	for _, p := range flagPatterns {
		if p.re.MatchString(joined) {
			return &Output{Allowed: true, RiskLevel: RiskMedium, Reason: p.category}, nil
		}
	}
	return &Output{Allowed: true, RiskLevel: RiskLow}, nil
}

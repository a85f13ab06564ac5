// Package greeting short-circuits conversational pleasantries before the
// expensive stages run. A phrase-table match costs nothing; only short
// unmatched messages get one classification call.
package greeting

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
)

const StageName = "greeting"

// phraseTable maps normalized messages to their greeting type. Matching is
// exact after normalization, so "Hello!!" and "hello" both hit.
var phraseTable = map[string]string{
	"hi":             TypeGreeting,
	"hello":          TypeGreeting,
	"hey":            TypeGreeting,
	"hey there":      TypeGreeting,
	"hi there":       TypeGreeting,
	"good morning":   TypeGreeting,
	"good afternoon": TypeGreeting,
	"good evening":   TypeGreeting,
	"howdy":          TypeGreeting,
	"greetings":      TypeGreeting,
	"yo":             TypeGreeting,

	"bye":           TypeClosing,
	"goodbye":       TypeClosing,
	"good night":    TypeClosing,
	"see you":       TypeClosing,
	"see ya":        TypeClosing,
	"see you later": TypeClosing,
	"later":         TypeClosing,
	"take care":     TypeClosing,

	"thanks":        TypeThanks,
	"thank you":     TypeThanks,
	"thx":           TypeThanks,
	"ty":            TypeThanks,
	"thanks a lot":  TypeThanks,
	"appreciate it": TypeThanks,

	"how are you":     TypeSmalltalk,
	"how is it going": TypeSmalltalk,
	"hows it going":   TypeSmalltalk,
	"whats up":        TypeSmalltalk,
	"sup":             TypeSmalltalk,
}

// responseTable holds the canned replies per type. Selection rotates by a
// hash of the message so repeated identical greetings stay deterministic
// without shared state.
var responseTable = map[string][]string{
	TypeGreeting: {
		"Hello! Ask me anything about the data connected to this workspace.",
		"Hi there! What would you like to know about your data?",
		"Hey! I'm ready to dig into your data whenever you are.",
	},
	TypeClosing: {
		"Goodbye! Come back anytime you have questions about your data.",
		"Take care! I'll be here when you need another look at the numbers.",
	},
	TypeThanks: {
		"You're welcome! Happy to help with anything else.",
		"Glad I could help! Let me know if another question comes up.",
	},
	TypeSmalltalk: {
		"I'm doing well, thanks! What can I look up in your data today?",
		"All good here! Ask away whenever you're ready.",
	},
}

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

// Execute detects greetings. Classification failures are swallowed: the
// message is treated as a real question and the pipeline continues.
func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	text := input.Query.Text
	normalized := normalize(text)

	if greetingType, ok := phraseTable[normalized]; ok {
		return &Output{
			IsGreeting:   true,
			GreetingType: greetingType,
			Response:     pickResponse(greetingType, normalized),
		}, nil
	}

	if wordCount(normalized) > h.config.MaxWordsForModelCheck {
		return &Output{GreetingType: TypeNone}, nil
	}

	greetingType, tokens := h.classify(ctx, text)
	out := &Output{GreetingType: greetingType, TokensUsed: tokens}
	if greetingType != TypeNone {
		out.IsGreeting = true
		out.Response = pickResponse(greetingType, normalized)
	}
	return out, nil
}

var classifySchema = llm.ObjectSchema(map[string]interface{}{
	"greeting_type": map[string]interface{}{"type": "string"},
	"confidence":    map[string]interface{}{"type": "number"},
}, "greeting_type", "confidence")

func (h *Handler) classify(ctx context.Context, text string) (string, int) {
	resp, err := h.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You classify short chat messages. Respond with JSON only."},
			{Role: llm.RoleUser, Content: buildClassifyPrompt(text)},
		},
		Temperature: h.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		h.logger.Warn("greeting classification call failed, treating as question", map[string]interface{}{
			"error": err.Error(),
		})
		return TypeNone, 0
	}

	var parsed struct {
		GreetingType string  `json:"greeting_type"`
		Confidence   float64 `json:"confidence"`
	}
	if err := llm.DecodeStrict(classifySchema, resp.Content, &parsed); err != nil {
		h.logger.Warn("greeting classification unparseable, treating as question", map[string]interface{}{
			"error": err.Error(),
		})
		return TypeNone, resp.TokensUsed
	}

	if parsed.Confidence < h.config.MinConfidence || !knownType(parsed.GreetingType) {
		return TypeNone, resp.TokensUsed
	}
	return parsed.GreetingType, resp.TokensUsed
}

func buildClassifyPrompt(text string) string {
	var parts []string
	parts = append(parts, "Classify whether this message is a conversational pleasantry rather than a data question.")
	parts = append(parts, fmt.Sprintf("\nMessage: %s", text))
	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- greeting_type must be one of: greeting, closing, thanks, smalltalk, none")
	parts = append(parts, "- Use none for anything that asks about data, even casually phrased")
	parts = append(parts, "- confidence is a number between 0 and 1")
	parts = append(parts, `- Respond with JSON: {"greeting_type": "...", "confidence": 0.0}`)
	return strings.Join(parts, "\n")
}

func knownType(t string) bool {
	switch t {
	case TypeGreeting, TypeClosing, TypeThanks, TypeSmalltalk:
		return true
	}
	return false
}

func pickResponse(greetingType, normalized string) string {
	responses := responseTable[greetingType]
	if len(responses) == 0 {
		responses = responseTable[TypeGreeting]
	}
	hash := fnv.New32a()
	hash.Write([]byte(normalized))
	return responses[int(hash.Sum32())%len(responses)]
}

func normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.Map(func(r rune) rune {
		switch r {
		case '!', '?', '.', ',', ';', ':', '\'', '"':
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

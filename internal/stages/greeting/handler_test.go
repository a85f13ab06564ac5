package greeting

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
)

type stubClient struct {
	response *llm.CompletionResponse
	err      error
	calls    int
	lastReq  *llm.CompletionRequest
}

func (s *stubClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func newTestHandler(t *testing.T, client llm.Client) *Handler {
	t.Helper()
	return NewHandler(LoadConfig(), client, logger.NewTestLogger(t))
}

func queryInput(text string) *Input {
	return &Input{Query: &models.Query{Text: text, WorkspaceID: "ws-1"}}
}

// ==========================
// Phrase Table Tests
// ==========================

func TestHandler_Execute_PhraseTableMatch(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		greetingType string
	}{
		{"plain hello", "hello", TypeGreeting},
		{"punctuated", "Hello!!", TypeGreeting},
		{"padded and cased", "  Good Morning  ", TypeGreeting},
		{"closing", "goodbye", TypeClosing},
		{"thanks", "Thank you.", TypeThanks},
		{"smalltalk", "how are you?", TypeSmalltalk},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{}
			handler := newTestHandler(t, client)

			out, err := handler.Execute(context.Background(), queryInput(tt.text))

			require.NoError(t, err)
			assert.True(t, out.IsGreeting)
			assert.Equal(t, tt.greetingType, out.GreetingType)
			assert.NotEmpty(t, out.Response)
			assert.Contains(t, responseTable[tt.greetingType], out.Response)

			// Table hits must never reach the model.
			assert.Zero(t, client.calls)
			assert.Zero(t, out.TokensUsed)
		})
	}
}

func TestHandler_Execute_ResponseRotationIsDeterministic(t *testing.T) {
	client := &stubClient{}
	handler := newTestHandler(t, client)

	first, err := handler.Execute(context.Background(), queryInput("hello"))
	require.NoError(t, err)
	second, err := handler.Execute(context.Background(), queryInput("hello"))
	require.NoError(t, err)

	assert.Equal(t, first.Response, second.Response)
}

// ==========================
// Model Classification Tests
// ==========================

func TestHandler_Execute_ShortUnmatchedMessageAsksModel(t *testing.T) {
	client := &stubClient{response: &llm.CompletionResponse{
		Content:    `{"greeting_type": "greeting", "confidence": 0.92}`,
		TokensUsed: 40,
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("hiya friend"))

	require.NoError(t, err)
	assert.Equal(t, 1, client.calls)
	assert.True(t, out.IsGreeting)
	assert.Equal(t, TypeGreeting, out.GreetingType)
	assert.NotEmpty(t, out.Response)
	assert.Equal(t, 40, out.TokensUsed)
	assert.True(t, client.lastReq.JSONMode)
}

func TestHandler_Execute_LongMessageSkipsModel(t *testing.T) {
	client := &stubClient{}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(),
		queryInput("show me the total donation amount grouped by city for the last quarter"))

	require.NoError(t, err)
	assert.Zero(t, client.calls)
	assert.False(t, out.IsGreeting)
	assert.Equal(t, TypeNone, out.GreetingType)
	assert.Empty(t, out.Response)
}

func TestHandler_Execute_LowConfidenceTreatedAsQuestion(t *testing.T) {
	client := &stubClient{response: &llm.CompletionResponse{
		Content:    `{"greeting_type": "greeting", "confidence": 0.3}`,
		TokensUsed: 35,
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("top donors"))

	require.NoError(t, err)
	assert.False(t, out.IsGreeting)
	assert.Equal(t, TypeNone, out.GreetingType)
	// Tokens were still spent on the call and must be reported.
	assert.Equal(t, 35, out.TokensUsed)
}

func TestHandler_Execute_UnknownTypeTreatedAsQuestion(t *testing.T) {
	client := &stubClient{response: &llm.CompletionResponse{
		Content:    `{"greeting_type": "salutation", "confidence": 0.95}`,
		TokensUsed: 30,
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("top donors"))

	require.NoError(t, err)
	assert.False(t, out.IsGreeting)
	assert.Equal(t, TypeNone, out.GreetingType)
}

func TestHandler_Execute_MalformedModelOutputTreatedAsQuestion(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"not json", "probably a greeting"},
		{"missing field", `{"confidence": 0.9}`},
		{"wrong type", `{"greeting_type": 1, "confidence": 0.9}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubClient{response: &llm.CompletionResponse{Content: tt.content, TokensUsed: 20}}
			handler := newTestHandler(t, client)

			out, err := handler.Execute(context.Background(), queryInput("top donors"))

			require.NoError(t, err)
			assert.False(t, out.IsGreeting)
			assert.Equal(t, TypeNone, out.GreetingType)
		})
	}
}

func TestHandler_Execute_ModelCallFailureTreatedAsQuestion(t *testing.T) {
	client := &stubClient{err: errors.New("service unavailable")}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("top donors"))

	require.NoError(t, err)
	assert.False(t, out.IsGreeting)
	assert.Equal(t, TypeNone, out.GreetingType)
	assert.Zero(t, out.TokensUsed)
}

// ==========================
// Benchmarks
// ==========================

func BenchmarkHandler_Execute_TableHit(b *testing.B) {
	handler := NewHandler(LoadConfig(), &stubClient{}, logger.NewNoOpLogger())
	input := queryInput("hello")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = handler.Execute(context.Background(), input)
	}
}

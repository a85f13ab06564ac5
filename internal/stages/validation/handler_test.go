package validation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
)

// scriptedClient replays one response (or error) per call, in order.
type scriptedClient struct {
	responses []*llm.CompletionResponse
	errs      []error
	calls     int
	requests  []*llm.CompletionRequest
}

func (s *scriptedClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	i := s.calls
	s.calls++
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.responses) && s.responses[i] != nil {
		return s.responses[i], nil
	}
	return nil, fmt.Errorf("unexpected call %d", i)
}

func intentResponse(intent string, confidence float64, tokens int) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content:    fmt.Sprintf(`{"intent": %q, "confidence": %v}`, intent, confidence),
		TokensUsed: tokens,
	}
}

func relevanceResponse(irrelevant bool, reason string, tokens int) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Content:    fmt.Sprintf(`{"is_irrelevant": %v, "reason": %q, "confidence": 0.9}`, irrelevant, reason),
		TokensUsed: tokens,
	}
}

func newTestHandler(t *testing.T, client llm.Client) *Handler {
	t.Helper()
	return NewHandler(LoadConfig(), client, logger.NewTestLogger(t))
}

func queryInput(text string) *Input {
	return &Input{Query: &models.Query{Text: text, WorkspaceID: "ws-1"}}
}

// ==========================
// Priority Resolution Tests
// ==========================

func TestHandler_Execute_ConversationalIntentsPassThrough(t *testing.T) {
	for _, intent := range []string{IntentGreeting, IntentClosing, IntentContinuation, IntentClarification} {
		t.Run(intent, func(t *testing.T) {
			client := &scriptedClient{responses: []*llm.CompletionResponse{
				intentResponse(intent, 0.9, 50),
				// Even a flagged-irrelevant verdict must lose to the intent.
				relevanceResponse(true, "off topic", 40),
			}}
			handler := newTestHandler(t, client)

			out, err := handler.Execute(context.Background(), queryInput("and last year?"))

			require.NoError(t, err)
			assert.Equal(t, intent, out.Intent)
			assert.True(t, out.IsValid)
			assert.False(t, out.RequiresFollowUp)
		})
	}
}

func TestHandler_Execute_IrrelevantQuestionRejected(t *testing.T) {
	client := &scriptedClient{responses: []*llm.CompletionResponse{
		intentResponse(IntentDataQuery, 0.9, 50),
		relevanceResponse(true, "asks for a cake recipe", 40),
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("give me a cake recipe"))

	require.NoError(t, err)
	assert.Equal(t, IntentIrrelevant, out.Intent)
	assert.False(t, out.IsValid)
	assert.True(t, out.RequiresFollowUp)
	assert.Equal(t, "asks for a cake recipe", out.Reason)
}

func TestHandler_Execute_LowConfidenceBecomesAmbiguous(t *testing.T) {
	client := &scriptedClient{responses: []*llm.CompletionResponse{
		intentResponse(IntentDataQuery, 0.3, 50),
		relevanceResponse(false, "", 40),
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("the numbers thing"))

	require.NoError(t, err)
	assert.Equal(t, IntentAmbiguous, out.Intent)
	assert.False(t, out.IsValid)
	assert.True(t, out.RequiresFollowUp)
}

func TestHandler_Execute_ValidDataQuery(t *testing.T) {
	client := &scriptedClient{responses: []*llm.CompletionResponse{
		intentResponse(IntentDataQuery, 0.95, 50),
		relevanceResponse(false, "", 40),
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("how many donations in Hyderabad?"))

	require.NoError(t, err)
	assert.Equal(t, IntentDataQuery, out.Intent)
	assert.True(t, out.IsValid)
	assert.False(t, out.RequiresFollowUp)
	assert.InDelta(t, 0.95, out.Confidence, 0.001)
}

func TestHandler_Execute_BorderlineDataQuerySuggestsFollowUp(t *testing.T) {
	// Confidence above the rejection threshold but inside the follow-up band.
	client := &scriptedClient{responses: []*llm.CompletionResponse{
		intentResponse(IntentDataQuery, 0.6, 50),
		relevanceResponse(false, "", 40),
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("donations this period"))

	require.NoError(t, err)
	assert.Equal(t, IntentDataQuery, out.Intent)
	assert.True(t, out.IsValid)
	assert.True(t, out.RequiresFollowUp)
}

// ==========================
// Failure Default Tests
// ==========================

func TestHandler_Execute_IntentCallFailureDefaultsToDataQuery(t *testing.T) {
	client := &scriptedClient{
		errs:      []error{errors.New("service down"), nil},
		responses: []*llm.CompletionResponse{nil, relevanceResponse(false, "", 40)},
	}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("how many donations?"))

	require.NoError(t, err)
	assert.Equal(t, IntentDataQuery, out.Intent)
	assert.True(t, out.IsValid)
	assert.Equal(t, 40, out.TokensUsed)
}

func TestHandler_Execute_RelevanceCallFailureAssumesRelevant(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.CompletionResponse{intentResponse(IntentDataQuery, 0.9, 50), nil},
		errs:      []error{nil, errors.New("service down")},
	}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("how many donations?"))

	require.NoError(t, err)
	assert.Equal(t, IntentDataQuery, out.Intent)
	assert.True(t, out.IsValid)
	assert.Equal(t, 50, out.TokensUsed)
}

func TestHandler_Execute_BothCallsFailStillValid(t *testing.T) {
	client := &scriptedClient{errs: []error{errors.New("down"), errors.New("down")}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("how many donations?"))

	require.NoError(t, err)
	assert.Equal(t, IntentDataQuery, out.Intent)
	assert.True(t, out.IsValid)
	assert.Zero(t, out.TokensUsed)
}

func TestHandler_Execute_MalformedIntentDefaultsToDataQuery(t *testing.T) {
	client := &scriptedClient{responses: []*llm.CompletionResponse{
		{Content: "not json at all", TokensUsed: 25},
		relevanceResponse(false, "", 40),
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("how many donations?"))

	require.NoError(t, err)
	assert.Equal(t, IntentDataQuery, out.Intent)
	assert.True(t, out.IsValid)
	// Malformed output still billed tokens.
	assert.Equal(t, 65, out.TokensUsed)
}

func TestHandler_Execute_UnknownIntentClampedToDataQuery(t *testing.T) {
	client := &scriptedClient{responses: []*llm.CompletionResponse{
		intentResponse("weather_report", 0.9, 50),
		relevanceResponse(false, "", 40),
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("how many donations?"))

	require.NoError(t, err)
	assert.Equal(t, IntentDataQuery, out.Intent)
	assert.True(t, out.IsValid)
}

// ==========================
// Token Accounting Tests
// ==========================

func TestHandler_Execute_TokensSumBothAnalyses(t *testing.T) {
	client := &scriptedClient{responses: []*llm.CompletionResponse{
		intentResponse(IntentDataQuery, 0.9, 111),
		relevanceResponse(false, "", 57),
	}}
	handler := newTestHandler(t, client)

	out, err := handler.Execute(context.Background(), queryInput("how many donations?"))

	require.NoError(t, err)
	assert.Equal(t, 2, client.calls)
	assert.Equal(t, 168, out.TokensUsed)
}

func TestHandler_Execute_HistoryIncludedInIntentPrompt(t *testing.T) {
	client := &scriptedClient{responses: []*llm.CompletionResponse{
		intentResponse(IntentContinuation, 0.9, 50),
		relevanceResponse(false, "", 40),
	}}
	handler := newTestHandler(t, client)

	input := &Input{Query: &models.Query{
		Text:        "and by city?",
		WorkspaceID: "ws-1",
		History: []models.ConversationTurn{
			{Sender: models.SenderUser, Content: "total donations last month"},
			{Sender: models.SenderAgent, Content: "You received 1,204 donations last month."},
		},
	}}

	_, err := handler.Execute(context.Background(), input)

	require.NoError(t, err)
	require.Len(t, client.requests, 2)
	prompt := client.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "total donations last month")
	assert.Contains(t, prompt, "1,204 donations")
}

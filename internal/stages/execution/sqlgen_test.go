package execution

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
)

type stubLLMClient struct {
	response *llm.CompletionResponse
	err      error
	calls    int
	lastReq  *llm.CompletionRequest
}

func (s *stubLLMClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func donationTables() []models.TableSchema {
	return []models.TableSchema{
		{Name: "donations", Columns: []models.ColumnSchema{
			{Name: "id", DataType: "integer"},
			{Name: "amount", DataType: "numeric"},
			{Name: "donor_city", DataType: "text"},
			{Name: "created_at", DataType: "timestamp"},
		}},
		{Name: "campaigns", Columns: []models.ColumnSchema{
			{Name: "id", DataType: "integer"},
			{Name: "name", DataType: "text"},
			{Name: "budget", DataType: "numeric"},
		}},
	}
}

func newGenerator(t *testing.T, client llm.Client) *SQLGenerator {
	t.Helper()
	return NewSQLGenerator(LoadConfig(), client, logger.NewTestLogger(t))
}

// ==========================
// Model Path Tests
// ==========================

func TestSQLGenerator_Generate_UsesModelSQL(t *testing.T) {
	client := &stubLLMClient{response: &llm.CompletionResponse{
		Content:    `{"sql": "SELECT COUNT(*) AS count FROM donations WHERE donor_city = 'Hyderabad'", "confidence": 0.9}`,
		TokensUsed: 80,
	}}
	generator := newGenerator(t, client)

	out := generator.Generate(context.Background(), "how many donations in Hyderabad?", donationTables(), "postgres")

	assert.Equal(t, "SELECT COUNT(*) AS count FROM donations WHERE donor_city = 'Hyderabad'", out.SQL)
	assert.False(t, out.UsedFallback)
	assert.InDelta(t, 0.9, out.Confidence, 0.001)
	assert.Equal(t, 80, out.TokensUsed)

	prompt := client.lastReq.Messages[1].Content
	assert.Contains(t, prompt, "TABLE donations")
	assert.Contains(t, prompt, "donor_city text")
	assert.Contains(t, prompt, "how many donations in Hyderabad?")
}

func TestSQLGenerator_Generate_RejectsWriteStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
	}{
		{"delete", "DELETE FROM donations"},
		{"update", "UPDATE donations SET amount = 0"},
		{"drop", "DROP TABLE donations"},
		{"stacked statements", "SELECT * FROM donations; DROP TABLE donations"},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &stubLLMClient{response: &llm.CompletionResponse{
				Content:    `{"sql": "` + tt.sql + `", "confidence": 0.9}`,
				TokensUsed: 40,
			}}
			generator := newGenerator(t, client)

			out := generator.Generate(context.Background(), "how many donations?", donationTables(), "postgres")

			assert.True(t, out.UsedFallback)
			assert.True(t, strings.HasPrefix(out.SQL, "SELECT"))
			assert.Equal(t, 40, out.TokensUsed)
		})
	}
}

func TestSQLGenerator_Generate_AcceptsCTE(t *testing.T) {
	client := &stubLLMClient{response: &llm.CompletionResponse{
		Content:    `{"sql": "WITH city_totals AS (SELECT donor_city, SUM(amount) AS total FROM donations GROUP BY donor_city) SELECT * FROM city_totals ORDER BY total DESC", "confidence": 0.8}`,
		TokensUsed: 90,
	}}
	generator := newGenerator(t, client)

	out := generator.Generate(context.Background(), "donation totals per city", donationTables(), "postgres")

	assert.False(t, out.UsedFallback)
	assert.True(t, strings.HasPrefix(out.SQL, "WITH"))
}

// ==========================
// Fallback Tests
// ==========================

func TestSQLGenerator_Generate_CallFailureFallsBack(t *testing.T) {
	client := &stubLLMClient{err: errors.New("model down")}
	generator := newGenerator(t, client)

	out := generator.Generate(context.Background(), "how many donations in Hyderabad?", donationTables(), "postgres")

	assert.True(t, out.UsedFallback)
	assert.Equal(t, "SELECT COUNT(*) AS count FROM donations", out.SQL)
	assert.Zero(t, out.TokensUsed)
}

func TestSQLGenerator_Generate_MalformedOutputFallsBack(t *testing.T) {
	client := &stubLLMClient{response: &llm.CompletionResponse{
		Content:    "you could try counting the donations table",
		TokensUsed: 30,
	}}
	generator := newGenerator(t, client)

	out := generator.Generate(context.Background(), "list campaign budgets", donationTables(), "postgres")

	assert.True(t, out.UsedFallback)
	assert.Equal(t, "SELECT * FROM campaigns LIMIT 500", out.SQL)
	assert.Equal(t, 30, out.TokensUsed)
}

func TestSQLGenerator_Fallback_PicksBestMatchingTable(t *testing.T) {
	tests := []struct {
		name     string
		question string
		wantSQL  string
	}{
		{"counting question targets donations", "how many donations came in?", "SELECT COUNT(*) AS count FROM donations"},
		{"count keyword", "count the campaigns", "SELECT COUNT(*) AS count FROM campaigns"},
		{"column match", "what budget do we have left?", "SELECT * FROM campaigns LIMIT 500"},
		{"singular table word", "show each donation", "SELECT * FROM donations LIMIT 500"},
		{"no match keeps first table", "show everything", "SELECT * FROM donations LIMIT 500"},
	}

	client := &stubLLMClient{err: errors.New("model down")}
	generator := newGenerator(t, client)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := generator.Generate(context.Background(), tt.question, donationTables(), "postgres")

			require.True(t, out.UsedFallback)
			assert.Equal(t, tt.wantSQL, out.SQL)
		})
	}
}

// ==========================
// Guard Tests
// ==========================

func TestIsReadOnlySQL(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want bool
	}{
		{"select", "SELECT * FROM donations", true},
		{"lowercase select", "select id from donations", true},
		{"cte", "WITH t AS (SELECT 1) SELECT * FROM t", true},
		{"trailing semicolon ok", "SELECT 1;", true},
		{"insert", "INSERT INTO donations VALUES (1)", false},
		{"stacked", "SELECT 1; DELETE FROM donations", false},
		{"blank", "   ", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsReadOnlySQL(tt.sql))
		})
	}
}

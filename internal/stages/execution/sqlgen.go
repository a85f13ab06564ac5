// internal/stages/execution/sqlgen.go
package execution

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"insight-pipeline/internal/common/database"
	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
)

// GeneratedSQL is the query to run plus how it was produced.
type GeneratedSQL struct {
	SQL          string
	Confidence   float64
	UsedFallback bool
	TokensUsed   int
}

// SQLGenerator translates a question into one read-only statement. The model
// writes the query when it can; a deterministic template takes over when the
// call fails, the output is unparseable, or the statement is not read-only.
type SQLGenerator struct {
	config *Config
	client llm.Client
	logger logger.Logger
}

func NewSQLGenerator(config *Config, client llm.Client, log logger.Logger) *SQLGenerator {
	return &SQLGenerator{
		config: config,
		client: client,
		logger: log.With(map[string]interface{}{
			"component": "sql-generator",
		}),
	}
}

var sqlSchema = llm.ObjectSchema(map[string]interface{}{
	"sql":        map[string]interface{}{"type": "string"},
	"confidence": map[string]interface{}{"type": "number"},
}, "sql")

func (g *SQLGenerator) Generate(ctx context.Context, queryText string, tables []models.TableSchema, dialect string) *GeneratedSQL {
	resp, err := g.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You translate questions into a single read-only SQL query. Respond with JSON only."},
			{Role: llm.RoleUser, Content: g.buildPrompt(queryText, tables, dialect)},
		},
		Temperature: g.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		g.logger.Warn("sql generation call failed, using fallback query", map[string]interface{}{
			"error": err.Error(),
		})
		return g.fallback(queryText, tables, 0)
	}

	var parsed struct {
		SQL        string  `json:"sql"`
		Confidence float64 `json:"confidence"`
	}
	if err := llm.DecodeStrict(sqlSchema, resp.Content, &parsed); err != nil {
		g.logger.Warn("sql generation unparseable, using fallback query", map[string]interface{}{
			"error": err.Error(),
		})
		return g.fallback(queryText, tables, resp.TokensUsed)
	}

	sqlText := strings.TrimSpace(parsed.SQL)
	if !IsReadOnlySQL(sqlText) {
		g.logger.Warn("generated sql not read-only, using fallback query", map[string]interface{}{
			"sql": sqlText,
		})
		return g.fallback(queryText, tables, resp.TokensUsed)
	}

	confidence := parsed.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}
	return &GeneratedSQL{
		SQL:        sqlText,
		Confidence: confidence,
		TokensUsed: resp.TokensUsed,
	}
}

// fallback builds a template query against the best-matching table: a count
// for counting questions, otherwise a capped select-all.
func (g *SQLGenerator) fallback(queryText string, tables []models.TableSchema, tokensSpent int) *GeneratedSQL {
	table := bestMatchingTable(queryText, tables)

	var sqlText string
	if isCountingQuestion(queryText) {
		sqlText = fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", table)
	} else {
		sqlText = fmt.Sprintf("SELECT * FROM %s LIMIT %d", table, g.config.MaxRows)
	}

	return &GeneratedSQL{
		SQL:          sqlText,
		Confidence:   0.3,
		UsedFallback: true,
		TokensUsed:   tokensSpent,
	}
}

func (g *SQLGenerator) buildPrompt(queryText string, tables []models.TableSchema, dialect string) string {
	var parts []string
	parts = append(parts, fmt.Sprintf("Write one %s query that answers the user's question.", dialectLabel(dialect)))
	parts = append(parts, fmt.Sprintf("\nUser Question: %s", queryText))
	parts = append(parts, fmt.Sprintf("\nSchema:\n%s", RenderSchema(tables)))
	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- Only SELECT or WITH statements, never modify data")
	parts = append(parts, "- Use only tables and columns from the schema")
	parts = append(parts, fmt.Sprintf("- Limit result sets to at most %d rows", g.config.MaxRows))
	parts = append(parts, "- confidence is a number between 0 and 1")
	parts = append(parts, `- Respond with JSON: {"sql": "...", "confidence": 0.0}`)
	return strings.Join(parts, "\n")
}

// dialectLabel names the dialect in prose for the prompt.
func dialectLabel(dialect string) string {
	switch dialect {
	case database.DialectPostgres:
		return "PostgreSQL"
	case database.DialectSQLite:
		return "SQLite"
	default:
		return dialect
	}
}

// RenderSchema formats captured tables for a prompt, one line per table.
func RenderSchema(tables []models.TableSchema) string {
	var lines []string
	for _, t := range tables {
		cols := make([]string, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = fmt.Sprintf("%s %s", c.Name, c.DataType)
		}
		lines = append(lines, fmt.Sprintf("TABLE %s (%s)", t.Name, strings.Join(cols, ", ")))
	}
	return strings.Join(lines, "\n")
}

// IsReadOnlySQL accepts a single SELECT or WITH statement and nothing else.
func IsReadOnlySQL(sqlText string) bool {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sqlText), ";"))
	if trimmed == "" {
		return false
	}
	// A remaining semicolon means a second statement is smuggled in.
	if strings.Contains(trimmed, ";") {
		return false
	}
	upper := strings.ToUpper(trimmed)
	return strings.HasPrefix(upper, "SELECT") || strings.HasPrefix(upper, "WITH")
}

var wordPattern = regexp.MustCompile(`[a-z0-9_]+`)

// bestMatchingTable scores tables by how many query words overlap the table
// name and its column names, with naive singular/plural matching. Ties keep
// schema order.
func bestMatchingTable(queryText string, tables []models.TableSchema) string {
	if len(tables) == 0 {
		return ""
	}

	queryWords := map[string]bool{}
	for _, w := range wordPattern.FindAllString(strings.ToLower(queryText), -1) {
		queryWords[w] = true
		queryWords[singular(w)] = true
	}

	best := tables[0].Name
	bestScore := -1
	for _, t := range tables {
		score := 0
		name := strings.ToLower(t.Name)
		if queryWords[name] || queryWords[singular(name)] {
			score += 3
		}
		for _, c := range t.Columns {
			col := strings.ToLower(c.Name)
			if queryWords[col] || queryWords[singular(col)] {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			best = t.Name
		}
	}
	return best
}

func isCountingQuestion(queryText string) bool {
	lower := strings.ToLower(queryText)
	return strings.Contains(lower, "how many") || strings.Contains(lower, "count")
}

func singular(w string) string {
	if len(w) > 3 && strings.HasSuffix(w, "s") {
		return strings.TrimSuffix(w, "s")
	}
	return w
}

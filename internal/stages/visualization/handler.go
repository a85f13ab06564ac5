// Package visualization decides whether the answer warrants a chart and, when
// it does, turns the raw rows into a renderer-agnostic chart payload.
// Everything in here degrades to "no chart": visualization never sinks a
// response that already has an answer.
package visualization

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"insight-pipeline/internal/common/logger"
	"insight-pipeline/internal/llm"
	"insight-pipeline/internal/models"
)

const StageName = "visualization"

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
	rows := primaryRows(input.Results)
	if len(rows) == 0 {
		return &Output{Decision: &models.VisualizationDecision{
			Reasoning: "no rows to visualize",
		}}, nil
	}

	decision, tokens := h.decide(ctx, input)
	out := &Output{Decision: decision, TokensUsed: tokens}
	if !decision.Required {
		return out, nil
	}

	chart, reason := h.buildChart(decision, input.Query, rows)
	if chart == nil {
		h.logger.Warn("chart generation degraded", map[string]interface{}{
			"chartType": decision.ChartType,
			"reason":    reason,
		})
		decision.Required = false
		decision.Reasoning = reason
		return out, nil
	}

	out.Chart = chart
	h.logger.Info("chart generated", map[string]interface{}{
		"chartType": chart.Type,
		"rowCount":  len(chart.Data),
	})
	return out, nil
}

var decisionSchema = llm.ObjectSchema(map[string]interface{}{
	"required":   map[string]interface{}{"type": "boolean"},
	"chart_type": map[string]interface{}{"type": "string"},
	"reasoning":  map[string]interface{}{"type": "string"},
	"confidence": map[string]interface{}{"type": "number"},
}, "required")

func (h *Handler) decide(ctx context.Context, input *Input) (*models.VisualizationDecision, int) {
	skip := &models.VisualizationDecision{Reasoning: "visualization decision unavailable"}

	resp, err := h.client.Complete(ctx, &llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: "You decide whether a data answer should carry a chart. Respond with JSON only."},
			{Role: llm.RoleUser, Content: h.buildDecisionPrompt(input)},
		},
		Temperature: h.config.Temperature,
		JSONMode:    true,
	})
	if err != nil {
		h.logger.Warn("visualization decision call failed, skipping chart", map[string]interface{}{
			"error": err.Error(),
		})
		return skip, 0
	}

	var parsed decisionResult
	if err := llm.DecodeStrict(decisionSchema, resp.Content, &parsed); err != nil {
		h.logger.Warn("visualization decision unparseable, skipping chart", map[string]interface{}{
			"error": err.Error(),
		})
		return skip, resp.TokensUsed
	}

	decision := &models.VisualizationDecision{
		Required:   parsed.Required,
		ChartType:  models.ChartType(parsed.ChartType),
		Reasoning:  parsed.Reasoning,
		Confidence: parsed.Confidence,
	}
	if decision.Confidence < 0 || decision.Confidence > 1 {
		decision.Confidence = 0.5
	}
	if decision.Required && !models.ValidChartType(decision.ChartType) {
		h.logger.Warn("unsupported chart type, skipping chart", map[string]interface{}{
			"chartType": parsed.ChartType,
		})
		decision.Required = false
		decision.Reasoning = fmt.Sprintf("unsupported chart type %q", parsed.ChartType)
		decision.ChartType = ""
	}
	return decision, resp.TokensUsed
}

// buildChart turns the decision plus raw rows into a chart spec. A non-empty
// reason means the rows cannot carry the chosen chart.
func (h *Handler) buildChart(decision *models.VisualizationDecision, query *models.Query, rows []models.Row) (*models.ChartSpec, string) {
	if h.config.MaxChartRows > 0 && len(rows) > h.config.MaxChartRows {
		rows = rows[:h.config.MaxChartRows]
	}

	encoding, reason := encodingFor(decision.ChartType, rows)
	if reason != "" {
		return nil, reason
	}

	spec := &models.ChartSpec{
		Type:     decision.ChartType,
		Title:    strings.TrimSpace(query.Text),
		Data:     rows,
		Encoding: encoding,
	}
	spec.Accessibility = accessibilityText(spec)
	return spec, ""
}

func encodingFor(chartType models.ChartType, rows []models.Row) (models.ChartEncoding, string) {
	stringCols, numericCols := classifyColumns(rows)

	switch chartType {
	case models.ChartTypeTable:
		return models.ChartEncoding{}, ""
	case models.ChartTypeScatter:
		if len(numericCols) < 2 {
			return models.ChartEncoding{}, "scatter needs two numeric columns"
		}
		return models.ChartEncoding{X: numericCols[0], Y: numericCols[1]}, ""
	case models.ChartTypeChoropleth, models.ChartTypePointMap:
		if len(stringCols) == 0 || len(numericCols) == 0 {
			return models.ChartEncoding{}, "map needs a region column and a numeric column"
		}
		return models.ChartEncoding{Region: stringCols[0], Value: numericCols[0]}, ""
	default:
		if len(stringCols) == 0 || len(numericCols) == 0 {
			return models.ChartEncoding{}, "rows need a label column and a numeric column"
		}
		return models.ChartEncoding{
			X:     stringCols[0],
			Y:     numericCols[0],
			Label: stringCols[0],
			Value: numericCols[0],
		}, ""
	}
}

// classifyColumns sorts column names for determinism, then types each column
// by its first non-nil value. Numeric strings count as numeric so drivers
// that scan everything into text still chart.
func classifyColumns(rows []models.Row) (stringCols, numericCols []string) {
	if len(rows) == 0 {
		return nil, nil
	}
	for _, name := range columnNames(rows[0]) {
		value := firstValue(rows, name)
		if value == nil {
			continue
		}
		if isNumericValue(value) {
			numericCols = append(numericCols, name)
			continue
		}
		if _, ok := value.(string); ok {
			stringCols = append(stringCols, name)
		}
	}
	return stringCols, numericCols
}

func columnNames(row models.Row) []string {
	names := make([]string, 0, len(row))
	for name := range row {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func firstValue(rows []models.Row, name string) interface{} {
	for i := 0; i < len(rows) && i < 10; i++ {
		if v := rows[i][name]; v != nil {
			return v
		}
	}
	return nil
}

func isNumericValue(v interface{}) bool {
	switch n := v.(type) {
	case float64, float32, int, int32, int64:
		return true
	case string:
		_, err := strconv.ParseFloat(n, 64)
		return err == nil
	}
	return false
}

func accessibilityText(spec *models.ChartSpec) string {
	switch spec.Type {
	case models.ChartTypeTable:
		return fmt.Sprintf("Table with %d rows.", len(spec.Data))
	case models.ChartTypeScatter:
		return fmt.Sprintf("Scatter plot of %s against %s over %d rows.",
			spec.Encoding.Y, spec.Encoding.X, len(spec.Data))
	case models.ChartTypeChoropleth, models.ChartTypePointMap:
		return fmt.Sprintf("Map of %s by %s over %d rows.",
			spec.Encoding.Value, spec.Encoding.Region, len(spec.Data))
	default:
		return fmt.Sprintf("%s chart of %s by %s over %d rows.",
			spec.Type, spec.Encoding.Y, spec.Encoding.X, len(spec.Data))
	}
}

// primaryRows picks the successful source with the most rows; mixing rows
// from differently-shaped sources breaks column inference.
func primaryRows(results []models.SourceExecutionResult) []models.Row {
	var best []models.Row
	for _, r := range results {
		if r.Success && len(r.Data) > len(best) {
			best = r.Data
		}
	}
	return best
}

func (h *Handler) buildDecisionPrompt(input *Input) string {
	var parts []string
	parts = append(parts, "Decide whether a chart would help answer the user's question, and which kind.")
	parts = append(parts, fmt.Sprintf("\nUser Question: %s", input.Query.Text))

	if input.Answer != nil && input.Answer.Content != "" {
		parts = append(parts, fmt.Sprintf("\nAnswer Narrative: %s", input.Answer.Content))
	}

	parts = append(parts, "\nReturned Data:")
	for _, r := range input.Results {
		if !r.Success || len(r.Data) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("- %s (%s): %d rows, columns: %s",
			r.SourceName, r.Kind, len(r.Data), strings.Join(columnNames(r.Data[0]), ", ")))
	}

	sample := primaryRows(input.Results)
	if h.config.MaxSampleRows > 0 && len(sample) > h.config.MaxSampleRows {
		sample = sample[:h.config.MaxSampleRows]
	}
	sampleJSON, _ := json.MarshalIndent(sample, "", "  ")
	parts = append(parts, fmt.Sprintf("\nSample Rows:\n%s", string(sampleJSON)))

	parts = append(parts, "\nInstructions:")
	parts = append(parts, "- chart_type must be one of: bar, line, pie, scatter, area, table, choropleth, point_map")
	parts = append(parts, "- required is false when the answer is a single number or plain prose")
	parts = append(parts, "- choropleth and point_map are for data keyed by region or location")
	parts = append(parts, "- confidence is a number between 0 and 1")
	parts = append(parts, `- Respond with JSON: {"required": false, "chart_type": "...", "reasoning": "...", "confidence": 0.0}`)
	return strings.Join(parts, "\n")
}

// internal/models/chart.go
package models

// ChartType enumerates the renderable chart varieties.
type ChartType string

const (
	ChartTypeBar        ChartType = "bar"
	ChartTypeLine       ChartType = "line"
	ChartTypePie        ChartType = "pie"
	ChartTypeScatter    ChartType = "scatter"
	ChartTypeArea       ChartType = "area"
	ChartTypeTable      ChartType = "table"
	ChartTypeChoropleth ChartType = "choropleth"
	ChartTypePointMap   ChartType = "point_map"
)

// ValidChartType reports whether t is one of the supported chart types.
func ValidChartType(t ChartType) bool {
	switch t {
	case ChartTypeBar, ChartTypeLine, ChartTypePie, ChartTypeScatter,
		ChartTypeArea, ChartTypeTable, ChartTypeChoropleth, ChartTypePointMap:
		return true
	}
	return false
}

// VisualizationDecision records whether the answer warrants a chart.
type VisualizationDecision struct {
	Required   bool      `json:"required"`
	ChartType  ChartType `json:"chartType,omitempty"`
	Confidence float64   `json:"confidence"`
	Reasoning  string    `json:"reasoning,omitempty"`
}

// ChartEncoding maps row fields onto chart dimensions.
type ChartEncoding struct {
	X      string `json:"x,omitempty"`
	Y      string `json:"y,omitempty"`
	Series string `json:"series,omitempty"`
	Label  string `json:"label,omitempty"`
	Value  string `json:"value,omitempty"`
	Region string `json:"region,omitempty"`
}

// ChartSpec is a renderer-agnostic chart description.
type ChartSpec struct {
	Type          ChartType     `json:"type"`
	Title         string        `json:"title,omitempty"`
	Data          []Row         `json:"data"`
	Encoding      ChartEncoding `json:"encoding"`
	Accessibility string        `json:"accessibility,omitempty"`
}

// internal/stages/visualization/config.go
package visualization

type Config struct {
	// MaxSampleRows caps how many example rows the decision prompt sees.
	MaxSampleRows int
	// MaxChartRows caps how many rows the generated chart carries.
	MaxChartRows int
	Temperature  float64
}

func LoadConfig() *Config {
	return &Config{
		MaxSampleRows: 5,
		MaxChartRows:  200,
		Temperature:   0.2,
	}
}

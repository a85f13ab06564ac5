// internal/stages/synthesis/config.go
package synthesis

type Config struct {
	// MaxRowsPerSource caps how many rows of each source reach the prompt.
	MaxRowsPerSource int
	MaxHistoryTurns  int
	MaxTokens        int
	Temperature      float64
}

func LoadConfig() *Config {
	return &Config{
		MaxRowsPerSource: 25,
		MaxHistoryTurns:  4,
		MaxTokens:        1200,
		Temperature:      0.3,
	}
}

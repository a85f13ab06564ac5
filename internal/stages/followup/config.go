// internal/stages/followup/config.go
package followup

type Config struct {
	// MaxQuestions caps the merged follow-up list.
	MaxQuestions    int
	MaxHistoryTurns int
	Temperature     float64
}

func LoadConfig() *Config {
	return &Config{
		MaxQuestions:    3,
		MaxHistoryTurns: 4,
		Temperature:     0.4,
	}
}

// internal/stages/greeting/config.go
package greeting

type Config struct {
	// MaxWordsForModelCheck bounds when an unmatched message is still short
	// enough to be worth one classification call.
	MaxWordsForModelCheck int
	MinConfidence         float64
	Temperature           float64
}

func LoadConfig() *Config {
	return &Config{
		MaxWordsForModelCheck: 6,
		MinConfidence:         0.6,
		Temperature:           0.1,
	}
}

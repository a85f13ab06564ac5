// internal/stages/validation/config.go
package validation

type Config struct {
	// ConfidenceThreshold is the floor below which a data query counts as
	// ambiguous and gets rejected.
	ConfidenceThreshold float64
	// FollowUpMargin widens the band above the threshold where the query is
	// still valid but a clarifying follow-up is suggested.
	FollowUpMargin  float64
	MaxHistoryTurns int
	Temperature     float64
}

func LoadConfig() *Config {
	return &Config{
		ConfidenceThreshold: 0.5,
		FollowUpMargin:      0.2,
		MaxHistoryTurns:     4,
		Temperature:         0.1,
	}
}

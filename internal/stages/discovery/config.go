// internal/stages/discovery/config.go
package discovery

type Config struct {
	// MaxCandidates caps how many pre-ranked sources reach the filter call.
	MaxCandidates int
	// MinSimilarity drops clearly unrelated sources before filtering, unless
	// that would drop everything.
	MinSimilarity float64
	Temperature   float64
}

func LoadConfig() *Config {
	return &Config{
		MaxCandidates: 10,
		MinSimilarity: 0.1,
		Temperature:   0.2,
	}
}

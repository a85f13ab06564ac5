// internal/orchestrator/config.go
package orchestrator

type Config struct {
	// TokensPerCredit is the billing block size. Any partial block at the
	// end of a run rounds up to a full credit.
	TokensPerCredit int
	// SchemaShortcut answers catalog questions ("what data do I have")
	// straight from the registry, skipping discovery and execution.
	SchemaShortcut bool
	// ShortcutFlatTokens is the flat usage charge for a catalog answer.
	// The registry read replaces model work, but the answer is not free.
	ShortcutFlatTokens int
	// PlanCache consults the shared plan cache before ranking and stores
	// fresh plans after it.
	PlanCache bool
}

func LoadConfig() *Config {
	return &Config{
		TokensPerCredit:    1000,
		SchemaShortcut:     true,
		ShortcutFlatTokens: 25,
		PlanCache:          true,
	}
}

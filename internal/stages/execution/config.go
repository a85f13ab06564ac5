// internal/stages/execution/config.go
package execution

import "time"

type Config struct {
	// SourceTimeout bounds each source execution individually; one slow
	// source cannot eat the whole run budget.
	SourceTimeout time.Duration
	MaxRows       int
	// MaxParallel bounds concurrent source executions under the parallel
	// strategy. There is still one goroutine per planned source.
	MaxParallel int
	Temperature float64
}

func LoadConfig() *Config {
	return &Config{
		SourceTimeout: 30 * time.Second,
		MaxRows:       500,
		MaxParallel:   4,
		Temperature:   0.1,
	}
}

package answerquery

import (
	"fmt"
	"time"

	"insight-pipeline/internal/common/config"
)

type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	MaxJobsActive int           `mapstructure:"max_jobs_active"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// DefaultConfig allows two minutes per job: a run can fan out over several
// sources and make up to a dozen model calls before it completes.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		MaxJobsActive: 10,
		Timeout:       2 * time.Minute,
	}
}

func (c *Config) Validate() error {
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxJobsActive <= 0 {
		return fmt.Errorf("max_jobs_active must be positive")
	}
	return nil
}

func createConfigFromAppConfig(appConfig *config.Config, customConfig *Config) *Config {
	if customConfig != nil {
		return customConfig
	}

	cfg := DefaultConfig()

	if appConfig != nil {
		if appConfig.Camunda.MaxJobsActive > 0 {
			cfg.MaxJobsActive = appConfig.Camunda.MaxJobsActive
		}
		if appConfig.Camunda.Timeout > 0 {
			cfg.Timeout = time.Duration(appConfig.Camunda.Timeout) * time.Millisecond
		}
	}

	return cfg
}

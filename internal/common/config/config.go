// internal/common/config/config.go
package config

import "fmt"

// Config is the main application configuration struct.
type Config struct {
	App           AppConfig              `mapstructure:"app"`
	Camunda       CamundaConfig          `mapstructure:"camunda"`
	Database      DatabaseConfig         `mapstructure:"database"`
	LLM           LLMConfig              `mapstructure:"llm"`
	Embeddings    EmbeddingsConfig       `mapstructure:"embeddings"`
	Pipeline      PipelineConfig         `mapstructure:"pipeline"`
	Sources       SourcesConfig          `mapstructure:"sources"`
	Stages        map[string]StageConfig `mapstructure:"stages"`
	Billing       BillingConfig          `mapstructure:"billing"`
	Notifications NotificationConfig     `mapstructure:"notifications"`
	Logging       LoggingConfig          `mapstructure:"logging"`
}

// --- Core App/Infrastructure Config ---
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
}

type CamundaConfig struct {
	BrokerAddress  string `mapstructure:"broker_address"`
	MaxJobsActive  int    `mapstructure:"max_jobs_active"`
	Timeout        int    `mapstructure:"timeout"`         // milliseconds
	RequestTimeout int    `mapstructure:"request_timeout"` // milliseconds
}

type DatabaseConfig struct {
	Postgres      PostgresConfig      `mapstructure:"postgres"`
	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

type ElasticsearchConfig struct {
	Addresses  []string `mapstructure:"addresses"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	SSLEnabled bool     `mapstructure:"ssl_enabled"`
	URL        string   `mapstructure:"url"` // Single URL for backwards compatibility
	Index      string   `mapstructure:"index"`
}

// GetURL returns the first address or the URL field
func (e ElasticsearchConfig) GetURL() string {
	if e.URL != "" {
		return e.URL
	}
	if len(e.Addresses) > 0 {
		return e.Addresses[0]
	}
	return ""
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	TTL      int    `mapstructure:"ttl"` // seconds, plan cache entries
}

// --- Model Service Config ---

// LLMConfig holds settings for the completion service.
type LLMConfig struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Timeout     int     `mapstructure:"timeout"` // milliseconds
	MaxRetries  int     `mapstructure:"max_retries"`
}

// EmbeddingsConfig holds settings for the embedding service.
type EmbeddingsConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	Timeout    int    `mapstructure:"timeout"` // milliseconds
	BatchSize  int    `mapstructure:"batch_size"`
	CacheSize  int    `mapstructure:"cache_size"` // entries in the in-process LRU
	MaxRetries int    `mapstructure:"max_retries"`
}

// --- Pipeline Config ---

// PipelineConfig holds tunables for individual stages.
type PipelineConfig struct {
	Discovery struct {
		MaxCandidates int     `mapstructure:"max_candidates"`
		MinSimilarity float64 `mapstructure:"min_similarity"`
	} `mapstructure:"discovery"`

	Validation struct {
		ConfidenceThreshold float64 `mapstructure:"confidence_threshold"`
	} `mapstructure:"validation"`

	Greeting struct {
		MaxWords int `mapstructure:"max_words"` // short-message cutoff for LLM classification
	} `mapstructure:"greeting"`

	Execution struct {
		SourceTimeout int `mapstructure:"source_timeout"` // milliseconds, per source
		MaxRows       int `mapstructure:"max_rows"`
		MaxParallel   int `mapstructure:"max_parallel"`
	} `mapstructure:"execution"`

	FollowUp struct {
		MaxQuestions int `mapstructure:"max_questions"`
	} `mapstructure:"follow_up"`
}

// SourcesConfig holds settings for reading customer data sources.
type SourcesConfig struct {
	// EncryptionKey is the base64 encoded 32-byte key that unlocks stored
	// source connection configs. Shared with the ingestion service that
	// writes them.
	EncryptionKey string `mapstructure:"encryption_key"`
}

// StageConfig holds the core settings applicable to every stage.
type StageConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	Timeout    int  `mapstructure:"timeout"`     // milliseconds
	MaxRetries int  `mapstructure:"max_retries"` // For error handling
}

// BillingConfig controls how token usage converts to credits.
type BillingConfig struct {
	TokensPerCredit int `mapstructure:"tokens_per_credit"`
}

// NotificationConfig holds settings for the usage publisher.
type NotificationConfig struct {
	SNS struct {
		Enabled  bool   `mapstructure:"enabled"`
		TopicARN string `mapstructure:"topic_arn"`
	} `mapstructure:"sns"`
	AWS struct {
		Region string `mapstructure:"region"`
	} `mapstructure:"aws"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// internal/stages/ranking/config.go
package ranking

type Config struct {
	Temperature float64
}

func LoadConfig() *Config {
	return &Config{
		Temperature: 0.2,
	}
}

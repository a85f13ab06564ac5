// internal/stages/safety/config.go
package safety

type Config struct {
	MaxHistoryTurns int
}

func LoadConfig() *Config {
	return &Config{
		MaxHistoryTurns: 3,
	}
}

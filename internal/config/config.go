package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

type Config struct {
	RiotAPIKey   string
	DiscordToken string
	ChannelID    string
	DBPath       string
	OpsPort      string
	LogLevel     string
	PollInterval time.Duration
}

func Load() (*Config, error) {
	// a missing .env just means plain process env
	_ = godotenv.Load()

	cfg := &Config{
		RiotAPIKey:   getEnv("RIOT_API_KEY", ""),
		DiscordToken: getEnv("DISCORD_TOKEN", ""),
		ChannelID:    getEnv("CHANNEL_ID", ""),
		DBPath:       getEnv("DB_PATH", "tracker.db"),
		OpsPort:      getEnv("OPS_PORT", "8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		PollInterval: getDuration("POLL_INTERVAL", 15*time.Second),
	}

	if cfg.RiotAPIKey == "" {
		return nil, fmt.Errorf("RIOT_API_KEY is required")
	}
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("CHANNEL_ID is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

var Module = fx.Provide(Load)

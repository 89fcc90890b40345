package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource   string
	Port       string
	Env        string
	WebhookURL string
}

// Load reads a .env file if present, then the environment. DB_SOURCE is
// required; everything else has a development default.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on environment variables")
	}

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	return &Config{
		DBSource:   dbSource,
		Port:       getEnv("SERVER_PORT", "8080"),
		Env:        getEnv("ENVIRONMENT", "development"),
		WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
	}, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Config holds the process configuration, sourced from the environment with
// an optional .env overlay for local development.
type Config struct {
	HTTPAddr     string
	RedisAddr    string
	JWTSecret    string
	DirectoryURL string
	LogLevel     string
}

func Load() Config {
	// Missing .env is fine, the environment is authoritative.
	_ = godotenv.Load()

	return Config{
		HTTPAddr:     env("HTTP_ADDR", ":8080"),
		RedisAddr:    env("REDIS_ADDR", "localhost:6379"),
		JWTSecret:    env("JWT_SECRET", "dev-secret"),
		DirectoryURL: env("DIRECTORY_URL", "http://localhost:8080"),
		LogLevel:     env("LOG_LEVEL", "info"),
	}
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port     string
	Env      string
	LogLevel string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Transcoding provider
	TranscoderBaseURL       string
	TranscoderTokenID       string
	TranscoderTokenSecret   string
	TranscoderWebhookSecret string
	UploadCORSOrigin        string
	PlaybackPolicy          string

	// Polling
	PollStrategy      string
	PollBackoff       string
	PollMaxAttempts   int
	PollDelay         time.Duration
	PollMaxDelay      time.Duration
	PollWorkers       int
	ReconcileInterval time.Duration

	// Frontend
	FrontendURL string
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                    getEnvOrDefault("PORT", "8080"),
		Env:                     getEnvOrDefault("ENV", "development"),
		LogLevel:                getEnvOrDefault("LOG_LEVEL", "info"),
		DatabaseURL:             mustGetEnv("DATABASE_URL"),
		RedisURL:                mustGetEnv("REDIS_URL"),
		JWTSecret:               mustGetEnv("JWT_SECRET"),
		TranscoderBaseURL:       getEnvOrDefault("TRANSCODER_BASE_URL", "https://api.mux.com"),
		TranscoderTokenID:       mustGetEnv("TRANSCODER_TOKEN_ID"),
		TranscoderTokenSecret:   mustGetEnv("TRANSCODER_TOKEN_SECRET"),
		TranscoderWebhookSecret: getEnvOrDefault("TRANSCODER_WEBHOOK_SECRET", ""),
		UploadCORSOrigin:        getEnvOrDefault("UPLOAD_CORS_ORIGIN", "*"),
		PlaybackPolicy:          getEnvOrDefault("PLAYBACK_POLICY", "public"),
		PollStrategy:            getEnvOrDefault("POLL_STRATEGY", "direct"),
		PollBackoff:             getEnvOrDefault("POLL_BACKOFF", "fixed"),
		PollMaxAttempts:         getEnvAsIntOrDefault("POLL_MAX_ATTEMPTS", 60),
		PollDelay:               getEnvAsSecondsOrDefault("POLL_DELAY_SECONDS", 5),
		PollMaxDelay:            getEnvAsSecondsOrDefault("POLL_MAX_DELAY_SECONDS", 30),
		PollWorkers:             getEnvAsIntOrDefault("POLL_WORKERS", 16),
		ReconcileInterval:       getEnvAsSecondsOrDefault("RECONCILE_INTERVAL_SECONDS", 60),
		FrontendURL:             getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	return cfg
}

// Validate rejects settings that are unsafe to serve with. Production must verify webhook
// signatures, otherwise any caller could mark a record READY.
func (c *Config) Validate() error {
	if c.Env == "production" && c.TranscoderWebhookSecret == "" {
		return fmt.Errorf("TRANSCODER_WEBHOOK_SECRET is required when ENV=production")
	}
	return nil
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// Non-positive values fall back to the default.
func getEnvAsSecondsOrDefault(key string, defaultSecs int) time.Duration {
	n := getEnvAsIntOrDefault(key, defaultSecs)
	if n <= 0 {
		n = defaultSecs
	}
	return time.Duration(n) * time.Second
}

package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Runtime configuration, sourced from the environment with sensible
// defaults for local development.
type Config struct {
	Port   string
	DBPath string

	JWTSecret string
	TokenTTL  time.Duration

	AllowedOrigins []string

	ExecURL string
	ExecKey string

	RetentionInterval  time.Duration
	RetentionThreshold int
	RetentionKeep      int

	ChatHistoryLimit int
}

// Load reads .env if present, then builds a Config from the process
// environment. A missing .env file is not an error.
func Load() Config {
	_ = godotenv.Load()
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from the given lookup function.
func FromEnv(lookup func(string) (string, bool)) Config {
	cfg := Config{
		Port:               getString(lookup, "PORT", "8080"),
		DBPath:             getString(lookup, "CODEHIVE_DB_PATH", "./data/codehive.db"),
		JWTSecret:          getString(lookup, "CODEHIVE_JWT_SECRET", "dev-secret-change-me"),
		TokenTTL:           getDuration(lookup, "CODEHIVE_TOKEN_TTL", time.Hour),
		ExecURL:            getString(lookup, "CODEHIVE_EXEC_URL", ""),
		ExecKey:            getString(lookup, "CODEHIVE_EXEC_KEY", ""),
		RetentionInterval:  getDuration(lookup, "CODEHIVE_RETENTION_INTERVAL", 10*time.Minute),
		RetentionThreshold: getInt(lookup, "CODEHIVE_RETENTION_THRESHOLD", 5000),
		RetentionKeep:      getInt(lookup, "CODEHIVE_RETENTION_KEEP", 2000),
		ChatHistoryLimit:   getInt(lookup, "CODEHIVE_CHAT_HISTORY", 50),
	}

	origins := getString(lookup, "CODEHIVE_ALLOWED_ORIGINS", "*")
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
		}
	}

	return cfg
}

func getString(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(lookup func(string) (string, bool), key string, fallback int) int {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

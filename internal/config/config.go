// Package config loads the service's static configuration from the
// environment, in the teacher's mustEnv/getEnv style, and hosts the
// runtime-mutable Tunables that sit on top of it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds process-lifetime configuration loaded once at startup.
// Anything that can legitimately change while the process is running
// belongs in Tunables instead.
type Config struct {
	// Primary upstream (Angel One style broker), credentials pulled from
	// AWS Secrets Manager when SecretsManagerSecretID is set, else from env.
	PrimaryAPIKey     string
	PrimaryClientCode string
	PrimaryPassword   string
	PrimaryTOTPSecret string

	SecretsManagerSecretID string
	AWSRegion              string

	// Fallback upstream (Binance-style, used when the primary adapter is
	// unavailable or for symbols it doesn't cover).
	FallbackAPIKey    string
	FallbackAPISecret string
	FallbackBaseURL   string

	// Hot tier (Redis).
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Persistent store (SQLite).
	SQLitePath string

	// Cold archive (S3).
	ArchiveBucket string
	ArchivePrefix string

	// Training record archive (MongoDB); every persisted Training Record
	// is appended to it.
	MongoURI string
	MongoDB  string

	// Regime similarity store (Postgres + pgvector).
	SimilarityDSN string

	// Read from TRAINING_QUEUE_URL but not used by any component: the
	// Training Queue is purely in-process.
	TrainingQueueURL string

	// HTTP/WS surface and metrics.
	HTTPAddr    string
	MetricsAddr string

	// Subscription defaults mirrored from the teacher's token list.
	DefaultSymbols string
	EnabledTFs     string

	LogLevel string
}

// Load reads configuration from environment variables with sensible
// defaults, mirroring the teacher's flat mustEnv/getEnv pattern.
func Load() (*Config, error) {
	cfg := &Config{
		PrimaryAPIKey:     getEnv("PRIMARY_API_KEY", ""),
		PrimaryClientCode: getEnv("PRIMARY_CLIENT_CODE", ""),
		PrimaryPassword:   getEnv("PRIMARY_PASSWORD", ""),
		PrimaryTOTPSecret: getEnv("PRIMARY_TOTP_SECRET", ""),

		SecretsManagerSecretID: getEnv("SECRETS_MANAGER_SECRET_ID", ""),
		AWSRegion:              getEnv("AWS_REGION", "ap-south-1"),

		FallbackAPIKey:    getEnv("FALLBACK_API_KEY", ""),
		FallbackAPISecret: getEnv("FALLBACK_API_SECRET", ""),
		FallbackBaseURL:   getEnv("FALLBACK_BASE_URL", "https://api.binance.com"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		SQLitePath: getEnv("SQLITE_PATH", "data/forecast.db"),

		ArchiveBucket: getEnv("ARCHIVE_BUCKET", ""),
		ArchivePrefix: getEnv("ARCHIVE_PREFIX", "candles/"),

		MongoURI: getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDB:  getEnv("MONGO_DB", "forecast_archive"),

		SimilarityDSN: getEnv("SIMILARITY_DSN", ""),

		TrainingQueueURL: getEnv("TRAINING_QUEUE_URL", ""),

		HTTPAddr:    getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr: getEnv("METRICS_ADDR", ":9090"),

		DefaultSymbols: getEnv("DEFAULT_SYMBOLS", "NIFTY50"),
		EnabledTFs:     getEnv("ENABLED_TFS", "60,300,900,3600"),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("config: REDIS_ADDR must not be empty")
	}
	return cfg, nil
}

// ParseTFs parses EnabledTFs into timeframe seconds, skipping malformed
// entries rather than failing startup over one bad value.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

// ParseSymbols splits DefaultSymbols on commas.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.DefaultSymbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

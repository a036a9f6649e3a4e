// Package config loads the forecasting service's static, process-startup
// configuration from environment variables — everything that needs a
// restart to change, as opposed to internal/config's hot-swappable
// Tunables.
package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Primary upstream provider credentials (the teacher's SmartConnect
	// login material). AngelSecretsID, when set, makes LoadCredentials
	// pull these from AWS Secrets Manager instead.
	AngelAPIKey     string
	AngelClientCode string
	AngelPassword   string
	AngelTOTPSecret string
	AngelSecretsID  string
	AWSRegion       string

	// Fallback upstream provider (Binance). May be empty for public data only.
	BinanceAPIKey    string
	BinanceAPISecret string

	// Infrastructure.
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	MetricsAddr   string
	HTTPAddr      string

	// Cold archive (S3).
	S3Region string
	S3Bucket string
	S3Prefix string

	// Cold training-record archive (Mongo).
	MongoURI string
	MongoDB  string

	// Regime Similarity Store (pgvector). Empty DSN disables it: Predict
	// then runs with a nil *similarity.Store, which is a no-op by design.
	SimilarityDSN string

	MinCandlesPerWindow int
	HotCacheTTL         time.Duration
	WarmCacheCapacity   int

	// Drift/Health Monitor alerting. Both empty disables alert delivery
	// (the Monitor still runs, it just has no notifier attached).
	AlertWebhookURL  string
	TelegramBotToken string
	TelegramChatID   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		AngelAPIKey:     getEnv("ANGEL_API_KEY", ""),
		AngelClientCode: getEnv("ANGEL_CLIENT_CODE", ""),
		AngelPassword:   getEnv("ANGEL_PASSWORD", ""),
		AngelTOTPSecret: getEnv("ANGEL_TOTP_SECRET", ""),
		AngelSecretsID:  getEnv("ANGEL_SECRETS_ID", ""),
		AWSRegion:       getEnv("AWS_REGION", "ap-south-1"),

		BinanceAPIKey:    getEnv("BINANCE_API_KEY", ""),
		BinanceAPISecret: getEnv("BINANCE_API_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/forecastd.db"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),

		S3Region: getEnv("S3_REGION", "ap-south-1"),
		S3Bucket: getEnv("S3_BUCKET", ""),
		S3Prefix: getEnv("S3_PREFIX", "candles"),

		MongoURI: getEnv("MONGO_URI", ""),
		MongoDB:  getEnv("MONGO_DB", "forecastd"),

		SimilarityDSN: getEnv("SIMILARITY_DSN", ""),

		MinCandlesPerWindow: getEnvInt("MIN_CANDLES_PER_WINDOW", 30),
		HotCacheTTL:         getEnvDuration("HOT_CACHE_TTL", 30*time.Second),
		WarmCacheCapacity:   getEnvInt("WARM_CACHE_CAPACITY", 500),

		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s=%q, using default %d", key, v, fallback)
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
		log.Printf("[config] invalid duration for %s=%q, using default %s", key, v, fallback)
		return fallback
	}
	return d
}

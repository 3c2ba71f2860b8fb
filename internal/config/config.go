package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	ListenAddr  string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Webhook    WebhookConfig
	Enrichment EnrichmentConfig
	CRM        CRMConfig
	Reaper     ReaperConfig
}

// WebhookConfig controls inbound webhook verification and locking.
type WebhookConfig struct {
	Secret       string
	MaxSkew      time.Duration
	LockLease    time.Duration
	EventTimeout time.Duration

	// RateLimitRPS <= 0 disables ingest throttling.
	RateLimitRPS   float64
	RateLimitBurst int
}

// EnrichmentConfig controls the lookup providers.
type EnrichmentConfig struct {
	ProviderTimeout  time.Duration
	AggregateTimeout time.Duration

	DirectoryBaseURL string
	DirectoryUser    string
	DirectoryPass    string

	ProfileBaseURL string
	ProfileAPIKey  string

	DefaultPhonePrefix string
}

// CRMConfig controls the downstream CRM client.
type CRMConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// ReaperConfig controls the stale-event sweeper.
type ReaperConfig struct {
	Interval  time.Duration
	Threshold time.Duration
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:     getenv("APP_SERVICE", "leadhook"),
		AppVersion:  getenv("APP_VERSION", "0.1.0"),
		Environment: getenv("ENVIRONMENT", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "leadhook"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME", 600),

		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       getenvInt("REDIS_DB", 0),

		Webhook: WebhookConfig{
			Secret:       strings.TrimSpace(getenv("WEBHOOK_SECRET", "")),
			MaxSkew:      getenvDuration("WEBHOOK_MAX_SKEW", 5*time.Minute),
			LockLease:    getenvDuration("WEBHOOK_LOCK_LEASE", 5*time.Minute),
			EventTimeout: getenvDuration("WEBHOOK_EVENT_TIMEOUT", 60*time.Second),

			RateLimitRPS:   getenvFloat("WEBHOOK_RATE_LIMIT_RPS", 0),
			RateLimitBurst: getenvInt("WEBHOOK_RATE_LIMIT_BURST", 0),
		},
		Enrichment: EnrichmentConfig{
			ProviderTimeout:    getenvDuration("ENRICHMENT_PROVIDER_TIMEOUT", 15*time.Second),
			AggregateTimeout:   getenvDuration("ENRICHMENT_AGGREGATE_TIMEOUT", 30*time.Second),
			DirectoryBaseURL:   getenv("DIRECTORY_BASE_URL", ""),
			DirectoryUser:      getenv("DIRECTORY_USER", ""),
			DirectoryPass:      getenv("DIRECTORY_PASS", ""),
			ProfileBaseURL:     getenv("PROFILE_BASE_URL", ""),
			ProfileAPIKey:      getenv("PROFILE_API_KEY", ""),
			DefaultPhonePrefix: getenv("ENRICHMENT_PHONE_PREFIX", "+55"),
		},
		CRM: CRMConfig{
			BaseURL: getenv("CRM_BASE_URL", ""),
			Token:   getenv("CRM_TOKEN", ""),
			Timeout: getenvDuration("CRM_TIMEOUT", 10*time.Second),
		},
		Reaper: ReaperConfig{
			Interval:  getenvDuration("REAPER_INTERVAL", time.Minute),
			Threshold: getenvDuration("REAPER_THRESHOLD", 15*time.Minute),
		},
	}

	return cfg
}

var Module = fx.Module("config",
	fx.Provide(Load),
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil || parsed <= 0 {
		return def
	}
	return parsed
}

package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	PublicBaseURL  string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	InternalSecret string
	GeoIPDBPath    string
	MigrateOnStart bool

	StoragePath    string
	StorageBucket  string
	StorageBaseURL string

	GeminiAPIKey     string
	GeminiBaseURL    string
	QwenAPIKey       string
	QwenBaseURL      string
	ReplicateAPIKey  string
	ReplicateBaseURL string

	WebhookModeEnabled   bool
	WebhookSigningSecret string
	PushTriggerEnabled   bool
	ProcessTriggerURL    string
	TriggerTimeout       time.Duration
	TriggerAttempts      int
	TriggerBackoff       time.Duration

	ProcessingLockWindow   time.Duration
	MaterializeConcurrency int
	StaleAfter             time.Duration
	WebhookTimeout         time.Duration

	QueueBatchSize     int
	QueueLeaseTimeout  time.Duration
	QueueRetryDelay    time.Duration
	QueueLinearBackoff bool
	QueueMaxAttempts   int
	QueuePollInterval  time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           port,
		PublicBaseURL:  strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		InternalSecret: os.Getenv("INTERNAL_SECRET"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", false),

		StoragePath:   getEnv("STORAGE_PATH", "./storage"),
		StorageBucket: getEnv("STORAGE_BUCKET", "media"),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		QwenAPIKey:       os.Getenv("QWEN_API_KEY"),
		QwenBaseURL:      getEnv("QWEN_BASE_URL", "https://dashscope-intl.aliyuncs.com/api/v1"),
		ReplicateAPIKey:  os.Getenv("REPLICATE_API_TOKEN"),
		ReplicateBaseURL: getEnv("REPLICATE_BASE_URL", "https://api.replicate.com/v1"),

		WebhookModeEnabled:   getEnvBool("WEBHOOK_MODE_ENABLED", true),
		WebhookSigningSecret: os.Getenv("WEBHOOK_SIGNING_SECRET"),
		PushTriggerEnabled:   getEnvBool("PUSH_TRIGGER_ENABLED", true),
		ProcessTriggerURL:    os.Getenv("PROCESS_TRIGGER_URL"),
		TriggerTimeout:       time.Second * time.Duration(getEnvInt("TRIGGER_TIMEOUT_SECONDS", 8)),
		TriggerAttempts:      getEnvInt("TRIGGER_ATTEMPTS", 3),
		TriggerBackoff:       time.Millisecond * time.Duration(getEnvInt("TRIGGER_BACKOFF_MS", 500)),

		ProcessingLockWindow:   time.Second * time.Duration(getEnvInt("PROCESSING_LOCK_WINDOW_SECONDS", 60)),
		MaterializeConcurrency: getEnvInt("MATERIALIZE_CONCURRENCY", 3),
		StaleAfter:             time.Minute * time.Duration(getEnvInt("STALE_AFTER_MINUTES", 15)),
		WebhookTimeout:         time.Minute * time.Duration(getEnvInt("WEBHOOK_TIMEOUT_MINUTES", 60)),

		QueueBatchSize:     getEnvInt("QUEUE_BATCH_SIZE", 5),
		QueueLeaseTimeout:  time.Second * time.Duration(getEnvInt("QUEUE_LEASE_TIMEOUT_SECONDS", 300)),
		QueueRetryDelay:    time.Second * time.Duration(getEnvInt("QUEUE_RETRY_DELAY_SECONDS", 30)),
		QueueLinearBackoff: strings.EqualFold(getEnv("QUEUE_RETRY_BACKOFF", "fixed"), "linear"),
		QueueMaxAttempts:   getEnvInt("QUEUE_MAX_ATTEMPTS", 5),
		QueuePollInterval:  time.Second * time.Duration(getEnvInt("QUEUE_POLL_INTERVAL_SECONDS", 2)),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 120)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   os.Getenv("ALLOWED_ORIGINS"),
	}

	cfg.StorageBaseURL = strings.TrimRight(getEnv("STORAGE_BASE_URL", cfg.PublicBaseURL+"/static"), "/")
	if cfg.ProcessTriggerURL == "" {
		cfg.ProcessTriggerURL = cfg.PublicBaseURL + "/internal/generations/process"
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	if cfg.InternalSecret == "" {
		return nil, fmt.Errorf("INTERNAL_SECRET is required")
	}

	if cfg.TriggerAttempts <= 0 {
		cfg.TriggerAttempts = 1
	}
	if cfg.MaterializeConcurrency <= 0 {
		cfg.MaterializeConcurrency = 1
	}

	return cfg, nil
}

// CallbackURL returns the webhook endpoint providers should deliver completions to.
func (c *Config) CallbackURL(provider string) string {
	return c.PublicBaseURL + "/v1/webhooks/" + provider
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

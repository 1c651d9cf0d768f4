package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config centralizes runtime settings for the API and workers.
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	AuthToken string `env:"API_AUTH_TOKEN"`

	DatabaseURL string `env:"DATABASE_URL"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	// How long a dequeued job may stay unreported before the broker requeues
	// it. Must exceed the slowest handler's worst case.
	QueueLockTimeout time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`

	DirectAPIKey  string        `env:"OPENAI_API_KEY"`
	DirectBaseURL string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	DirectModel   string        `env:"OPENAI_MODEL" envDefault:"gpt-4.1-mini"`
	DirectTimeout time.Duration `env:"OPENAI_TIMEOUT" envDefault:"30s"`

	GatewayModel   string        `env:"GATEWAY_MODEL" envDefault:"openai/gpt-4.1-mini"`
	GatewayTimeout time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"30s"`

	AIMaxRetries     int           `env:"AI_MAX_RETRIES" envDefault:"2"`
	ProviderCacheTTL time.Duration `env:"PROVIDER_CACHE_TTL" envDefault:"60s"`

	SecretsKey string `env:"SECRETS_KEY" envDefault:"dev-insecure-secrets-key"`

	WebFetchTimeout  time.Duration `env:"WEB_FETCH_TIMEOUT" envDefault:"6s"`
	WebFetchMaxBytes int64         `env:"WEB_FETCH_MAX_BYTES" envDefault:"524288"`
	PromptContentCap int           `env:"PROMPT_CONTENT_CAP" envDefault:"3500"`

	AnalysisConcurrency int           `env:"ANALYSIS_CONCURRENCY" envDefault:"4"`
	AnalysisRateMax     int           `env:"ANALYSIS_RATE_MAX" envDefault:"30"`
	AnalysisRateWindow  time.Duration `env:"ANALYSIS_RATE_WINDOW" envDefault:"1m"`

	DemoConcurrency int           `env:"DEMO_CONCURRENCY" envDefault:"2"`
	DemoRateMax     int           `env:"DEMO_RATE_MAX" envDefault:"10"`
	DemoRateWindow  time.Duration `env:"DEMO_RATE_WINDOW" envDefault:"1m"`

	BatchConcurrency int           `env:"BATCH_CONCURRENCY" envDefault:"1"`
	BatchRateMax     int           `env:"BATCH_RATE_MAX" envDefault:"6"`
	BatchRateWindow  time.Duration `env:"BATCH_RATE_WINDOW" envDefault:"1m"`

	PollInterval    time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"500ms"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	WorkerEnabled   bool          `env:"WORKER_ENABLED" envDefault:"true"`

	AnalysisCacheTTL        time.Duration `env:"ANALYSIS_CACHE_TTL" envDefault:"15m"`
	AnalysisCacheMaxEntries int           `env:"ANALYSIS_CACHE_MAX_ENTRIES" envDefault:"2000"`

	RateLimitRPS       float64 `env:"RATE_LIMIT_RPS" envDefault:"20"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" envDefault:"40"`
	CORSAllowedOrigins string  `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`
}

func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	return c, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// セッションの永続化先。
const (
	SessionBackendMemory   = "memory"
	SessionBackendPostgres = "postgres"
	SessionBackendRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Identity
	IdentityURL     string        `env:"IDENTITY_URL,required,notEmpty"`
	IdentityAnonKey string        `env:"IDENTITY_ANON_KEY,required,notEmpty"`
	IdentityTimeout time.Duration `env:"IDENTITY_TIMEOUT" envDefault:"10s"`
	JWTSecret       string        `env:"JWT_SECRET"`

	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"8080"`
	BaseURL    string `env:"BASE_URL,required,notEmpty"`

	// Session
	SessionBackend    string        `env:"SESSION_BACKEND" envDefault:"memory"`
	DatabaseURL       string        `env:"DATABASE_URL"`
	RedisURL          string        `env:"REDIS_URL"`
	SessionMaxAge     int           `env:"SESSION_MAX_AGE" envDefault:"604800"`
	ClientIdleTTL     time.Duration `env:"CLIENT_IDLE_TTL" envDefault:"30m"`
	RefreshMargin     time.Duration `env:"REFRESH_MARGIN" envDefault:"60s"`
	RevealResetErrors bool          `env:"RESET_REVEAL_ERRORS" envDefault:"false"`

	// Rate Limit（1分あたりのフォーム送信数）
	RateLimitSubmit int `env:"RATE_LIMIT_SUBMIT" envDefault:"30"`

	// Cleanup
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`

	// Cookie
	CookieSecure bool
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Tracing（OTLP/HTTP）
	OTelEnabled     bool   `env:"OTEL_ENABLED" envDefault:"true"`
	OTelEndpoint    string `env:"OTEL_ENDPOINT"`
	OTelServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"authpanel"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:5173,http://localhost:3000" envSeparator:","`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.IdentityURL = strings.TrimRight(cfg.IdentityURL, "/")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate は環境変数間の整合性を検証する。
func (c *Config) validate() error {
	switch c.SessionBackend {
	case SessionBackendMemory:
	case SessionBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when SESSION_BACKEND=%s", c.SessionBackend)
		}
	case SessionBackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when SESSION_BACKEND=%s", c.SessionBackend)
		}
	default:
		return fmt.Errorf("unsupported SESSION_BACKEND: %q", c.SessionBackend)
	}

	if c.SessionMaxAge <= 0 {
		return fmt.Errorf("SESSION_MAX_AGE must be positive: %d", c.SessionMaxAge)
	}
	if c.RateLimitSubmit <= 0 {
		return fmt.Errorf("RATE_LIMIT_SUBMIT must be positive: %d", c.RateLimitSubmit)
	}
	return nil
}

// SessionMaxAgeDuration はSessionMaxAgeをtime.Durationで返す。
func (c *Config) SessionMaxAgeDuration() time.Duration {
	return time.Duration(c.SessionMaxAge) * time.Second
}

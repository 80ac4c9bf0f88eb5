package config

import (
	"strings"
	"testing"
	"time"
)

func setRequiredEnvVars(t *testing.T) {
	t.Helper()
	t.Setenv("IDENTITY_URL", "http://localhost:9999/")
	t.Setenv("IDENTITY_ANON_KEY", "anon-key")
	t.Setenv("BASE_URL", "http://localhost:8080/")
}

func TestLoad_AllRequiredVarsSet_ReturnsConfig(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.IdentityURL != "http://localhost:9999" {
		t.Errorf("IdentityURL = %q, want %q", cfg.IdentityURL, "http://localhost:9999")
	}
	if cfg.IdentityAnonKey != "anon-key" {
		t.Errorf("IdentityAnonKey = %q, want %q", cfg.IdentityAnonKey, "anon-key")
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Errorf("BaseURL = %q, want %q", cfg.BaseURL, "http://localhost:8080")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	setRequiredEnvVars(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "8080")
	}
	if cfg.SessionBackend != SessionBackendMemory {
		t.Errorf("SessionBackend = %q, want %q", cfg.SessionBackend, SessionBackendMemory)
	}
	if cfg.SessionMaxAge != 604800 {
		t.Errorf("SessionMaxAge = %d, want %d", cfg.SessionMaxAge, 604800)
	}
	if cfg.SessionMaxAgeDuration() != 7*24*time.Hour {
		t.Errorf("SessionMaxAgeDuration = %v, want %v", cfg.SessionMaxAgeDuration(), 7*24*time.Hour)
	}
	if cfg.ClientIdleTTL != 30*time.Minute {
		t.Errorf("ClientIdleTTL = %v, want %v", cfg.ClientIdleTTL, 30*time.Minute)
	}
	if cfg.RefreshMargin != time.Minute {
		t.Errorf("RefreshMargin = %v, want %v", cfg.RefreshMargin, time.Minute)
	}
	if cfg.IdentityTimeout != 10*time.Second {
		t.Errorf("IdentityTimeout = %v, want %v", cfg.IdentityTimeout, 10*time.Second)
	}
	if cfg.RevealResetErrors {
		t.Error("RevealResetErrors = true, want false")
	}
	if cfg.RateLimitSubmit != 30 {
		t.Errorf("RateLimitSubmit = %d, want %d", cfg.RateLimitSubmit, 30)
	}
	if cfg.CleanupInterval != time.Hour {
		t.Errorf("CleanupInterval = %v, want %v", cfg.CleanupInterval, time.Hour)
	}
	if cfg.JWTSecret != "" {
		t.Errorf("JWTSecret = %q, want empty", cfg.JWTSecret)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure = true, want false for http BASE_URL")
	}
	if !cfg.OTelEnabled || cfg.OTelEndpoint != "" {
		t.Errorf("OTelEnabled = %v, OTelEndpoint = %q, want true and empty", cfg.OTelEnabled, cfg.OTelEndpoint)
	}
	if cfg.OTelServiceName != "authpanel" {
		t.Errorf("OTelServiceName = %q, want %q", cfg.OTelServiceName, "authpanel")
	}
	want := []string{"http://localhost:5173", "http://localhost:3000"}
	if strings.Join(cfg.CORSAllowedOrigins, ",") != strings.Join(want, ",") {
		t.Errorf("CORSAllowedOrigins = %v, want %v", cfg.CORSAllowedOrigins, want)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("BASE_URL", "https://auth.example.com")
	t.Setenv("SERVER_PORT", "3000")
	t.Setenv("SESSION_BACKEND", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("CLIENT_IDLE_TTL", "5m")
	t.Setenv("RESET_REVEAL_ERRORS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OTEL_ENABLED", "false")
	t.Setenv("OTEL_ENDPOINT", "http://collector:4318")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.ServerPort != "3000" {
		t.Errorf("ServerPort = %q, want %q", cfg.ServerPort, "3000")
	}
	if cfg.SessionBackend != SessionBackendRedis {
		t.Errorf("SessionBackend = %q, want %q", cfg.SessionBackend, SessionBackendRedis)
	}
	if cfg.ClientIdleTTL != 5*time.Minute {
		t.Errorf("ClientIdleTTL = %v, want %v", cfg.ClientIdleTTL, 5*time.Minute)
	}
	if !cfg.RevealResetErrors {
		t.Error("RevealResetErrors = false, want true")
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure = false, want true for https BASE_URL")
	}
	if len(cfg.CORSAllowedOrigins) != 2 || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
	if cfg.JWTSecret != "secret" {
		t.Errorf("JWTSecret = %q, want %q", cfg.JWTSecret, "secret")
	}
	if cfg.OTelEnabled {
		t.Error("OTelEnabled = true, want false")
	}
	if cfg.OTelEndpoint != "http://collector:4318" {
		t.Errorf("OTelEndpoint = %q, want %q", cfg.OTelEndpoint, "http://collector:4318")
	}
}

func TestLoad_MissingRequiredVars_ReturnsError(t *testing.T) {
	requiredVars := []string{"IDENTITY_URL", "IDENTITY_ANON_KEY", "BASE_URL"}

	for _, missing := range requiredVars {
		t.Run(missing, func(t *testing.T) {
			setRequiredEnvVars(t)
			t.Setenv(missing, "")

			_, err := Load()
			if err == nil {
				t.Fatalf("expected error when %s is missing", missing)
			}
			if !strings.Contains(err.Error(), missing) {
				t.Errorf("error %q should mention %s", err.Error(), missing)
			}
		})
	}
}

func TestLoad_BackendValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "postgresにはDATABASE_URLが必要",
			env:     map[string]string{"SESSION_BACKEND": "postgres"},
			wantErr: "DATABASE_URL",
		},
		{
			name:    "redisにはREDIS_URLが必要",
			env:     map[string]string{"SESSION_BACKEND": "redis"},
			wantErr: "REDIS_URL",
		},
		{
			name:    "未知のバックエンド",
			env:     map[string]string{"SESSION_BACKEND": "etcd"},
			wantErr: "SESSION_BACKEND",
		},
		{
			name:    "不正なSESSION_MAX_AGE",
			env:     map[string]string{"SESSION_MAX_AGE": "0"},
			wantErr: "SESSION_MAX_AGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnvVars(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %s", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoad_InvalidDuration_ReturnsError(t *testing.T) {
	setRequiredEnvVars(t)
	t.Setenv("REFRESH_MARGIN", "soon")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

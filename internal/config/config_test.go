package config

import (
	"testing"
	"time"
)

func TestFromEnvDevelopmentDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("REFRESH_SECRET", "")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("expected dev config without infra, got %v", err)
	}
	if cfg.JWTSecret == "" || cfg.RefreshSecret == "" || cfg.JWTSecret == cfg.RefreshSecret {
		t.Fatalf("expected distinct dev secrets, got %q / %q", cfg.JWTSecret, cfg.RefreshSecret)
	}
	if cfg.ReconcileInterval != time.Minute {
		t.Fatalf("expected default reconcile interval, got %s", cfg.ReconcileInterval)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestFromEnvProductionRequiresInfra(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://localhost/custody")
	t.Setenv("REDIS_URL", "")
	t.Setenv("JWT_SECRET", "a")
	t.Setenv("REFRESH_SECRET", "b")

	if _, err := FromEnv(); err == nil {
		t.Fatal("expected missing REDIS_URL to fail")
	}

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	t.Setenv("JWT_SECRET", "")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected missing JWT_SECRET to fail")
	}
}

func TestFromEnvParsesDurations(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("SHUTDOWN_TIMEOUT_SECONDS", "3")
	t.Setenv("IDEMPOTENCY_TTL", "2h")
	t.Setenv("ACCESS_TOKEN_TTL", "5m")
	t.Setenv("RECONCILE_INTERVAL", "30s")
	t.Setenv("LOGIN_RATE_LIMIT", "9")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ShutdownPeriod != 3*time.Second || cfg.IdempotencyTTL != 2*time.Hour {
		t.Fatalf("unexpected durations: %s %s", cfg.ShutdownPeriod, cfg.IdempotencyTTL)
	}
	if cfg.AccessTokenTTL != 5*time.Minute || cfg.ReconcileInterval != 30*time.Second {
		t.Fatalf("unexpected durations: %s %s", cfg.AccessTokenTTL, cfg.ReconcileInterval)
	}
	if cfg.LoginRateLimit != 9 {
		t.Fatalf("expected login limit 9, got %d", cfg.LoginRateLimit)
	}
}

func TestFromEnvRejectsBadValues(t *testing.T) {
	t.Setenv("APP_ENV", "test")
	t.Setenv("RECONCILE_INTERVAL", "soon")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected invalid RECONCILE_INTERVAL to fail")
	}
	t.Setenv("RECONCILE_INTERVAL", "")
	t.Setenv("LOGIN_RATE_LIMIT", "-1")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected invalid LOGIN_RATE_LIMIT to fail")
	}
}

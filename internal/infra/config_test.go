package infra

import (
	"testing"
	"time"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/charactercam")
	t.Setenv("SESSION_SECRET", "test-secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.AppEnv != "development" || cfg.Port != "8080" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.SwapCallTimeout != 30*time.Minute {
		t.Fatalf("SwapCallTimeout = %s, want 30m", cfg.SwapCallTimeout)
	}
	if cfg.SwapPollInterval != 10*time.Second {
		t.Fatalf("SwapPollInterval = %s, want 10s", cfg.SwapPollInterval)
	}
	if cfg.SwapPollDeadline != 20*time.Minute {
		t.Fatalf("SwapPollDeadline = %s, want 20m", cfg.SwapPollDeadline)
	}
	if cfg.WorkerJobBudget != 800*time.Second {
		t.Fatalf("WorkerJobBudget = %s, want 800s", cfg.WorkerJobBudget)
	}
	if cfg.RateLimitPerMin != 30 {
		t.Fatalf("RateLimitPerMin = %d", cfg.RateLimitPerMin)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:3000" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SWAP_CALL_TIMEOUT_MINUTES", "45")
	t.Setenv("WORKER_JOB_BUDGET_SECONDS", "600")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SwapCallTimeout != 45*time.Minute {
		t.Fatalf("SwapCallTimeout = %s", cfg.SwapCallTimeout)
	}
	if cfg.WorkerJobBudget != 600*time.Second {
		t.Fatalf("WorkerJobBudget = %s", cfg.WorkerJobBudget)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://staging.example.com" {
		t.Fatalf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadConfigRequiredVars(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("SESSION_SECRET", "secret")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}

	t.Setenv("DATABASE_URL", "postgres://localhost:5432/charactercam")
	t.Setenv("SESSION_SECRET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without SESSION_SECRET")
	}
}

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
	AppEnv        string
	Port          string
	DatabaseURL   string
	SessionSecret string

	StoragePath    string
	StorageBaseURL string
	GeoIPDBPath    string

	SwapAPIKey       string
	SwapBaseURL      string
	SwapModel        string
	SwapCallTimeout  time.Duration
	SwapPollInterval time.Duration
	SwapPollDeadline time.Duration

	WorkerJobBudget    time.Duration
	WorkerPollInterval time.Duration

	SMTPAddr string
	SMTPFrom string

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
	AllowedOrigins   []string
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:        getEnv("APP_ENV", "development"),
		Port:          getEnv("PORT", "8080"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		SessionSecret: os.Getenv("SESSION_SECRET"),

		StoragePath:    getEnv("STORAGE_PATH", "./storage"),
		StorageBaseURL: getEnv("STORAGE_BASE_URL", "http://localhost:8080/static"),
		GeoIPDBPath:    os.Getenv("GEOIP_DB_PATH"),

		SwapAPIKey:       os.Getenv("SWAP_API_KEY"),
		SwapBaseURL:      getEnv("SWAP_BASE_URL", "https://api.motionswap.dev/v1"),
		SwapModel:        getEnv("SWAP_MODEL", "motion-swap-1.5"),
		SwapCallTimeout:  time.Minute * time.Duration(getEnvInt("SWAP_CALL_TIMEOUT_MINUTES", 30)),
		SwapPollInterval: time.Second * time.Duration(getEnvInt("SWAP_POLL_INTERVAL_SECONDS", 10)),
		SwapPollDeadline: time.Minute * time.Duration(getEnvInt("SWAP_POLL_DEADLINE_MINUTES", 20)),

		WorkerJobBudget:    time.Second * time.Duration(getEnvInt("WORKER_JOB_BUDGET_SECONDS", 800)),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_INTERVAL_SECONDS", 2)),

		SMTPAddr: os.Getenv("SMTP_ADDR"),
		SMTPFrom: getEnv("SMTP_FROM", "no-reply@charactercam.app"),

		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	return cfg, nil
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

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the board server.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogLevel         string
	LogFormat        string

	AllowAnyOrigin bool

	RateLimitRPS   float64
	RateLimitBurst int

	DBPath          string
	DocsDatabaseURL string

	OpenClawMode       string
	OpenClawHTTPURL    string
	OpenClawToken      string
	OpenClawModel      string
	OpenClawTimeout    time.Duration
	OpenClawMaxRetries int

	DefaultAgentID string
	AgentsFile     string

	SSEHeartbeat       time.Duration
	RunStuckMinutes    int
	RunSweepOnStart    bool
	StuckGaugeSchedule string

	AutoRunRequireApprovalForRisky bool

	WorkerConcurrency int
	WorkerQueueSize   int
	WorkerJobTimeout  time.Duration

	OTelEnabled  bool
	OTelEndpoint string
	OTelExporter string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8787"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "clawboard"),
		LogLevel:         envOrDefault("APP_LOG_LEVEL", "info"),
		LogFormat:        envOrDefault("APP_LOG_FORMAT", "json"),
		AllowAnyOrigin:   false,
		RateLimitRPS:     20,
		RateLimitBurst:   40,
		// Local-first: the database lives next to the binary unless told otherwise.
		DBPath:          envOrDefault("DB_PATH", "data/clawboard.db"),
		DocsDatabaseURL: stringsTrimSpace("DOCS_DATABASE_URL"),
		OpenClawMode:    strings.ToLower(envOrDefault("OPENCLAW_MODE", "auto")),
		OpenClawHTTPURL: stringsTrimSpace("OPENCLAW_HTTP_URL"),
		OpenClawToken:   stringsTrimSpace("OPENCLAW_TOKEN"),
		OpenClawModel:   envOrDefault("OPENCLAW_MODEL", "openclaw"),
		OpenClawTimeout: 120 * time.Second,
		// One retry covers the gateway restarting under us.
		OpenClawMaxRetries: 1,
		DefaultAgentID:     stringsTrimSpace("DEFAULT_AGENT_ID"),
		AgentsFile:         stringsTrimSpace("AGENTS_FILE"),
		SSEHeartbeat:       15 * time.Second,
		RunStuckMinutes:    10,
		RunSweepOnStart:    true,
		StuckGaugeSchedule: envOrDefault("STUCK_GAUGE_SCHEDULE", "@every 1m"),
		WorkerConcurrency:  2,
		WorkerQueueSize:    64,
		WorkerJobTimeout:   5 * time.Minute,
		OTelEndpoint:       stringsTrimSpace("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelExporter:       envOrDefault("OTEL_TRACES_EXPORTER", "otlp-http"),
		ShutdownTimeout:    15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitRPS, err = floatFromEnv("APP_RATE_LIMIT_RPS", cfg.RateLimitRPS)
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitBurst, err = intFromEnv("APP_RATE_LIMIT_BURST", cfg.RateLimitBurst)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenClawTimeout, err = durationFromEnv("OPENCLAW_TIMEOUT", cfg.OpenClawTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.OpenClawMaxRetries, err = intFromEnv("OPENCLAW_MAX_RETRIES", cfg.OpenClawMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.SSEHeartbeat, err = durationFromEnv("SSE_HEARTBEAT", cfg.SSEHeartbeat)
	if err != nil {
		return Config{}, err
	}
	cfg.RunStuckMinutes, err = intFromEnv("RUN_STUCK_MINUTES", cfg.RunStuckMinutes)
	if err != nil {
		return Config{}, err
	}
	cfg.RunSweepOnStart, err = boolFromEnv("RUN_SWEEP_ON_START", cfg.RunSweepOnStart)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerConcurrency, err = intFromEnv("WORKER_CONCURRENCY", cfg.WorkerConcurrency)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerQueueSize, err = intFromEnv("WORKER_QUEUE_SIZE", cfg.WorkerQueueSize)
	if err != nil {
		return Config{}, err
	}
	cfg.WorkerJobTimeout, err = durationFromEnv("WORKER_JOB_TIMEOUT", cfg.WorkerJobTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoRunRequireApprovalForRisky, err = boolFromEnv("AUTO_RUN_REQUIRE_APPROVAL_FOR_RISKY", cfg.AutoRunRequireApprovalForRisky)
	if err != nil {
		return Config{}, err
	}
	cfg.OTelEnabled, err = boolFromEnv("OTEL_ENABLED", cfg.OTelEnabled)
	if err != nil {
		return Config{}, err
	}

	switch cfg.OpenClawMode {
	case "auto", "http", "mock":
	default:
		return Config{}, fmt.Errorf("OPENCLAW_MODE must be one of auto, http, mock")
	}
	if cfg.OpenClawMode == "http" && cfg.OpenClawHTTPURL == "" {
		return Config{}, fmt.Errorf("OPENCLAW_HTTP_URL is required when OPENCLAW_MODE=http")
	}
	if cfg.OpenClawMaxRetries < 0 {
		return Config{}, fmt.Errorf("OPENCLAW_MAX_RETRIES must be >= 0")
	}
	if cfg.SSEHeartbeat < time.Second {
		return Config{}, fmt.Errorf("SSE_HEARTBEAT must be at least 1s")
	}
	if cfg.RunStuckMinutes <= 0 {
		return Config{}, fmt.Errorf("RUN_STUCK_MINUTES must be positive")
	}
	if cfg.WorkerConcurrency <= 0 {
		return Config{}, fmt.Errorf("WORKER_CONCURRENCY must be positive")
	}
	if cfg.WorkerQueueSize <= 0 {
		return Config{}, fmt.Errorf("WORKER_QUEUE_SIZE must be positive")
	}
	if cfg.RateLimitRPS < 0 || cfg.RateLimitBurst < 0 {
		return Config{}, fmt.Errorf("APP_RATE_LIMIT_RPS and APP_RATE_LIMIT_BURST must be >= 0")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}

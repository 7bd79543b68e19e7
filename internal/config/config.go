package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the Yukie orchestration core.
type Config struct {
	Port      int
	Version   string
	Registry  RegistryConfig
	Transport TransportConfig
	Planner   PlannerConfig
	Confirm   ConfirmConfig
	Audit     AuditConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
}

type RegistryConfig struct {
	ManifestTTL          time.Duration
	MaxRoutingCandidates int
	HealthTimeout        time.Duration
}

type TransportConfig struct {
	RequestTimeout time.Duration
	RetryCount     int
	RetryDelay     time.Duration
	CacheTTL       time.Duration
	MaxConcurrent  int
}

type PlannerConfig struct {
	// LLMEndpoint is an OpenAI-compatible API base, e.g. http://localhost:11434/v1.
	LLMEndpoint string
	LLMAPIKey   string
	LLMModel    string
	Timeout     time.Duration
}

type ConfirmConfig struct {
	Timeout    time.Duration
	MaxHistory int
}

type AuditConfig struct {
	MaxEntries    int
	RetentionDays int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	// TokenSecret signs and verifies bearer tokens. Empty disables auth
	// (local development only).
	TokenSecret string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("YUKIE_PORT", 8080),
		Version: envStr("YUKIE_VERSION", "0.4.0"),
		Registry: RegistryConfig{
			ManifestTTL:          envDur("YUKIE_MANIFEST_TTL", 10*time.Minute),
			MaxRoutingCandidates: envInt("YUKIE_MAX_ROUTING_CANDIDATES", 5),
			HealthTimeout:        envDur("YUKIE_HEALTH_TIMEOUT", 5*time.Second),
		},
		Transport: TransportConfig{
			RequestTimeout: envDur("YUKIE_REQUEST_TIMEOUT", 30*time.Second),
			RetryCount:     envInt("YUKIE_RETRY_COUNT", 3),
			RetryDelay:     envDur("YUKIE_RETRY_DELAY", 500*time.Millisecond),
			CacheTTL:       envDur("YUKIE_TRANSPORT_CACHE_TTL", 10*time.Minute),
			MaxConcurrent:  envInt("YUKIE_MAX_CONCURRENT_CALLS", 8),
		},
		Planner: PlannerConfig{
			LLMEndpoint: envStr("YUKIE_LLM_ENDPOINT", "https://api.openai.com/v1"),
			LLMAPIKey:   envStr("YUKIE_LLM_API_KEY", ""),
			LLMModel:    envStr("YUKIE_LLM_MODEL", "gpt-4o-mini"),
			Timeout:     envDur("YUKIE_LLM_TIMEOUT", 60*time.Second),
		},
		Confirm: ConfirmConfig{
			Timeout:    envDur("YUKIE_CONFIRM_TIMEOUT", 5*time.Minute),
			MaxHistory: envInt("YUKIE_CONFIRM_MAX_HISTORY", 500),
		},
		Audit: AuditConfig{
			MaxEntries:    envInt("YUKIE_AUDIT_MAX_ENTRIES", 10000),
			RetentionDays: envInt("YUKIE_AUDIT_RETENTION_DAYS", 30),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "yukie-orchestrator"),
		},
		Auth: AuthConfig{
			TokenSecret: envStr("YUKIE_TOKEN_SECRET", ""),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDur(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

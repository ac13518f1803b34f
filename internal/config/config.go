// Package config provides environment configuration for the gateway.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Webhook settings
	AppSecret   string
	VerifyToken string
	PageIDs     []string

	// Arbitration settings
	CooperativeWindow time.Duration
	ProtectedSteps    []string
	LockTTL           time.Duration
	LockWait          time.Duration
	HumanRecheckGrace time.Duration

	// Orchestrator settings
	Orchestrator        string
	OrchestratorTimeout time.Duration
	AnthropicAPIKey     string
	OpenAIAPIKey        string

	// Control API settings
	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// DefaultProtectedSteps are the order-collection steps during which the
// automated agent must keep the turn regardless of control mode.
var DefaultProtectedSteps = []string{
	"selecting_variant",
	"collecting_name",
	"collecting_phone",
	"collecting_address",
	"collecting_payment_digits",
	"confirming_order",
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Webhook
		AppSecret:   getEnv("APP_SECRET", ""),
		VerifyToken: getEnv("VERIFY_TOKEN", ""),
		PageIDs:     getSliceEnv("PAGE_IDS", nil),

		// Arbitration
		CooperativeWindow: getDurationEnv("COOPERATIVE_WINDOW", 30*time.Minute),
		ProtectedSteps:    getSliceEnv("PROTECTED_STEPS", DefaultProtectedSteps),
		LockTTL:           getDurationEnv("LOCK_TTL", 30*time.Second),
		LockWait:          getDurationEnv("LOCK_WAIT", 3*time.Second),
		HumanRecheckGrace: getDurationEnv("HUMAN_RECHECK_GRACE", 5*time.Second),

		// Orchestrator
		Orchestrator:        getEnv("ORCHESTRATOR", "nats"),
		OrchestratorTimeout: getDurationEnv("ORCHESTRATOR_TIMEOUT", 25*time.Second),
		AnthropicAPIKey:     getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),

		// Control API
		JWTSecret:         getEnv("JWT_SECRET", "development-secret-change-in-production"),
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

// Validate checks startup-fatal configuration. A missing webhook secret is a
// deployment error, not something to discover one request at a time.
func (c *Config) Validate() error {
	if c.AppSecret == "" {
		return errors.New("APP_SECRET is required")
	}
	if c.VerifyToken == "" {
		return errors.New("VERIFY_TOKEN is required")
	}
	if len(c.PageIDs) == 0 {
		return errors.New("PAGE_IDS is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

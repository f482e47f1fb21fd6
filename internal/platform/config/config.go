package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName string
	HTTPPort    string
	PostgresDSN string
	RedisAddr   string

	// BusDriver selects the message bus adapter: "inprocess" or "amqp".
	BusDriver string
	AMQPURL   string

	// External collaborators.
	BrokerBaseURL  string
	BrokerAPIKey   string
	CounterBaseURL string

	// Fulfillment tunables. Defaults mirror the documented pipeline policy:
	// pull traffic at 95% of target, poll progress every 15s, verify delivery
	// every 10m with at most 12 attempts before escalating to holding.
	EarlyPullFraction float64
	MonitorInterval   time.Duration
	VerifyInterval    time.Duration
	VerifyMaxAttempts int

	// Event pipeline policy.
	ConsumerMaxAttempts int
	ConsumerRetryDelay  time.Duration
	DedupTTL            time.Duration

	// Ledger optimistic-retry budget.
	LedgerMaxRetries int
}

func Load() (Config, error) {
	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "boostpanel"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	driver := strings.TrimSpace(strings.ToLower(os.Getenv("BUS_DRIVER")))
	if driver == "" {
		driver = "inprocess"
	}

	return Config{
		ServiceName: service,
		HTTPPort:    port,
		PostgresDSN: os.Getenv("POSTGRES_DSN"),
		RedisAddr:   os.Getenv("REDIS_ADDR"),

		BusDriver: driver,
		AMQPURL:   os.Getenv("AMQP_URL"),

		BrokerBaseURL:  os.Getenv("BROKER_BASE_URL"),
		BrokerAPIKey:   os.Getenv("BROKER_API_KEY"),
		CounterBaseURL: os.Getenv("COUNTER_BASE_URL"),

		EarlyPullFraction: envFloat("EARLY_PULL_FRACTION", 0.95),
		MonitorInterval:   envDuration("MONITOR_INTERVAL", 15*time.Second),
		VerifyInterval:    envDuration("VERIFY_INTERVAL", 10*time.Minute),
		VerifyMaxAttempts: envInt("VERIFY_MAX_ATTEMPTS", 12),

		ConsumerMaxAttempts: envInt("CONSUMER_MAX_ATTEMPTS", 5),
		ConsumerRetryDelay:  envDuration("CONSUMER_RETRY_DELAY", 2*time.Second),
		DedupTTL:            envDuration("DEDUP_TTL", 7*24*time.Hour),

		LedgerMaxRetries: envInt("LEDGER_MAX_RETRIES", 5),
	}, nil
}

func envInt(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func envFloat(name string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 || value > 1 {
		return fallback
	}
	return value
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

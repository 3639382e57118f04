package config

import (
	"os"
	"strings"
	"time"
)

// Config captures process-level configuration for the API server.
type Config struct {
	Addr          string
	DatabaseURL   string
	RedisURL      string
	KafkaBrokers  []string
	JWTSecret     string
	RelayInterval time.Duration
	SweepInterval time.Duration
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() Config {
	addr := os.Getenv("CLEARINGHOUSE_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		// Development default - must be overridden in production.
		jwtSecret = "dev-secret-key-change-in-production"
	}

	relayInterval := 5 * time.Second
	if v := os.Getenv("OUTBOX_RELAY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			relayInterval = d
		}
	}

	sweepInterval := time.Minute
	if v := os.Getenv("NEGOTIATION_SWEEP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			sweepInterval = d
		}
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = strings.Split(v, ",")
	}

	return Config{
		Addr:          addr,
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisURL:      os.Getenv("REDIS_URL"),
		KafkaBrokers:  brokers,
		JWTSecret:     jwtSecret,
		RelayInterval: relayInterval,
		SweepInterval: sweepInterval,
	}
}

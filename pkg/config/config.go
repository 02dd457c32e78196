// Package config loads runtime settings from environment variables.
// Every knob has a default suitable for local development against a
// Redis on localhost; production deployments override via the process
// environment.
package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	RedisAddr string
	RedisDB   int

	// Retry policy for failed assignments.
	MaxRetries int
	RetryTTL   time.Duration

	// How often the reconciler sweeps the waiting queues.
	ReconcileInterval time.Duration

	// Number of concurrent assignment workers per process.
	Workers int

	APIKey      string
	Port        string
	MetricsPort string
}

func Load() Config {
	return Config{
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		MaxRetries:        getEnvInt("MAX_RETRIES", 3),
		RetryTTL:          time.Duration(getEnvInt("RETRY_TTL_SECONDS", 600)) * time.Second,
		ReconcileInterval: time.Duration(getEnvInt("RECONCILE_INTERVAL_SECONDS", 5)) * time.Second,
		Workers:           getEnvInt("WORKERS", 3),
		APIKey:            getEnv("API_KEY", ""),
		Port:              getEnv("PORT", "8081"),
		MetricsPort:       getEnv("METRICS_PORT", "8080"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		_, err := fmt.Sscanf(v, "%d", &n)
		if err == nil {
			return n
		}
	}
	return def
}

// Package config provides environment-aware configuration loading for the
// orchestrator daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment is the deployment environment.
type Environment string

const (
	Development Environment = "development"
	Testing     Environment = "testing"
	Production  Environment = "production"
)

// Config holds every orchestrator setting sourced from the environment.
type Config struct {
	Env Environment

	// Networking
	RobotListenAddr string
	AdminListenAddr string

	// Queue and dispatch
	DedupWindow          time.Duration
	DefaultJobTimeout    time.Duration
	DispatchInterval     time.Duration
	TimeoutCheckInterval time.Duration
	PersistInterval      time.Duration
	MaxRetries           int
	RetryDelay           time.Duration
	DistributionTimeout  time.Duration

	// Health
	HealthWarningStale time.Duration
	HealthCriticalStale time.Duration
	HealthErrorRateWarn float64
	HealthErrorRateCrit float64

	// Security
	TokenTTL          time.Duration
	RateLimitWindow   time.Duration
	RateLimitCapacity int
	RateLimitBurst    int
	SigningKey        string
	AdminJWTSecret    string

	// Persistence
	StoreDir string

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics
	MetricsEnabled bool
}

// Load loads configuration based on the ORCHESTRATOR_ENV environment
// variable, optionally overlaying an environment-specific .env file.
func Load() (*Config, error) {
	envStr := os.Getenv("ORCHESTRATOR_ENV")
	if envStr == "" {
		envStr = string(Development)
	}
	env := Environment(strings.ToLower(strings.TrimSpace(envStr)))
	switch env {
	case Development, Testing, Production:
	default:
		return nil, fmt.Errorf("invalid ORCHESTRATOR_ENV: %s (must be development, testing, or production)", envStr)
	}

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.RobotListenAddr = getEnv("ROBOT_LISTEN_ADDR", ":7700")
	c.AdminListenAddr = getEnv("ADMIN_LISTEN_ADDR", ":7701")

	var err error
	if c.DedupWindow, err = getDurationEnv("DEDUP_WINDOW", 5*time.Minute); err != nil {
		return err
	}
	if c.DefaultJobTimeout, err = getDurationEnv("DEFAULT_JOB_TIMEOUT", time.Hour); err != nil {
		return err
	}
	if c.DispatchInterval, err = getDurationEnv("DISPATCH_INTERVAL", 5*time.Second); err != nil {
		return err
	}
	if c.TimeoutCheckInterval, err = getDurationEnv("TIMEOUT_CHECK_INTERVAL", 30*time.Second); err != nil {
		return err
	}
	if c.PersistInterval, err = getDurationEnv("PERSIST_INTERVAL", 10*time.Second); err != nil {
		return err
	}
	c.MaxRetries = getIntEnv("MAX_RETRIES", 3)
	if c.RetryDelay, err = getDurationEnv("RETRY_DELAY", 5*time.Second); err != nil {
		return err
	}
	if c.DistributionTimeout, err = getDurationEnv("DISTRIBUTION_TIMEOUT", 10*time.Second); err != nil {
		return err
	}

	if c.HealthWarningStale, err = getDurationEnv("HEALTH_WARNING_STALE", 30*time.Second); err != nil {
		return err
	}
	if c.HealthCriticalStale, err = getDurationEnv("HEALTH_CRITICAL_STALE", 2*time.Minute); err != nil {
		return err
	}
	c.HealthErrorRateWarn = getFloatEnv("HEALTH_ERROR_RATE_WARN", 0.2)
	c.HealthErrorRateCrit = getFloatEnv("HEALTH_ERROR_RATE_CRIT", 0.5)

	if c.TokenTTL, err = getDurationEnv("TOKEN_TTL", 24*time.Hour); err != nil {
		return err
	}
	if c.RateLimitWindow, err = getDurationEnv("RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return err
	}
	c.RateLimitCapacity = getIntEnv("RATE_LIMIT_CAPACITY", 120)
	c.RateLimitBurst = getIntEnv("RATE_LIMIT_BURST", 20)
	c.SigningKey = getEnv("SIGNING_KEY", "")
	c.AdminJWTSecret = getEnv("ADMIN_JWT_SECRET", "")
	if c.Env == Production && (c.SigningKey == "" || c.AdminJWTSecret == "") {
		return fmt.Errorf("SIGNING_KEY and ADMIN_JWT_SECRET are required in production")
	}

	c.StoreDir = getEnv("STORE_DIR", "./data")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == Production)

	return nil
}

// IsDevelopment reports whether the environment is development.
func (c *Config) IsDevelopment() bool { return c.Env == Development }

// IsTesting reports whether the environment is testing.
func (c *Config) IsTesting() bool { return c.Env == Testing }

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool { return c.Env == Production }

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBoolEnv(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getIntEnv(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getFloatEnv(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getDurationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// Package config reads service settings from the environment. A .env file in
// the working directory is loaded first when present; real environment
// variables win over it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the server and CLI read.
type Config struct {
	Port        string
	Environment string
	LogLevel    string

	// Models
	ModelDir string

	// Storage. DatabaseURL selects Postgres; otherwise SQLitePath is used.
	DatabaseURL string
	SQLitePath  string

	// Cache
	RedisURL string
	CacheTTL time.Duration

	// Reachability gate
	ReachabilityCheck   bool
	ReachabilityTimeout time.Duration
	AllowPrivateTargets bool

	// Access
	APIKeys []string

	// TLS
	TLSDomains []string
	ACMEEmail  string
	CertDir    string
}

// Load reads .env (if any) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:        getEnv("PORT", "8000"),
		Environment: getEnv("PHISHGUARD_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		ModelDir: getEnv("MODEL_DIR", "models"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnv("SQLITE_PATH", "phishguard.db"),

		RedisURL: os.Getenv("REDIS_URL"),
		CacheTTL: getEnvDuration("CACHE_TTL", 24*time.Hour),

		ReachabilityCheck:   getEnvBool("REACHABILITY_CHECK", true),
		ReachabilityTimeout: getEnvDuration("REACHABILITY_TIMEOUT", 5*time.Second),
		AllowPrivateTargets: getEnvBool("ALLOW_PRIVATE_TARGETS", false),

		APIKeys: getEnvSlice("API_KEYS", nil),

		TLSDomains: getEnvSlice("TLS_DOMAINS", nil),
		ACMEEmail:  os.Getenv("ACME_EMAIL"),
		CertDir:    getEnv("CERT_DIR", "/data/certs"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("config: PORT %q is not a number", c.Port)
	}
	if c.ModelDir == "" {
		return fmt.Errorf("config: MODEL_DIR is required")
	}
	if c.ReachabilityTimeout <= 0 {
		return fmt.Errorf("config: REACHABILITY_TIMEOUT must be positive")
	}
	if len(c.TLSDomains) > 0 && c.ACMEEmail == "" {
		return fmt.Errorf("config: ACME_EMAIL is required when TLS_DOMAINS is set")
	}
	return nil
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, s := range strings.Split(value, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

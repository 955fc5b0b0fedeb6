// Package config provides configuration loading and validation for the API server.
// It uses koanf to merge environment variables with optional file overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// JWT authentication. JWTSecretPrevious is only set during a rotation
	// window; tokens signed with it keep validating until it is removed.
	JWTSecret         string `koanf:"jwt_secret"`
	JWTSecretPrevious string `koanf:"jwt_secret_previous"`

	// Redis, used for shared rate-limit state. Optional: when empty, rate
	// limiting falls back to per-instance in-memory counters.
	RedisAddr string `koanf:"redis_addr"`

	// OTLP trace exporter endpoint. Optional: when empty, tracing is a no-op.
	OTLPEndpoint string `koanf:"otlp_endpoint"`

	// CORS origins allowed to call the API. Empty disables CORS handling.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// Checkpoint verification rate limit, per scanner per window.
	VerifyRequestsPerMinute int `koanf:"verify_requests_per_minute"`

	// Scan log retention. Scan events older than this many days are pruned
	// by a background job. 0 disables pruning.
	ScanRetentionDays int `koanf:"scan_retention_days"`
}

// Configuration validation errors.
var (
	ErrMissingDatabaseURL = errors.New("DATABASE_URL is required")
	ErrMissingJWTSecret   = errors.New("JWT_SECRET is required")
	ErrInvalidPort        = errors.New("PORT must be a valid integer")
	ErrInvalidVerifyRate  = errors.New("VERIFY_REQUESTS_PER_MINUTE must be a positive integer")
	ErrInvalidRetention   = errors.New("SCAN_RETENTION_DAYS must be a non-negative integer")
)

// Default values for non-secret configuration.
const (
	DefaultPort                    = 8080
	DefaultEnv                     = "development"
	DefaultVerifyRequestsPerMinute = 60
	DefaultScanRetentionDays       = 90
)

// VerifyWindow is the fixed window for the verification rate limit.
const VerifyWindow = time.Minute

// Load reads configuration from environment variables and an optional config
// file. Environment variables take precedence over file values. Returns the
// loaded config and a slice of validation errors (empty if valid).
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	port, portErr := getEnvIntOrDefaultMulti([]string{"CREWGATE_PORT", "PORT"}, k.Int("port"), DefaultPort, ErrInvalidPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	verifyRate, rateErr := getEnvIntOrDefaultMulti([]string{"VERIFY_REQUESTS_PER_MINUTE"}, k.Int("verify_requests_per_minute"), DefaultVerifyRequestsPerMinute, ErrInvalidVerifyRate)
	if rateErr != nil {
		loadErrs = append(loadErrs, rateErr)
	}

	retentionDays, retentionErr := getEnvIntOrDefaultMulti([]string{"SCAN_RETENTION_DAYS"}, k.Int("scan_retention_days"), DefaultScanRetentionDays, ErrInvalidRetention)
	if retentionErr != nil {
		loadErrs = append(loadErrs, retentionErr)
	}

	cfg := &Config{
		Port:                    port,
		Env:                     getEnvOrDefaultMulti([]string{"CREWGATE_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		DatabaseURL:             getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		JWTSecret:               getEnvOrKoanf("JWT_SECRET", k, "jwt_secret"),
		JWTSecretPrevious:       getEnvOrKoanf("JWT_SECRET_PREVIOUS", k, "jwt_secret_previous"),
		RedisAddr:               getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		OTLPEndpoint:            getEnvOrKoanf("OTEL_EXPORTER_OTLP_ENDPOINT", k, "otlp_endpoint"),
		AllowedOrigins:          getEnvListOrKoanf("ALLOWED_ORIGINS", k, "allowed_origins"),
		VerifyRequestsPerMinute: verifyRate,
		ScanRetentionDays:       retentionDays,
	}

	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvListOrKoanf returns a comma-separated environment variable as a
// slice if set, otherwise the koanf string slice.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		parts := strings.Split(val, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first value found, otherwise the koanf value, or default.
// Returns parseErr if a set variable cannot be parsed as an integer.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int, parseErr error) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, parseErr)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// Validate checks that all required configuration values are present.
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, ErrMissingDatabaseURL)
	}
	if c.JWTSecret == "" {
		errs = append(errs, ErrMissingJWTSecret)
	}
	if c.VerifyRequestsPerMinute <= 0 {
		errs = append(errs, ErrInvalidVerifyRate)
	}
	if c.ScanRetentionDays < 0 {
		errs = append(errs, ErrInvalidRetention)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":                       fmt.Sprintf("%d", c.Port),
		"env":                        c.Env,
		"database_url":               maskDatabaseURL(c.DatabaseURL),
		"jwt_secret":                 maskSecret(c.JWTSecret),
		"jwt_secret_previous":        maskSecret(c.JWTSecretPrevious),
		"redis_addr":                 valueOrUnset(c.RedisAddr),
		"otlp_endpoint":              valueOrUnset(c.OTLPEndpoint),
		"allowed_origins":            strings.Join(c.AllowedOrigins, ","),
		"verify_requests_per_minute": fmt.Sprintf("%d", c.VerifyRequestsPerMinute),
		"scan_retention_days":        fmt.Sprintf("%d", c.ScanRetentionDays),
	}
}

func valueOrUnset(s string) string {
	if s == "" {
		return "<not set>"
	}
	return s
}

// maskSecret masks a secret value, showing only the first 4 characters.
// Secrets shorter than 8 characters are fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // no credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // no password, only username
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}

// Package config loads and validates broker configuration from the
// environment, with an optional YAML overlay for file-driven deployments.
// Precedence: CLI flags > config file > environment > defaults.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultPort is where the broker listens unless told otherwise.
const DefaultPort = "8100"

// Config holds the validated broker configuration.
type Config struct {
	Port     string `yaml:"port"`
	Hostname string `yaml:"hostname"`

	// JWTPrivateKey signs session tokens. Empty means a random
	// process-lifetime secret: tokens stop verifying across restarts.
	JWTPrivateKey string `yaml:"jwtPrivateKey"`

	// LoginPageURL is handed to clients starting a deferred login.
	LoginPageURL string `yaml:"loginPageUrl"`

	AllowedOrigins string `yaml:"allowedOrigins"`

	// RedisAddr empty means single-instance mode: no event bus.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`

	TracingEnabled bool   `yaml:"tracingEnabled"`
	OTLPEndpoint   string `yaml:"otlpEndpoint"`

	GoEnv    string `yaml:"goEnv"`
	LogLevel string `yaml:"logLevel"`
}

// Load reads configuration from the environment and applies defaults.
func Load() *Config {
	cfg := loadEnv()
	cfg.applyDefaults()
	return cfg
}

// LoadFile layers a YAML file over the environment: values present in the
// file win, everything else keeps its env or default value.
func LoadFile(path string) (*Config, error) {
	cfg := loadEnv()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func loadEnv() *Config {
	return &Config{
		Port:           os.Getenv("PORT"),
		Hostname:       os.Getenv("HOSTNAME"),
		JWTPrivateKey:  os.Getenv("JWT_PRIVATE_KEY"),
		LoginPageURL:   os.Getenv("LOGIN_PAGE_URL"),
		AllowedOrigins: os.Getenv("ALLOWED_ORIGINS"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		TracingEnabled: os.Getenv("TRACING_ENABLED") == "true",
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		GoEnv:          os.Getenv("GO_ENV"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
	}
}

// applyDefaults fills the blanks. LoginPageURL comes last because it is
// derived from hostname and port.
func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.Hostname == "" {
		c.Hostname = "localhost"
	}
	if c.AllowedOrigins == "" {
		c.AllowedOrigins = "*"
	}
	if c.GoEnv == "" {
		c.GoEnv = "production"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LoginPageURL == "" {
		c.LoginPageURL = "http://" + c.Addr() + "/login"
	}
}

// Addr returns the listen address in host:port form.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Hostname, c.Port)
}

// Development reports whether the broker runs in development mode.
func (c *Config) Development() bool {
	return c.GoEnv == "development"
}

// BusEnabled reports whether lifecycle events mirror to Redis.
func (c *Config) BusEnabled() bool {
	return c.RedisAddr != ""
}

// Validate checks every field and returns all problems at once so startup
// can list them together instead of failing one at a time.
func (c *Config) Validate() []error {
	var errs []error

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be a number between 1 and 65535 (got %q)", c.Port))
	}
	if c.Hostname == "" {
		errs = append(errs, fmt.Errorf("HOSTNAME must not be empty"))
	}
	if c.JWTPrivateKey != "" && len(c.JWTPrivateKey) < 32 {
		errs = append(errs, fmt.Errorf("JWT_PRIVATE_KEY must be at least 32 bytes when set (got %d)", len(c.JWTPrivateKey)))
	}
	if u, err := url.Parse(c.LoginPageURL); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("LOGIN_PAGE_URL must be an absolute http(s) URL (got %q)", c.LoginPageURL))
	}
	if c.RedisAddr != "" && !isValidHostPort(c.RedisAddr) {
		errs = append(errs, fmt.Errorf("REDIS_ADDR must be in host:port form (got %q)", c.RedisAddr))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug|info|warn|error (got %q)", c.LogLevel))
	}

	return errs
}

// isValidHostPort checks that addr splits into a non-empty host and a
// numeric port.
func isValidHostPort(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

// Redacted renders the config for logs with the signing secret masked.
func (c *Config) Redacted() string {
	return fmt.Sprintf("addr=%s login_page=%s origins=%s redis=%s tracing=%t env=%s level=%s jwt_key=%s",
		c.Addr(), c.LoginPageURL, c.AllowedOrigins, redactValue(c.RedisAddr),
		c.TracingEnabled, c.GoEnv, c.LogLevel, redactSecret(c.JWTPrivateKey))
}

func redactValue(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}

// redactSecret keeps only a short prefix of a secret for log correlation.
func redactSecret(secret string) string {
	if secret == "" {
		return "(generated)"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}

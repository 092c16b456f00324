package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubkit/hubkit/pkg/ratelimit"
)

// Config is the root configuration for hubkit.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	GitHub    GitHubConfig    `yaml:"github"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	History   HistoryConfig   `yaml:"history"`
}

// ServerConfig contains settings for the quota exporter server.
type ServerConfig struct {
	Listen            string   `yaml:"listen"`
	CORSOrigins       []string `yaml:"cors_origins"`
	RequestsPerMinute int      `yaml:"requests_per_minute"` // per-IP, 0 disables
}

// GitHubConfig contains GitHub API settings.
type GitHubConfig struct {
	Token             string        `yaml:"token"`
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	RequestsPerSecond float64       `yaml:"requests_per_second"` // proactive limiter, 0 disables
}

// RateLimitConfig contains quota coordination settings.
type RateLimitConfig struct {
	AutoRetry          bool          `yaml:"auto_retry"`
	MaxRetries         int           `yaml:"max_retries"`
	FailFast           bool          `yaml:"fail_fast"`
	WarningThreshold   float64       `yaml:"warning_threshold"`
	RetryAfterFallback time.Duration `yaml:"retry_after_fallback"`
}

// HistoryConfig contains snapshot history settings.
type HistoryConfig struct {
	Enabled         bool          `yaml:"enabled"`
	SQLitePath      string        `yaml:"sqlite_path"`
	RetentionDays   int           `yaml:"retention_days"`   // default 30, -1 to disable
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // default 1h
}

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables.
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply defaults.
	applyDefaults(&cfg)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} and $VAR patterns with environment variable values.
func expandEnvVars(s string) string {
	// Match ${VAR} pattern.
	re := regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		return match
	})

	// Match $VAR pattern (only at word boundaries).
	re = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)
	s = re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[1:]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}

		return match
	})

	return s
}

// applyDefaults sets default values for unset configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = ":9090"
	}

	if cfg.GitHub.BaseURL == "" {
		cfg.GitHub.BaseURL = "https://api.github.com"
	}

	if cfg.GitHub.UserAgent == "" {
		cfg.GitHub.UserAgent = "hubkit"
	}

	if cfg.GitHub.PollInterval == 0 {
		cfg.GitHub.PollInterval = 60 * time.Second
	}

	if cfg.RateLimit.MaxRetries == 0 {
		cfg.RateLimit.MaxRetries = 3
	}

	if cfg.RateLimit.WarningThreshold == 0 {
		cfg.RateLimit.WarningThreshold = 0.8
	}

	if cfg.RateLimit.RetryAfterFallback == 0 {
		cfg.RateLimit.RetryAfterFallback = 60 * time.Second
	}

	if cfg.History.SQLitePath == "" {
		cfg.History.SQLitePath = "./hubkit.db"
	}

	if cfg.History.RetentionDays == 0 {
		cfg.History.RetentionDays = 30
	}

	if cfg.History.CleanupInterval == 0 {
		cfg.History.CleanupInterval = time.Hour
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.GitHub.Token == "" {
		return fmt.Errorf("github.token is required")
	}

	if c.RateLimit.WarningThreshold < 0 || c.RateLimit.WarningThreshold > 1 {
		return fmt.Errorf("rate_limit.warning_threshold must be between 0 and 1")
	}

	if c.RateLimit.MaxRetries < 0 {
		return fmt.Errorf("rate_limit.max_retries must be >= 0")
	}

	if c.GitHub.RequestsPerSecond < 0 {
		return fmt.Errorf("github.requests_per_second must be >= 0")
	}

	if c.Server.RequestsPerMinute < 0 {
		return fmt.Errorf("server.requests_per_minute must be >= 0")
	}

	return nil
}

// Policy converts the rate-limit section into a coordinator policy.
func (c *Config) Policy() ratelimit.Policy {
	return ratelimit.Policy{
		AutoRetry:          c.RateLimit.AutoRetry,
		MaxRetries:         c.RateLimit.MaxRetries,
		FailFast:           c.RateLimit.FailFast,
		WarningThreshold:   c.RateLimit.WarningThreshold,
		RetryAfterFallback: c.RateLimit.RetryAfterFallback,
	}
}

// String returns a sanitized string representation of the config (no secrets).
func (c *Config) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Server: listen=%s\n", c.Server.Listen))
	sb.WriteString(fmt.Sprintf("GitHub: base_url=%s poll_interval=%s\n", c.GitHub.BaseURL, c.GitHub.PollInterval))
	sb.WriteString(fmt.Sprintf("RateLimit: auto_retry=%t fail_fast=%t warning_threshold=%.2f\n",
		c.RateLimit.AutoRetry, c.RateLimit.FailFast, c.RateLimit.WarningThreshold))
	sb.WriteString(fmt.Sprintf("History: enabled=%t retention_days=%d\n",
		c.History.Enabled, c.History.RetentionDays))

	return sb.String()
}

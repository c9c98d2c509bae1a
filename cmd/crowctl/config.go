package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	crow "github.com/peteraglen/crowcloud-go-client"
)

// Config holds the crowctl settings. Values come from the YAML file first,
// then CROW_* environment variables, then command-line flags.
type Config struct {
	Email     string        `yaml:"email"`
	Password  string        `yaml:"password"`
	BaseURL   string        `yaml:"base_url"`
	Timeout   time.Duration `yaml:"timeout"` // duration string such as "30s"
	Retries   int           `yaml:"retries"`
	RateLimit float64       `yaml:"rate_limit"`
	RateBurst int           `yaml:"rate_burst"`
	Logging   LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

func defaultConfig() *Config {
	return &Config{
		BaseURL: crow.DefaultBaseURL,
		Timeout: 30 * time.Second,
		Retries: 3,
		Logging: LoggingConfig{
			Level:    "warn",
			Encoding: "console",
		},
	}
}

// loadConfig reads path when it is set. ${VAR} references in the file are
// expanded through getenv.
func loadConfig(path string, getenv func(string) string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := os.Expand(string(data), getenv)

		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.applyEnv(getenv)

	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if v := getenv("CROW_EMAIL"); v != "" {
		c.Email = v
	}

	if v := getenv("CROW_PASSWORD"); v != "" {
		c.Password = v
	}

	if v := getenv("CROW_BASE_URL"); v != "" {
		c.BaseURL = v
	}

	if v := getenv("CROW_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// applyFlags copies the flags the user actually set.
func (c *Config) applyFlags(fs *pflag.FlagSet, f *flags) {
	if fs.Changed("email") {
		c.Email = f.email
	}

	if fs.Changed("base-url") {
		c.BaseURL = f.baseURL
	}

	if fs.Changed("timeout") {
		c.Timeout = f.timeout
	}

	if fs.Changed("retries") {
		c.Retries = f.retries
	}

	if fs.Changed("log-level") {
		c.Logging.Level = f.logLevel
	}
}

func (c *Config) Validate() error {
	if c.Email == "" || c.Password == "" {
		return errors.New("email and password are required (config file, CROW_EMAIL/CROW_PASSWORD or --email)")
	}

	if c.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1s, got %v (use a duration such as \"30s\")", c.Timeout)
	}

	if c.RateLimit < 0 || (c.RateLimit > 0 && c.RateBurst < 1) {
		return errors.New("rate_limit requires a rate_burst of at least 1")
	}

	return nil
}

// clientOptions translates the config into client options. Out-of-range
// values are left to the client, which rejects them on Connect.
func (c *Config) clientOptions(logger crow.RequestLogger) []crow.Option {
	opts := []crow.Option{
		crow.WithBaseURL(c.BaseURL),
		crow.WithTimeout(c.Timeout),
		crow.WithRetryCount(c.Retries),
		crow.WithRequestLogger(logger),
	}

	if c.RateLimit > 0 {
		opts = append(opts, crow.WithRateLimit(c.RateLimit, c.RateBurst))
	}

	return opts
}

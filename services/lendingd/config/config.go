package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"lendcore/native/lending"
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"env"`
	Auth          AuthConfig      `yaml:"auth"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Store         StoreConfig     `yaml:"store"`
	Oracle        OracleConfig    `yaml:"oracle"`
	// ParamsPath points at the TOML file holding the interest curve and
	// default reserve risk parameters. Empty selects the built-in defaults.
	ParamsPath string `yaml:"params"`
	// PausedModules lists engine modules administratively halted at boot.
	PausedModules []string `yaml:"paused_modules"`
}

// AuthConfig describes the bearer-token authentication for the HTTP API.
type AuthConfig struct {
	Enabled    bool   `yaml:"enabled"`
	HMACSecret string `yaml:"hmac_secret"`
	Issuer     string `yaml:"issuer"`
	Audience   string `yaml:"audience"`
}

// RateLimitConfig bounds per-client request rates.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// StoreConfig locates the sqlite ledger database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// OracleConfig locates the upstream price feed.
type OracleConfig struct {
	BaseURL        string `yaml:"url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: ":8653",
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadParams reads the lending risk parameters from a TOML file, falling back
// to the built-in defaults when no path is configured.
func LoadParams(path string) (lending.Config, error) {
	params := lending.DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return params, nil
	}
	if _, err := toml.DecodeFile(path, &params); err != nil {
		return lending.Config{}, fmt.Errorf("decode params: %w", err)
	}
	if err := params.Validate(); err != nil {
		return lending.Config{}, fmt.Errorf("validate params: %w", err)
	}
	return params, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8653"
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.ParamsPath = strings.TrimSpace(cfg.ParamsPath)
	cfg.Auth.HMACSecret = strings.TrimSpace(cfg.Auth.HMACSecret)
	cfg.Auth.Issuer = strings.TrimSpace(cfg.Auth.Issuer)
	cfg.Auth.Audience = strings.TrimSpace(cfg.Auth.Audience)
	cfg.Store.Path = strings.TrimSpace(cfg.Store.Path)
	if cfg.Store.Path == "" {
		cfg.Store.Path = "lendingd.db"
	}
	cfg.Oracle.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Oracle.BaseURL), "/")
	if cfg.Oracle.TimeoutSeconds <= 0 {
		cfg.Oracle.TimeoutSeconds = 5
	}

	modules := make([]string, 0, len(cfg.PausedModules))
	for _, module := range cfg.PausedModules {
		if trimmed := strings.TrimSpace(module); trimmed != "" {
			modules = append(modules, trimmed)
		}
	}
	cfg.PausedModules = modules
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if cfg.Auth.Enabled && cfg.Auth.HMACSecret == "" {
		return fmt.Errorf("auth: hmac_secret is required when auth is enabled")
	}
	if cfg.Oracle.BaseURL == "" {
		return fmt.Errorf("oracle: url is required")
	}
	if cfg.RateLimit.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit: requests_per_minute must not be negative")
	}
	if cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: burst must not be negative")
	}
	return nil
}

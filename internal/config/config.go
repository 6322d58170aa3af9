package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration parsed from YAML.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Relay  RelayConfig  `yaml:"relay"`
	Vendor VendorConfig `yaml:"vendor"`
	Models ModelsConfig `yaml:"models"`
}

// ServerConfig defines listener configuration.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// RelayConfig holds the client-facing settings of the relay itself.
type RelayConfig struct {
	// APIKey, when set, is required from clients as a bearer credential.
	APIKey string `yaml:"api_key"`
}

// VendorConfig captures everything needed to reach and authenticate
// against the upstream vendor.
type VendorConfig struct {
	ChatURL     string `yaml:"chat_url"`
	ModelsURL   string `yaml:"models_url"`
	BearerToken string `yaml:"bearer_token"`
	DeviceID    string `yaml:"device_id"`
	// SigningSecret may be empty; the upstream client then falls back to
	// the vendor's default signing tier.
	SigningSecret string `yaml:"signing_secret"`
	Locale        string `yaml:"locale"`
	Source        string `yaml:"source"`
}

// ModelsConfig controls which vendor models are exposed to clients.
type ModelsConfig struct {
	ShowAdvanced   bool `yaml:"show_advanced"`
	ShowDeprecated bool `yaml:"show_deprecated"`
}

const (
	defaultLocale = "en-US"
	defaultSource = "api"
)

// Load reads YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Config{}, fmt.Errorf("resolve config path: %w", err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %q: %w", absPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %q: %w", absPath, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Vendor.Locale == "" {
		c.Vendor.Locale = defaultLocale
	}
	if c.Vendor.Source == "" {
		c.Vendor.Source = defaultSource
	}
}

// Validate performs strict sanity checks on the configuration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid TCP port, got %d", c.Server.Port)
	}

	if err := validateURL("vendor.chat_url", c.Vendor.ChatURL); err != nil {
		return err
	}
	if err := validateURL("vendor.models_url", c.Vendor.ModelsURL); err != nil {
		return err
	}
	if strings.TrimSpace(c.Vendor.BearerToken) == "" {
		return fmt.Errorf("vendor.bearer_token must be provided")
	}
	if strings.TrimSpace(c.Vendor.DeviceID) == "" {
		return fmt.Errorf("vendor.device_id must be provided")
	}

	return nil
}

func validateURL(field, raw string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("%s must be provided", field)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https, got %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s must include a host", field)
	}
	return nil
}

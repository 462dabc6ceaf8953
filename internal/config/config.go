package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"guardline/internal/timeline"
)

// Config models guardline.yml. Reminder and cancellation values are the
// deployment defaults; per-deployment overrides live in the settings table
// and win when present and well-formed.
type Config struct {
	Platform struct {
		Name string `yaml:"name"`
	} `yaml:"platform"`
	Reminders struct {
		DaysSinceDelivery    int `yaml:"days_since_delivery"`
		DaysSinceIssuance    int `yaml:"days_since_issuance"`
		MaxDaysSinceIssuance int `yaml:"max_days_since_issuance"`
	} `yaml:"reminders"`
	Cancellation struct {
		WindowHours int `yaml:"window_hours"`
	} `yaml:"cancellation"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Thresholds converts the configured reminder values for the timeline core.
func (c *Config) Thresholds() timeline.Thresholds {
	return timeline.Thresholds{
		DaysSinceDelivery:    c.Reminders.DaysSinceDelivery,
		DaysSinceIssuance:    c.Reminders.DaysSinceIssuance,
		MaxDaysSinceIssuance: c.Reminders.MaxDaysSinceIssuance,
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Platform.Name == "" {
		return fmt.Errorf("config.platform.name is required")
	}
	if c.Reminders.DaysSinceDelivery < 0 || c.Reminders.DaysSinceIssuance < 0 {
		return fmt.Errorf("config.reminders thresholds must be non-negative")
	}
	if c.Reminders.MaxDaysSinceIssuance <= 0 {
		return fmt.Errorf("config.reminders.max_days_since_issuance must be positive")
	}
	if c.Reminders.DaysSinceIssuance > c.Reminders.MaxDaysSinceIssuance {
		return fmt.Errorf("config.reminders.days_since_issuance exceeds the max issuance window")
	}
	if c.Cancellation.WindowHours <= 0 {
		return fmt.Errorf("config.cancellation.window_hours must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "guardline.yml")
}

// Load reads and validates config from the workspace, falling back to the
// defaults when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `platform:
  name: guardline

reminders:
  days_since_delivery: 7
  days_since_issuance: 3
  max_days_since_issuance: 90

cancellation:
  window_hours: 24
`

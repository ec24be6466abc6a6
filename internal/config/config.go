package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "acctsweep.yml"

// Config models acctsweep.yml.
type Config struct {
	Directory struct {
		BaseURL           string        `yaml:"base_url"`
		Token             string        `yaml:"token"`
		Timeout           time.Duration `yaml:"timeout"`
		Concurrency       int           `yaml:"concurrency"`
		RequestsPerSecond float64       `yaml:"requests_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"directory"`
	Checkpoints struct {
		Dir string `yaml:"dir"`
	} `yaml:"checkpoints"`
	Journal struct {
		Disabled bool `yaml:"disabled"`
	} `yaml:"journal"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig receives the journal events of every run.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Directory.BaseURL == "" {
		return fmt.Errorf("config.directory.base_url is required")
	}
	u, err := url.Parse(c.Directory.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("config.directory.base_url must be an absolute URL, got %q", c.Directory.BaseURL)
	}
	if c.Directory.Timeout < 0 {
		return fmt.Errorf("config.directory.timeout must not be negative")
	}
	if c.Directory.Concurrency < 1 {
		return fmt.Errorf("config.directory.concurrency must be at least 1")
	}
	if c.Directory.RequestsPerSecond < 0 {
		return fmt.Errorf("config.directory.requests_per_second must not be negative")
	}
	if c.Directory.Burst < 0 {
		return fmt.Errorf("config.directory.burst must not be negative")
	}
	if c.Checkpoints.Dir == "" {
		return fmt.Errorf("config.checkpoints.dir is required")
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an absolute URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a working directory.
func Path(workdir string) string {
	if workdir == "" {
		workdir = "."
	}
	return filepath.Join(workdir, FileName)
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with acctsweep config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes. Missing keys keep
// their default values.
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

// ToYAML renders the config, hiding the token.
func (c Config) ToYAML() (string, error) {
	if c.Directory.Token != "" {
		c.Directory.Token = "********"
	}
	hooks := make([]WebhookConfig, len(c.Webhooks))
	for i, hook := range c.Webhooks {
		if hook.Secret != "" {
			hook.Secret = "********"
		}
		hooks[i] = hook
	}
	c.Webhooks = hooks
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

const defaultTemplate = `directory:
  base_url: https://example.sf-api.com/sf/v3
  token: ""
  timeout: 30s
  concurrency: 4
  requests_per_second: 10
  burst: 5

checkpoints:
  dir: checkpoints

journal:
  disabled: false

# webhooks:
#   - url: https://hooks.example.com/acctsweep
#     events: [run.finished, run.failed, user.delete_failed]
`

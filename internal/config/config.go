package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models workopilot.yml.
type Config struct {
	Executions struct {
		// StaleAfter is how long a running execution may go without a
		// heartbeat before the sweep marks it stale.
		StaleAfter    time.Duration `yaml:"stale_after"`
		SweepInterval time.Duration `yaml:"sweep_interval"`
	} `yaml:"executions"`
	Legacy struct {
		DeleteAfterImport bool `yaml:"delete_after_import"`
	} `yaml:"legacy"`
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig describes an outbound notification target.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with wp config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	var errs []error
	if c.Executions.StaleAfter <= 0 {
		errs = append(errs, errors.New("executions.stale_after must be positive"))
	}
	if c.Executions.SweepInterval < 0 {
		errs = append(errs, errors.New("executions.sweep_interval must not be negative"))
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if c.Log.Level != "" && !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Errorf("log.level %q must be one of debug, info, warn, error", c.Log.Level))
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("webhooks[%d].url %q must be an http(s) url", i, hook.URL))
		}
		if hook.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("webhooks[%d].timeout_seconds must not be negative", i))
		}
		for _, evt := range hook.Events {
			if strings.TrimSpace(evt) == "" {
				errs = append(errs, fmt.Errorf("webhooks[%d] has empty event name", i))
			}
		}
	}
	return errors.Join(errs...)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "workopilot.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and
// validates the result.
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

const defaultTemplate = `executions:
  # running executions without a heartbeat for this long are marked stale
  stale_after: 5m
  # how often wp serve sweeps for stale executions; 0 disables the sweep
  sweep_interval: 1m

legacy:
  delete_after_import: false

server:
  addr: 127.0.0.1:7878
  base_path: /v0

log:
  level: info

# webhooks:
#   - url: http://127.0.0.1:9000/hook
#     events: [task.structuring_complete, execution.stale]
`

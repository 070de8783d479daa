package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"

	"maincontrol/internal/domain"
	"maincontrol/internal/sla"
)

const fileName = "maincontrol.yml"

// Config models maincontrol.yml.
type Config struct {
	Calendar struct {
		Timezone string `yaml:"timezone" json:"timezone"`
	} `yaml:"calendar" json:"calendar"`
	SLA struct {
		Regions map[string]sla.Budget `yaml:"regions" json:"regions,omitempty"`
	} `yaml:"sla" json:"sla"`
	Queue struct {
		ActiveStatuses []string `yaml:"active_statuses" json:"active_statuses"`
	} `yaml:"queue" json:"queue"`
	Logging struct {
		Level string `yaml:"level" json:"level"`
	} `yaml:"logging" json:"logging"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`

	location *time.Location
	table    *sla.Table
}

// WebhookConfig is an outbound receiver of work order events.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with mc config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
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

// Validate ensures the config meets required structure and caches the
// resolved timezone and SLA table.
func (c *Config) Validate() error {
	if c.Calendar.Timezone == "" {
		return fmt.Errorf("config.calendar.timezone is required")
	}
	loc, err := time.LoadLocation(c.Calendar.Timezone)
	if err != nil {
		return fmt.Errorf("config.calendar.timezone %q invalid: %w", c.Calendar.Timezone, err)
	}
	table, err := sla.NewTable(c.SLA.Regions)
	if err != nil {
		return fmt.Errorf("config.sla.regions: %w", err)
	}
	if len(c.Queue.ActiveStatuses) == 0 {
		return fmt.Errorf("config.queue.active_statuses is required")
	}
	for _, st := range c.Queue.ActiveStatuses {
		if !domain.IsKnownStatus(st) {
			return fmt.Errorf("config.queue.active_statuses has unknown status %s", st)
		}
		if domain.IsTerminalStatus(st) {
			return fmt.Errorf("config.queue.active_statuses cannot include terminal status %s", st)
		}
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(strings.TrimSpace(hook.URL))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must be positive", i)
		}
	}
	c.location = loc
	c.table = &table
	return nil
}

// Location returns the configured timezone, UTC before validation.
func (c *Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	if loc, err := time.LoadLocation(c.Calendar.Timezone); err == nil {
		return loc
	}
	return time.UTC
}

// SLATable returns the built-in table with this config's overrides.
func (c *Config) SLATable() sla.Table {
	if c.table != nil {
		return *c.table
	}
	if t, err := sla.NewTable(c.SLA.Regions); err == nil {
		return t
	}
	return sla.Default()
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	_ = cfg.Validate()
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Missing sections
// keep their defaults.
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

const defaultTemplate = `calendar:
  timezone: Europe/Madrid

sla:
  # Overrides or additions to the built-in regional budgets, in workdays.
  # total_days must equal reception_days + production_days + shipping_days.
  regions: {}

queue:
  active_statuses: [pending, in_production, quality_check, ready]

logging:
  level: info

server:
  addr: 127.0.0.1:8080
  base_path: /v0

# Work order events are POSTed to each receiver while mc serve runs.
# webhooks:
#   - url: https://example.com/hooks/maincontrol
#     events: [work_order.status]
#     secret: change-me
webhooks: []
`

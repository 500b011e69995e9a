package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Template keys the engine resolves through the notification catalog.
const (
	TemplateAssignmentConfirmed = "assignment_confirmed"
	TemplateWakeupReminder      = "wakeup_reminder"
	TemplateDepartureReminder   = "departure_reminder"
	TemplateArrivalReminder     = "arrival_reminder"
	TemplateCompletionReminder  = "completion_reminder"
	TemplateWakeupDelayAlert    = "wakeup_delay_alert"
	TemplateDepartureDelayAlert = "departure_delay_alert"
	TemplateArrivalDelayAlert   = "arrival_delay_alert"
)

// Config models crewline.yml.
type Config struct {
	Escalation struct {
		ArrivalBuffer string    `yaml:"arrival_buffer"`
		Window        string    `yaml:"window"`
		Supervisors   []Contact `yaml:"supervisors"`
	} `yaml:"escalation"`
	Notifications struct {
		Gateway   GatewayConfig     `yaml:"gateway"`
		Templates map[string]string `yaml:"templates"`
	} `yaml:"notifications"`
	Server struct {
		JWTSecret              string `yaml:"jwt_secret"`
		CronSecret             string `yaml:"cron_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
}

type Contact struct {
	Name  string `yaml:"name"`
	Phone string `yaml:"phone"`
}

type GatewayConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	SenderKey string `yaml:"sender_key"`
	SenderNo  string `yaml:"sender_no"`
}

const (
	defaultArrivalBuffer = 90 * time.Minute
	defaultWindow        = 15 * time.Minute
)

// ArrivalBuffer is the lead a participant must be on site before their
// stated arrival target (the "eta" anchor).
func (c *Config) ArrivalBuffer() time.Duration {
	return c.duration(c.Escalation.ArrivalBuffer, defaultArrivalBuffer)
}

// Window is the width of each escalation time window.
func (c *Config) Window() time.Duration {
	return c.duration(c.Escalation.Window, defaultWindow)
}

func (c *Config) duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Template resolves a template key to the gateway template code. Unmapped
// keys fall back to the key itself so a bare catalog still works.
func (c *Config) Template(key string) string {
	if code, ok := c.Notifications.Templates[key]; ok && code != "" {
		return code
	}
	return key
}

var knownTemplateKeys = []string{
	TemplateAssignmentConfirmed,
	TemplateWakeupReminder,
	TemplateDepartureReminder,
	TemplateArrivalReminder,
	TemplateCompletionReminder,
	TemplateWakeupDelayAlert,
	TemplateDepartureDelayAlert,
	TemplateArrivalDelayAlert,
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Escalation.ArrivalBuffer != "" {
		if _, err := time.ParseDuration(c.Escalation.ArrivalBuffer); err != nil {
			return fmt.Errorf("escalation.arrival_buffer: %w", err)
		}
	}
	if c.Escalation.Window != "" {
		d, err := time.ParseDuration(c.Escalation.Window)
		if err != nil {
			return fmt.Errorf("escalation.window: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("escalation.window must be positive")
		}
	}
	for i, s := range c.Escalation.Supervisors {
		if s.Phone == "" {
			return fmt.Errorf("escalation.supervisors[%d] missing phone", i)
		}
	}
	for key := range c.Notifications.Templates {
		if !isKnownTemplateKey(key) {
			return fmt.Errorf("notifications.templates has unknown key %s", key)
		}
	}
	return nil
}

func isKnownTemplateKey(key string) bool {
	for _, k := range knownTemplateKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "crewline.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it or run cw config show --default", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
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

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `escalation:
  arrival_buffer: 1h30m
  window: 15m
  supervisors: []

notifications:
  gateway:
    url: ""
    api_key: ""
    sender_key: ""
    sender_no: ""
  templates:
    assignment_confirmed: schedule_confirm
    wakeup_reminder: crew_wakeup
    departure_reminder: crew_departure
    arrival_reminder: crew_arrival
    completion_reminder: crew_completion
    wakeup_delay_alert: admin_wakeup_delay
    departure_delay_alert: admin_departure_delay
    arrival_delay_alert: admin_arrival_delay

server:
  jwt_secret: ""
  cron_secret: ""
  allow_legacy_actor_header: false
`

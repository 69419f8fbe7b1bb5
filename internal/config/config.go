package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models focusflow.yml.
type Config struct {
	Project struct {
		ID   string `yaml:"id" json:"id"`
		Kind string `yaml:"kind" json:"kind"`
	} `yaml:"project" json:"project"`
	Timer struct {
		WorkMinutes        int `yaml:"work_minutes" json:"work_minutes"`
		ShortBreakMinutes  int `yaml:"short_break_minutes" json:"short_break_minutes"`
		LongBreakMinutes   int `yaml:"long_break_minutes" json:"long_break_minutes"`
		CyclesPerLongBreak int `yaml:"cycles_per_long_break" json:"cycles_per_long_break"`
	} `yaml:"timer" json:"timer"`
	Edits struct {
		EphemeralPrefix string `yaml:"ephemeral_prefix" json:"ephemeral_prefix"`
		StrictReorder   bool   `yaml:"strict_reorder" json:"strict_reorder"`
	} `yaml:"edits" json:"edits"`
	AI struct {
		Model string `yaml:"model" json:"model"`
	} `yaml:"ai" json:"ai"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with ff project config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return fmt.Errorf("config.project.id is required")
	}
	if c.Project.Kind != "focus-project" {
		return fmt.Errorf("config.project.kind must be 'focus-project'")
	}
	if c.Timer.WorkMinutes <= 0 {
		return fmt.Errorf("config.timer.work_minutes must be positive")
	}
	if c.Timer.ShortBreakMinutes <= 0 {
		return fmt.Errorf("config.timer.short_break_minutes must be positive")
	}
	if c.Timer.LongBreakMinutes <= 0 {
		return fmt.Errorf("config.timer.long_break_minutes must be positive")
	}
	if c.Timer.CyclesPerLongBreak <= 0 {
		return fmt.Errorf("config.timer.cycles_per_long_break must be positive")
	}
	if c.Edits.EphemeralPrefix == "" {
		return fmt.Errorf("config.edits.ephemeral_prefix is required")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "focusflow.yml")
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a project.
func Default(projectID string) *Config {
	var cfg Config
	cfg.Project.ID = projectID
	cfg.Project.Kind = "focus-project"
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, projectID))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(projectID string) string {
	return fmt.Sprintf(defaultTemplate, projectID)
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

const defaultTemplate = `project:
  id: %s
  kind: focus-project

timer:
  work_minutes: 25
  short_break_minutes: 5
  long_break_minutes: 15
  cycles_per_long_break: 4

edits:
  ephemeral_prefix: "tmp-"
  strict_reorder: false

ai:
  model: gemini-2.5-flash
`

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models frequency.yml.
type Config struct {
	Workspace struct {
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Categories []string `yaml:"categories"`
	Objectives struct {
		DefaultCategory    string `yaml:"default_category"`
		PrivilegedCategory string `yaml:"privileged_category"`
	} `yaml:"objectives"`
	KeyResults struct {
		WinConditionTarget float64 `yaml:"win_condition_target"`
		DefaultTarget      float64 `yaml:"default_target"`
		DefaultUnit        string  `yaml:"default_unit"`
	} `yaml:"key_results"`
	Webhooks []Webhook `yaml:"webhooks"`
}

type Webhook struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// IsEnabled reports whether the hook should fire; hooks are on unless disabled explicitly.
func (w Webhook) IsEnabled() bool {
	return w.Enabled == nil || *w.Enabled
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run fq init or fq config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace.Name) == "" {
		return fmt.Errorf("config.workspace.name is required")
	}
	if strings.TrimSpace(c.Objectives.DefaultCategory) == "" {
		return fmt.Errorf("config.objectives.default_category is required")
	}
	if strings.TrimSpace(c.Objectives.PrivilegedCategory) == "" {
		return fmt.Errorf("config.objectives.privileged_category is required")
	}
	seen := map[string]bool{}
	for _, name := range c.Categories {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("config.categories contains an empty name")
		}
		if seen[strings.ToLower(name)] {
			return fmt.Errorf("config.categories lists %s twice", name)
		}
		seen[strings.ToLower(name)] = true
	}
	if c.KeyResults.WinConditionTarget <= 0 {
		return fmt.Errorf("config.key_results.win_condition_target must be positive")
	}
	if c.KeyResults.DefaultTarget <= 0 {
		return fmt.Errorf("config.key_results.default_target must be positive")
	}
	if c.KeyResults.DefaultUnit == "" {
		return fmt.Errorf("config.key_results.default_unit is required")
	}
	for i, h := range c.Webhooks {
		if !strings.HasPrefix(h.URL, "http://") && !strings.HasPrefix(h.URL, "https://") {
			return fmt.Errorf("webhook %d: url must be http(s)", i)
		}
		if h.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d: timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "frequency.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a workspace.
func Default(name string) *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(GenerateDefault(name)), &cfg); err != nil {
		panic(fmt.Sprintf("default config template: %v", err))
	}
	return &cfg
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

// Marshal renders the config back to YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

const defaultTemplate = `workspace:
  name: %q

categories:
  - Company
  - Engineering
  - Product
  - Marketing
  - Sales
  - Success

objectives:
  default_category: General
  privileged_category: Company

key_results:
  win_condition_target: 999999
  default_target: 100
  default_unit: "%%"

webhooks: []
`

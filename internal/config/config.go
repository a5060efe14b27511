package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models chantier.yml.
type Config struct {
	Workspace struct {
		Name string `yaml:"name"`
	} `yaml:"workspace"`
	Blockages struct {
		Catalog map[string]struct {
			Description string `yaml:"description"`
		} `yaml:"catalog"`
		DefaultCause string `yaml:"default_cause"`
	} `yaml:"blockages"`
	Reporting struct {
		// Hour of day (0-23) after which confirmation batches normally run.
		// Informational for callers; confirmation itself is always explicit.
		CutoffHour int `yaml:"cutoff_hour"`
	} `yaml:"reporting"`
}

// requiredCauses must exist in every catalog so the cascade and the suspend
// command always have a known vocabulary.
var requiredCauses = []string{"strike", "access_denied", "weather", "equipment", "other"}

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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.Name == "" {
		return fmt.Errorf("config.workspace.name is required")
	}
	if len(c.Blockages.Catalog) == 0 {
		return fmt.Errorf("config.blockages.catalog is required")
	}
	for _, cause := range requiredCauses {
		if _, ok := c.Blockages.Catalog[cause]; !ok {
			return fmt.Errorf("config.blockages.catalog missing required cause %s", cause)
		}
	}
	for cause := range c.Blockages.Catalog {
		if cause == "" {
			return fmt.Errorf("config.blockages.catalog contains empty cause id")
		}
	}
	if c.Blockages.DefaultCause != "" {
		if _, ok := c.Blockages.Catalog[c.Blockages.DefaultCause]; !ok {
			return fmt.Errorf("default cause %s not in catalog", c.Blockages.DefaultCause)
		}
	}
	if c.Reporting.CutoffHour < 0 || c.Reporting.CutoffHour > 23 {
		return fmt.Errorf("config.reporting.cutoff_hour must be 0-23")
	}
	return nil
}

// KnownCause reports whether a cause id is in the catalog.
func (c *Config) KnownCause(cause string) bool {
	_, ok := c.Blockages.Catalog[cause]
	return ok
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "chantier.yml")
}

// Default returns the default Config struct for a workspace.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, name))).Decode(&cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
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

const defaultTemplate = `workspace:
  name: %s

blockages:
  catalog:
    strike:
      description: "Industrial action halting site access or execution"
    access_denied:
      description: "Site access refused by client or authority"
    weather:
      description: "Weather conditions preventing safe execution"
    equipment:
      description: "Equipment unavailable or out of service"
    other:
      description: "Any other declared cause"
  default_cause: other

reporting:
  cutoff_hour: 18
`

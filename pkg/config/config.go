// Package config provides configuration loading and management for seriesresolve.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"seriesresolver/pkg/analysis"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// Workers bounds how many configurations are analyzed in parallel
		Workers int `yaml:"workers"`

		// RequireTotalCoverage disqualifies runs that leave any file unassigned
		RequireTotalCoverage bool `yaml:"requireTotalCoverage"`
	} `yaml:"processing"`

	// Geometry tolerances applied to the built-in configurations
	Tolerances struct {
		// Spacing is the allowed deviation (mm) of slice spacing from the mean
		Spacing float64 `yaml:"spacing"`

		// Origin is the allowed distance (mm) of a slice origin from the stack line
		Origin float64 `yaml:"origin"`
	} `yaml:"tolerances"`

	// Additional configurations
	Configurations struct {
		// Files lists serialized configurations registered next to the built-ins
		Files []string `yaml:"files"`

		// Exclusive drops the built-ins so only Files are tried
		Exclusive bool `yaml:"exclusive"`
	} `yaml:"configurations"`

	// Output parameters
	Output struct {
		// ConfigurationFile receives the serialized winning configuration
		ConfigurationFile string `yaml:"configurationFile"`

		// DiagnosticLog receives every diagnostic as JSON lines
		DiagnosticLog string `yaml:"diagnosticLog"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.RequireTotalCoverage = true

	cfg.Tolerances.Spacing = analysis.DefaultTolerance(analysis.ToleranceSpacing)
	cfg.Tolerances.Origin = analysis.DefaultTolerance(analysis.ToleranceOrigin)

	// Set default output parameters
	cfg.Output.ConfigurationFile = "series-configuration.yaml"
	cfg.Output.DiagnosticLog = ""
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Relative configuration files are resolved against the config file
	base := filepath.Dir(configPath)
	for i, f := range cfg.Configurations.Files {
		if !filepath.IsAbs(f) {
			cfg.Configurations.Files[i] = filepath.Join(base, f)
		}
	}

	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Processing.Workers < 0 {
		return fmt.Errorf("invalid config: workers must not be negative, got %d", c.Processing.Workers)
	}
	for name, v := range c.ToleranceOverrides() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid config: tolerance %s must be a finite non-negative number, got %v", name, v)
		}
	}
	if c.Configurations.Exclusive && len(c.Configurations.Files) == 0 {
		return fmt.Errorf("invalid config: exclusive mode needs at least one configuration file")
	}
	return nil
}

// ToleranceOverrides returns the tolerances keyed by the names configurations use.
func (c *Config) ToleranceOverrides() map[string]float64 {
	return map[string]float64{
		analysis.ToleranceSpacing: c.Tolerances.Spacing,
		analysis.ToleranceOrigin:  c.Tolerances.Origin,
	}
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

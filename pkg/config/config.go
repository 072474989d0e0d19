// Package config provides configuration loading and management for histostack.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Build parameters
	Build struct {
		// ImageFolder is the per-case folder holding the source image tiles
		ImageFolder string `yaml:"imageFolder"`

		// Extension filters which files in a tile folder are considered tiles
		Extension string `yaml:"extension"`

		// TileCap limits each case to the lowest N tile indices (0 = unlimited)
		TileCap int `yaml:"tileCap"`

		// Workers specifies how many cases and tiles are processed in parallel
		Workers int `yaml:"workers"`

		// SaveAfterBuild hands the assembled scene to the scene store when done
		SaveAfterBuild bool `yaml:"saveAfterBuild"`

		// ArtifactPath overrides the default scene artifact location
		ArtifactPath string `yaml:"artifactPath"`

		// Verify re-crops every built slice against its source tile
		Verify bool `yaml:"verify"`

		// ShowSegmentsByDefault marks non-background layers visible for viewers
		ShowSegmentsByDefault bool `yaml:"showSegmentsByDefault"`

		// ReportPath writes the batch report as YAML next to the console summary
		ReportPath string `yaml:"reportPath"`
	} `yaml:"build"`

	// Export parameters
	Export struct {
		// Tag is appended to each exported tile filename before the extension
		Tag string `yaml:"tag"`

		// EmitPolicy decides which slices produce files:
		// annotated-or-source, annotated-only, or all
		EmitPolicy string `yaml:"emitPolicy"`
	} `yaml:"export"`

	// Logging parameters
	Logging struct {
		// Verbose enables debug-level output
		Verbose bool `yaml:"verbose"`

		// Logfile redirects log output to a rotating file (empty = stderr)
		Logfile string `yaml:"logfile"`

		// MaxSize is the log rotation threshold in megabytes
		MaxSize int `yaml:"maxLogSize"`

		// MaxAge is the number of days rotated logs are kept
		MaxAge int `yaml:"maxLogAge"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default build parameters
	cfg.Build.ImageFolder = "HE"
	cfg.Build.Extension = ".png"
	cfg.Build.TileCap = 0
	cfg.Build.Workers = runtime.NumCPU() // Use all available cores by default
	cfg.Build.SaveAfterBuild = true
	cfg.Build.Verify = false
	cfg.Build.ShowSegmentsByDefault = false

	// Set default export parameters
	cfg.Export.Tag = "_edited"
	cfg.Export.EmitPolicy = "annotated-or-source"

	// Set default logging parameters
	cfg.Logging.Verbose = false
	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 30

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

	return cfg, nil
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

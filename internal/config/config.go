package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"stardock/pkg/logging"
)

const (
	userConfigDir  = ".config/stardock"
	configFileName = "config.yaml"
)

// Config is the main stardock configuration.
type Config struct {
	// ComponentsDir is the directory scanned for component descriptors.
	ComponentsDir string `yaml:"componentsDir"`
	// LogLevel filters log output: debug, info, warn, error.
	LogLevel string `yaml:"logLevel"`
	// Workers bounds concurrent artifact loads.
	Workers int `yaml:"workers"`
	// Parallel enables level-parallel loading during bring-up.
	Parallel bool `yaml:"parallel"`
}

// Default returns the configuration used when no config file exists.
func Default() Config {
	return Config{
		LogLevel: "info",
		Workers:  4,
	}
}

// DefaultPath returns the per-user configuration directory.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(home, userConfigDir), nil
}

// Load reads config.yaml from the given directory, falling back to defaults
// when the file does not exist. A malformed file is an error, not a silent
// fallback.
func Load(dir string) (Config, error) {
	path := filepath.Join(dir, configFileName)
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("Config", "no config.yaml at %s, using defaults", path)
			return cfg, nil
		}
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", path, err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = Default().Workers
	}
	logging.Info("Config", "loaded configuration from %s", path)
	return cfg, nil
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pinweaver.
//
// go-pinweaver is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration
type Config struct {
	Tree    TreeConfig    `yaml:"tree"`
	Storage StorageConfig `yaml:"storage"`
	Element ElementConfig `yaml:"element"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// TreeConfig fixes the hash tree geometry and its persisted location.
// The geometry only applies on first boot; an existing tree file keeps
// its own shape.
type TreeConfig struct {
	BitsPerLevel uint8  `yaml:"bits_per_level"`
	Height       uint8  `yaml:"height"`
	Path         string `yaml:"path"`
}

// StorageConfig controls the credential metadata store
type StorageConfig struct {
	Backend string `yaml:"backend"` // file, memory
	Path    string `yaml:"path"`
}

// ElementConfig controls the secure element connection
type ElementConfig struct {
	Backend   string `yaml:"backend"` // sim
	StateFile string `yaml:"state_file"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Port    int    `yaml:"port"`
}

// Default returns the configuration used when no config file is given.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		Tree: TreeConfig{
			BitsPerLevel: 2,
			Height:       7,
			Path:         filepath.Join(dataDir, "tree.cbor"),
		},
		Storage: StorageConfig{
			Backend: "file",
			Path:    filepath.Join(dataDir, "metadata"),
		},
		Element: ElementConfig{
			Backend:   "sim",
			StateFile: filepath.Join(dataDir, "element.cbor"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Path:    "/metrics",
			Port:    9090,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "pinweaver")
	}
	return ".pinweaver"
}

// Load reads configuration from a YAML file and applies environment variable overrides
func Load(path string) (*Config, error) {
	// #nosec G304 - Config file path is provided by admin/user
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	if dataDir := os.Getenv("PINWEAVER_DATA_DIR"); dataDir != "" {
		cfg.Tree.Path = filepath.Join(dataDir, "tree.cbor")
		cfg.Storage.Path = filepath.Join(dataDir, "metadata")
		cfg.Element.StateFile = filepath.Join(dataDir, "element.cbor")
	}
	if level := os.Getenv("PINWEAVER_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PINWEAVER_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}
	if metricsPort := os.Getenv("PINWEAVER_METRICS_PORT"); metricsPort != "" {
		port, err := strconv.Atoi(metricsPort)
		if err != nil {
			log.Printf("Warning: invalid PINWEAVER_METRICS_PORT value %q, using default %d: %v",
				metricsPort, cfg.Metrics.Port, err)
		} else if port < 1 || port > 65535 {
			log.Printf("Warning: invalid PINWEAVER_METRICS_PORT value %q (out of range 1-65535), using default %d",
				metricsPort, cfg.Metrics.Port)
		} else {
			cfg.Metrics.Port = port
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Tree.BitsPerLevel == 0 {
		return fmt.Errorf("tree bits_per_level must be at least 1")
	}
	if c.Tree.Height == 0 {
		return fmt.Errorf("tree height must be at least 1")
	}
	if uint16(c.Tree.BitsPerLevel)*uint16(c.Tree.Height) > 32 {
		return fmt.Errorf("tree label length %d exceeds 32 bits",
			uint16(c.Tree.BitsPerLevel)*uint16(c.Tree.Height))
	}
	if c.Tree.Path == "" {
		return fmt.Errorf("tree path must be specified")
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for the file backend")
		}
	case "memory":
	default:
		return fmt.Errorf("invalid storage backend: %s (must be file or memory)", c.Storage.Backend)
	}

	switch strings.ToLower(c.Element.Backend) {
	case "sim":
	default:
		return fmt.Errorf("invalid element backend: %s (must be sim)", c.Element.Backend)
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", c.Metrics.Port)
		}
		if c.Metrics.Path == "" {
			return fmt.Errorf("metrics path must be specified when metrics are enabled")
		}
	}

	return nil
}

// Package config loads engine settings from a YAML file.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Connector configures one named data source.
type Connector struct {
	Driver string `yaml:"driver"` // mem, file, sqlite, postgres
	DSN    string `yaml:"dsn,omitempty"`
	Dir    string `yaml:"dir,omitempty"`
}

// Config holds the engine settings. Zero fields are filled by Defaults.
type Config struct {
	Workers      int                  `yaml:"workers"`
	BlockSize    int                  `yaml:"block_size"`
	MaxCallDepth int                  `yaml:"max_call_depth"`
	LogLevel     string               `yaml:"log_level"`
	TempDir      string               `yaml:"temp_dir,omitempty"` // sortx runs; system temp dir when empty
	Connectors   map[string]Connector `yaml:"connectors"`
}

// Default returns a config with every field set.
func Default() Config {
	c := Config{}
	c.fill()
	return c
}

func (c *Config) fill() {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.BlockSize <= 0 {
		c.BlockSize = 1024
	}
	if c.MaxCallDepth <= 0 {
		c.MaxCallDepth = 256
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Connectors == nil {
		c.Connectors = make(map[string]Connector)
	}
}

// Parse decodes YAML config data and applies defaults.
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("config: decode: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.fill()
	return c, nil
}

// Load reads the config file at path. An empty path yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

func (c *Config) validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must not be negative, got %d", c.Workers)
	}
	if c.BlockSize < 0 {
		return fmt.Errorf("config: block_size must not be negative, got %d", c.BlockSize)
	}
	for name, conn := range c.Connectors {
		switch conn.Driver {
		case "mem":
		case "file":
			if conn.Dir == "" {
				return fmt.Errorf("config: connector %q: file driver needs dir", name)
			}
		case "sqlite", "postgres":
			if conn.DSN == "" {
				return fmt.Errorf("config: connector %q: %s driver needs dsn", name, conn.Driver)
			}
		default:
			return fmt.Errorf("config: connector %q: unknown driver %q", name, conn.Driver)
		}
	}
	return nil
}

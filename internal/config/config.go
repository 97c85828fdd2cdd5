package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server settings. Values come from defaults, then an optional
// YAML file, then environment variables, each layer overriding the last.
type Config struct {
	Port       string `yaml:"port"`
	DBPath     string `yaml:"db_path"`
	ChunkSize  int    `yaml:"chunk_size"`
	CooldownMS int    `yaml:"cooldown_ms"`
}

func defaults() *Config {
	return &Config{
		Port:       "8080",
		DBPath:     "vault.db",
		ChunkSize:  10,
		CooldownMS: 250,
	}
}

// Load reads configuration. path may be empty; a missing file at the default
// location is not an error.
func Load(path string) (*Config, error) {
	cfg := defaults()

	explicit := path != ""
	if path == "" {
		path = "reconciler.yaml"
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case os.IsNotExist(err) && !explicit:
		// Defaults plus env only.
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("CHUNK_COOLDOWN_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.CooldownMS = n
		}
	}

	return cfg, nil
}

// Cooldown returns the inter-chunk delay as a duration.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.CooldownMS) * time.Millisecond
}

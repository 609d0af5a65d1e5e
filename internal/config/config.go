// Package config loads server configuration from an optional YAML file
// with environment variable overrides. Environment always wins so
// container deployments can override a baked-in file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port     int    `yaml:"port"`
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	// Ingest limits
	MaxEventBytes   int `yaml:"max_event_bytes"`
	MaxListResults  int `yaml:"max_list_results"`
	ShutdownGraceMs int `yaml:"shutdown_grace_ms"`
}

// Load reads the YAML file at path (skipped when path is empty or the
// file does not exist), applies environment overrides, and validates.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Port:            8764,
		DBPath:          "./data/relay.db",
		LogLevel:        "info",
		MaxEventBytes:   1 << 20,
		MaxListResults:  100,
		ShutdownGraceMs: 10000,
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.Port = envInt("PORT", cfg.Port)
	cfg.DBPath = envStr("RELAY_DB_PATH", cfg.DBPath)
	cfg.LogLevel = envStr("LOG_LEVEL", cfg.LogLevel)
	cfg.MaxEventBytes = envInt("MAX_EVENT_BYTES", cfg.MaxEventBytes)
	cfg.MaxListResults = envInt("MAX_LIST_RESULTS", cfg.MaxListResults)
	cfg.ShutdownGraceMs = envInt("SHUTDOWN_GRACE_MS", cfg.ShutdownGraceMs)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.DBPath == "" {
		return fmt.Errorf("RELAY_DB_PATH must not be empty")
	}
	if c.MaxEventBytes < 1024 {
		return fmt.Errorf("MAX_EVENT_BYTES must be at least 1024, got %d", c.MaxEventBytes)
	}
	if c.MaxListResults < 1 {
		return fmt.Errorf("MAX_LIST_RESULTS must be positive, got %d", c.MaxListResults)
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

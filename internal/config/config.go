package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds all configuration for a harvester run.
type Config struct {
	// Coordinator
	APIURL string `mapstructure:"api-url"`

	// Mining
	Threads   int    `mapstructure:"threads"`
	Challenge string `mapstructure:"challenge"`
	DonateTo  string `mapstructure:"donate-to"`

	// Pool mode
	Concurrent  int    `mapstructure:"concurrent"`
	WalletsFile string `mapstructure:"wallets-file"`

	// Cadences
	MonitorInterval time.Duration `mapstructure:"monitor-interval"`
	DrainInterval   time.Duration `mapstructure:"drain-interval"`

	// Storage
	DataDir string `mapstructure:"data-dir"`

	// Status surface; 0 disables it.
	StatusPort int `mapstructure:"status-port"`

	// Logging
	LogLevel string `mapstructure:"log-level"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		APIURL: "https://scavenger.prod.gmaas.midnighttge.io",

		Threads:    4,
		Concurrent: 2,

		MonitorInterval: 30 * time.Second,
		DrainInterval:   15 * time.Second,

		DataDir:     ".harvester",
		WalletsFile: "wallets.json",

		StatusPort: 0,

		LogLevel: "info",
	}
}

// ApplyEnv overlays environment-variable overrides onto the config.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("HARVESTER_API_URL"); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv("HARVESTER_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the config for errors.
func (c *Config) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("api-url is required")
	}
	if c.Threads < 1 {
		return fmt.Errorf("threads must be at least 1")
	}
	if c.Concurrent < 1 {
		return fmt.Errorf("concurrent must be at least 1")
	}
	if c.MonitorInterval < time.Second {
		return fmt.Errorf("monitor-interval must be at least 1s")
	}
	if c.DrainInterval < time.Second {
		return fmt.Errorf("drain-interval must be at least 1s")
	}
	if c.StatusPort < 0 || c.StatusPort > 65535 {
		return fmt.Errorf("status-port must be 0-65535")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data-dir is required")
	}
	return nil
}

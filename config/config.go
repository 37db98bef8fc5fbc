package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config captures the daemon's runtime configuration.
type Config struct {
	ListenAddress        string    `toml:"ListenAddress"`
	DatabasePath         string    `toml:"DatabasePath"`
	Environment          string    `toml:"Environment"`
	AuthSecret           string    `toml:"AuthSecret"`
	LogFile              string    `toml:"LogFile"`
	SubscriberQueueSize  int       `toml:"SubscriberQueueSize"`
	SweepIntervalSeconds int       `toml:"SweepIntervalSeconds"`
	Chambers             []string  `toml:"Chambers"`
	Telemetry            Telemetry `toml:"Telemetry"`
}

// Telemetry configures the optional OpenTelemetry exporters.
type Telemetry struct {
	Enabled  bool   `toml:"Enabled"`
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot serve with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("config: DatabasePath required")
	}
	if strings.TrimSpace(c.AuthSecret) == "" {
		return fmt.Errorf("config: AuthSecret required")
	}
	if c.SubscriberQueueSize < 1 {
		return fmt.Errorf("config: SubscriberQueueSize must be positive")
	}
	if c.SweepIntervalSeconds < 1 {
		return fmt.Errorf("config: SweepIntervalSeconds must be positive")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8645"
	}
	if strings.TrimSpace(cfg.DatabasePath) == "" {
		cfg.DatabasePath = "plenum.db"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.SubscriberQueueSize == 0 {
		cfg.SubscriberQueueSize = 32
	}
	if cfg.SweepIntervalSeconds == 0 {
		cfg.SweepIntervalSeconds = 1
	}
	if cfg.Chambers == nil {
		cfg.Chambers = []string{}
	}
	if strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	// The generated file still needs an AuthSecret before the daemon will
	// start; return it unvalidated so the operator sees the Validate error
	// with the file in place.
	return cfg, nil
}

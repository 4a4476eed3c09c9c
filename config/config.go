// Package config loads the engine's YAML configuration, overlaid by a
// .env file and then by the REENTRY_* environment variables (§6.4),
// which always win.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full runtime configuration of the reentry engine.
type Config struct {
	Root          string        `yaml:"root"`
	MaxChainHours int           `yaml:"max_chain_hours"`
	AckGraceSec   int           `yaml:"ack_grace_seconds"`
	LogLevel      string        `yaml:"log_level"`
	Broker        BrokerConfig  `yaml:"broker"`
	Reload        ReloadConfig  `yaml:"reload"`
}

// BrokerConfig carries the lot-sizing constants the risk engine needs
// but that are broker- and instrument-specific, not system constants.
//
// PipValuePerLot is a single figure applied to every symbol the engine
// trades. A multi-instrument deployment with materially different pip
// values per symbol needs a per-symbol table instead; the execution
// adapter that would supply live per-symbol values is out of scope
// (§1), so one configured constant is what §6.1's sizing formula gets.
type BrokerConfig struct {
	MinLot          float64 `yaml:"min_lot"`
	MaxLot          float64 `yaml:"max_lot"`
	LotStep         float64 `yaml:"lot_step"`
	PipValuePerLot  float64 `yaml:"pip_value_per_lot"`
}

// ReloadConfig controls the matrix-file change-detection poll (§9: no
// fsnotify in the retrieval pack, so reload is mtime-polled).
type ReloadConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
}

// Load reads path as YAML, overlays a .env file in the working
// directory if present, then applies REENTRY_* environment overrides
// and defaults. Env always wins over YAML, matching §6.4's wording that
// REENTRY_ROOT "overrides the CLI flag" — and by extension, the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REENTRY_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("REENTRY_MAX_CHAIN_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxChainHours = n
		}
	}
	if v := os.Getenv("REENTRY_ACK_GRACE_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.AckGraceSec = n
		}
	}
	if v := os.Getenv("REENTRY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Root == "" {
		cfg.Root = "."
	}
	if cfg.MaxChainHours <= 0 {
		cfg.MaxChainHours = 24
	}
	if cfg.AckGraceSec <= 0 {
		cfg.AckGraceSec = 30
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.Broker.MinLot <= 0 {
		cfg.Broker.MinLot = 0.01
	}
	if cfg.Broker.MaxLot <= 0 {
		cfg.Broker.MaxLot = 100
	}
	if cfg.Broker.LotStep <= 0 {
		cfg.Broker.LotStep = 0.01
	}
	if cfg.Broker.PipValuePerLot <= 0 {
		cfg.Broker.PipValuePerLot = 10
	}
	if cfg.Reload.PollIntervalSeconds <= 0 {
		cfg.Reload.PollIntervalSeconds = 5
	}
}

// MaxChainDuration and AckGrace convert the configured integers to
// time.Duration for the ledger and orchestrator's timers (§5).
func (c *Config) MaxChainDuration() time.Duration {
	return time.Duration(c.MaxChainHours) * time.Hour
}

func (c *Config) AckGrace() time.Duration {
	return time.Duration(c.AckGraceSec) * time.Second
}

func (c *Config) ReloadPollInterval() time.Duration {
	return time.Duration(c.Reload.PollIntervalSeconds) * time.Second
}

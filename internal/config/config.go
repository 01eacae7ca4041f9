// Package config loads shmcopy settings from SHMCOPY_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, e.g. SHMCOPY_SHM_DIR.
const Prefix = "shmcopy"

// Config holds all process configuration.
type Config struct {
	Segment SegmentConfig
	Logging LogConfig
	Admin   AdminConfig
}

// SegmentConfig controls where segments live and how long peers wait for each other.
type SegmentConfig struct {
	Dir           string        `envconfig:"SHM_DIR" default:"/dev/shm"`
	PeerTimeout   time.Duration `envconfig:"PEER_TIMEOUT" default:"5s"`
	PollInterval  time.Duration `envconfig:"POLL_INTERVAL" default:"100ms"`
	AttachTimeout time.Duration `envconfig:"ATTACH_TIMEOUT" default:"2s"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// AdminConfig enables the metrics/health listener when Addr is set.
type AdminConfig struct {
	Addr string `envconfig:"ADMIN_ADDR"`
}

// Load loads configuration from environment variables. Variables found in
// envFiles are added to the environment first; variables already set win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when the environment is empty.
func Default() *Config {
	return &Config{
		Segment: SegmentConfig{
			Dir:           "/dev/shm",
			PeerTimeout:   5 * time.Second,
			PollInterval:  100 * time.Millisecond,
			AttachTimeout: 2 * time.Second,
		},
		Logging: LogConfig{Level: "info"},
	}
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Segment.Dir == "" {
		return fmt.Errorf("config: SHMCOPY_SHM_DIR must not be empty")
	}
	if c.Segment.PeerTimeout <= 0 {
		return fmt.Errorf("config: SHMCOPY_PEER_TIMEOUT must be positive, got %s", c.Segment.PeerTimeout)
	}
	if c.Segment.PollInterval <= 0 || c.Segment.PollInterval > c.Segment.PeerTimeout {
		return fmt.Errorf("config: SHMCOPY_POLL_INTERVAL must be in (0, %s], got %s",
			c.Segment.PeerTimeout, c.Segment.PollInterval)
	}
	if c.Segment.AttachTimeout <= 0 {
		return fmt.Errorf("config: SHMCOPY_ATTACH_TIMEOUT must be positive, got %s", c.Segment.AttachTimeout)
	}
	return nil
}

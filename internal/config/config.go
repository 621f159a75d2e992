package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	follower "github.com/syntrixbase/follower/internal/follower/config"
	"gopkg.in/yaml.v3"
)

// DefaultDir holds config.yml and config.local.yml.
const DefaultDir = "config"

// Config holds the configuration of the follower binary.
type Config struct {
	Follower follower.Config `yaml:"follower"`
	Logging  LoggingConfig   `yaml:"logging"`
	Sink     SinkConfig      `yaml:"sink"`
	Health   HealthConfig    `yaml:"health"`
}

// SinkConfig configures republishing of delivered changes to NATS JetStream.
type SinkConfig struct {
	Enabled       bool          `yaml:"enabled"`
	URL           string        `yaml:"url"`
	Stream        string        `yaml:"stream"`
	SubjectPrefix string        `yaml:"subject_prefix"`
	Subject       string        `yaml:"subject"`
	FileStorage   bool          `yaml:"file_storage"`
	RetryAttempts int           `yaml:"retry_attempts"`
	HighWater     int           `yaml:"high_water"`
	LowWater      int           `yaml:"low_water"`
	Timeout       time.Duration `yaml:"timeout"`
}

// HealthConfig configures the health and metrics endpoint. An empty Addr
// disables it.
type HealthConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultSinkConfig returns the sink defaults. The sink is off by default.
func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		URL:           "nats://localhost:4222",
		Stream:        "FOLLOWER",
		SubjectPrefix: "follower",
		Subject:       "changes",
		RetryAttempts: 3,
		HighWater:     1000,
		Timeout:       5 * time.Second,
	}
}

func (c *SinkConfig) ApplyDefaults() {
	d := DefaultSinkConfig()
	if c.URL == "" {
		c.URL = d.URL
	}
	if c.Stream == "" {
		c.Stream = d.Stream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = d.SubjectPrefix
	}
	if c.Subject == "" {
		c.Subject = d.Subject
	}
	if c.RetryAttempts == 0 {
		c.RetryAttempts = d.RetryAttempts
	}
	if c.HighWater == 0 {
		c.HighWater = d.HighWater
	}
	if c.Timeout == 0 {
		c.Timeout = d.Timeout
	}
}

func (c *SinkConfig) ApplyEnvOverrides() {
	if v := os.Getenv("FOLLOWER_NATS_URL"); v != "" {
		c.URL = v
	}
}

func (c *SinkConfig) ResolvePaths(_ string) {}

func (c *SinkConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.URL == "" {
		return errors.New("sink.url is required when the sink is enabled")
	}
	if c.Stream == "" {
		return errors.New("sink.stream is required when the sink is enabled")
	}
	if c.HighWater < 0 || c.LowWater < 0 {
		return errors.New("sink water marks must not be negative")
	}
	if c.LowWater >= c.HighWater && c.LowWater != 0 {
		return fmt.Errorf("sink.low_water (%d) must be below sink.high_water (%d)", c.LowWater, c.HighWater)
	}
	return nil
}

func (c *HealthConfig) ApplyDefaults() {}

func (c *HealthConfig) ApplyEnvOverrides() {
	if v := os.Getenv("FOLLOWER_HEALTH_ADDR"); v != "" {
		c.Addr = v
	}
}

func (c *HealthConfig) ResolvePaths(_ string) {}

func (c *HealthConfig) Validate() error { return nil }

// LoadConfig loads configuration from DefaultDir and the environment and exits
// the process on an invalid configuration.
func LoadConfig() *Config {
	cfg, err := Load(DefaultDir)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	return cfg
}

// Load builds the configuration from dir.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate
func Load(dir string) (*Config, error) {
	cfg := &Config{
		Follower: follower.DefaultConfig(),
		Logging:  DefaultLoggingConfig(),
		Sink:     DefaultSinkConfig(),
	}

	loadFile(filepath.Join(dir, "config.yml"), cfg)
	loadFile(filepath.Join(dir, "config.local.yml"), cfg)

	if err := ApplyServiceConfigs(dir,
		&cfg.Follower,
		&cfg.Logging,
		&cfg.Sink,
		&cfg.Health,
	); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		log.Printf("Warning: Error reading %s: %v", filename, err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("Warning: Error parsing %s: %v", filename, err)
	}
}

// Package config provides YAML-based configuration loading for Switchyard.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchyard configuration, loaded from config.yaml.
type Config struct {
	NodeID   string         `yaml:"node_id"`
	Address  string         `yaml:"address"`
	DB       DBConfig       `yaml:"db"`
	API      APIConfig      `yaml:"api"`
	Router   RouterConfig   `yaml:"router"`
	Gossip   GossipConfig   `yaml:"gossip"`
	Quorum   QuorumConfig   `yaml:"quorum"`
	Dispatch DispatchConfig `yaml:"dispatch"`
}

// DBConfig holds connection settings for the journal store.
type DBConfig struct {
	Driver   string `yaml:"driver"` // "sqlite" or "mysql"
	Path     string `yaml:"path"`   // sqlite file path
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Port int `yaml:"port"`
}

// RouterConfig holds message router tuning.
type RouterConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	BatchPerPriority  int           `yaml:"batch_per_priority"`
	HistoryLimit      int           `yaml:"history_limit"`
	CompressThreshold int           `yaml:"compress_threshold"` // bytes; gzip above this
	DefaultTTL        time.Duration `yaml:"default_ttl"`
}

// GossipConfig holds anti-entropy tuning.
type GossipConfig struct {
	Interval time.Duration `yaml:"interval"`
	Fanout   int           `yaml:"fanout"`
}

// QuorumConfig holds consensus tuning.
type QuorumConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// DispatchConfig holds task distribution tuning.
type DispatchConfig struct {
	TickInterval      time.Duration `yaml:"tick_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StuckFactor       float64       `yaml:"stuck_factor"` // multiple of estimate before force-reassign
	SweepSchedule     string        `yaml:"sweep_schedule"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a Config with all defaults applied and no file loaded.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		c.NodeID = "node-local"
	}
	if c.Address == "" {
		c.Address = "127.0.0.1"
	}
	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.Path == "" {
		c.DB.Path = "switchyard.db"
	}
	if c.DB.Host == "" {
		c.DB.Host = "127.0.0.1"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.Database == "" {
		c.DB.Database = "switchyard"
	}
	if c.API.Port == 0 {
		c.API.Port = 8080
	}
	if c.Router.TickInterval <= 0 {
		c.Router.TickInterval = 100 * time.Millisecond
	}
	if c.Router.BatchPerPriority <= 0 {
		c.Router.BatchPerPriority = 10
	}
	if c.Router.HistoryLimit <= 0 {
		c.Router.HistoryLimit = 1000
	}
	if c.Router.CompressThreshold <= 0 {
		c.Router.CompressThreshold = 1024
	}
	if c.Router.DefaultTTL <= 0 {
		c.Router.DefaultTTL = 5 * time.Minute
	}
	if c.Gossip.Interval <= 0 {
		c.Gossip.Interval = 5 * time.Second
	}
	if c.Gossip.Fanout <= 0 {
		c.Gossip.Fanout = 3
	}
	if c.Quorum.Timeout <= 0 {
		c.Quorum.Timeout = 30 * time.Second
	}
	if c.Dispatch.TickInterval <= 0 {
		c.Dispatch.TickInterval = time.Second
	}
	if c.Dispatch.HeartbeatInterval <= 0 {
		c.Dispatch.HeartbeatInterval = 10 * time.Second
	}
	if c.Dispatch.StuckFactor <= 0 {
		c.Dispatch.StuckFactor = 2.0
	}
	if c.Dispatch.SweepSchedule == "" {
		c.Dispatch.SweepSchedule = "@every 1m"
	}
}

// validate checks for configuration errors that defaults cannot repair.
func (c *Config) validate() error {
	switch c.DB.Driver {
	case "sqlite", "mysql":
	default:
		return fmt.Errorf("config: unknown db driver %q (must be sqlite or mysql)", c.DB.Driver)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("config: api port %d out of range", c.API.Port)
	}
	if c.Gossip.Fanout > 16 {
		return fmt.Errorf("config: gossip fanout %d too large (max 16)", c.Gossip.Fanout)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the daemon configuration file.
type Config struct {
	Paths                 []string `yaml:"paths"`
	MinimumFreeGB         int      `yaml:"minimumFreeGB"`
	Publisher             string   `yaml:"publisher"`
	GossipIntervalSeconds int      `yaml:"gossipIntervalSeconds"`
	MetricsPort           int      `yaml:"metricsPort"`
}

// GossipInterval returns the snapshot broadcast interval.
func (c Config) GossipInterval() time.Duration {
	return time.Duration(c.GossipIntervalSeconds) * time.Second
}

// Load reads a YAML config file and fills in defaults for anything
// unset.
func Load(path string) (Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("parse config file: %w", err)
	}

	config.applyDefaults()

	if config.Publisher == "" {
		return config, fmt.Errorf("config: publisher must be set")
	}

	return config, nil
}

func (c *Config) applyDefaults() {
	if len(c.Paths) == 0 {
		c.Paths = []string{"./chaincast-data"}
	}
	if c.MinimumFreeGB == 0 {
		c.MinimumFreeGB = 1
	}
	if c.GossipIntervalSeconds == 0 {
		c.GossipIntervalSeconds = 5
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9464
	}
}

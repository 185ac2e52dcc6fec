// Package config holds the translator's YAML-loadable configuration, in
// the same flat-struct style as the teacher's config/config.go, adapted
// from a NAT-behavior parameter set to the NAT64 control-path fields of
// spec §6.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full set of settings cmd/nat64ctl's run command needs to
// stand up a Translator and an nfqueue-backed packet pipeline.
type Config struct {
	LANInterface string `yaml:"lan_interface"`
	WANInterface string `yaml:"wan_interface"`

	NAT64Prefix string `yaml:"nat64_prefix"`
	IPv4CIDR    string `yaml:"ipv4_cidr"`

	MappingCapacity int           `yaml:"mapping_capacity"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`

	NFQueueNum   uint16 `yaml:"nfqueue_num"`
	MetricsAddr  string `yaml:"metrics_addr"`
	LogLevel     string `yaml:"log_level"`
}

// Default returns the configuration the teacher's main.go used as flag
// defaults, extended with this translator's own settings.
func Default() Config {
	return Config{
		LANInterface:    "eth0",
		WANInterface:    "eth1",
		MappingCapacity: 4096,
		IdleTimeout:     5 * time.Minute,
		NFQueueNum:      42,
		MetricsAddr:     ":9464",
		LogLevel:        "info",
	}
}

// Load reads and parses a YAML config file at path, starting from
// Default() so a partial file only overrides what it names.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports whether cfg has enough set to start the translator.
func (c Config) Validate() error {
	if c.LANInterface == "" {
		return fmt.Errorf("config: lan_interface is required")
	}
	if c.WANInterface == "" {
		return fmt.Errorf("config: wan_interface is required")
	}
	if c.NAT64Prefix == "" {
		return fmt.Errorf("config: nat64_prefix is required")
	}
	if c.IPv4CIDR == "" {
		return fmt.Errorf("config: ipv4_cidr is required")
	}
	if c.MappingCapacity <= 0 {
		return fmt.Errorf("config: mapping_capacity must be positive")
	}
	return nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidatesOnceTheRequiredFieldsAreSet(t *testing.T) {
	cfg := Default()
	assert.Error(t, cfg.Validate(), "Default() alone has no prefix or CIDR")

	cfg.NAT64Prefix = "64:ff9b::/96"
	cfg.IPv4CIDR = "192.0.2.0/24"
	assert.NoError(t, cfg.Validate())
}

func TestLoadOverlaysDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nat64.yaml")
	require.NoError(t, writeFile(path, "nat64_prefix: 64:ff9b::/96\nipv4_cidr: 192.0.2.0/24\nwan_interface: wan0\n"))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "64:ff9b::/96", cfg.NAT64Prefix)
	assert.Equal(t, "192.0.2.0/24", cfg.IPv4CIDR)
	assert.Equal(t, "wan0", cfg.WANInterface, "the file overrides the default")
	assert.Equal(t, "eth0", cfg.LANInterface, "fields the file doesn't mention keep their default")
	assert.Equal(t, 5*time.Minute, cfg.IdleTimeout)
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRequiresEachField(t *testing.T) {
	base := Default()
	base.NAT64Prefix = "64:ff9b::/96"
	base.IPv4CIDR = "192.0.2.0/24"

	cases := []func(*Config){
		func(c *Config) { c.LANInterface = "" },
		func(c *Config) { c.WANInterface = "" },
		func(c *Config) { c.NAT64Prefix = "" },
		func(c *Config) { c.IPv4CIDR = "" },
		func(c *Config) { c.MappingCapacity = 0 },
	}
	for _, mutate := range cases {
		cfg := base
		mutate(&cfg)
		assert.Error(t, cfg.Validate())
	}
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}

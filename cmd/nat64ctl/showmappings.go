package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

// showMappingsCmd prints the translator's static configuration and the
// pool sizing it implies. It does not attach to a running nat64ctl
// process — there is no IPC between invocations — so it reports what a
// freshly started translator would have, which is enough to sanity
// check a config file before running it for real.
func showMappingsCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	t, err := buildTranslator(cfg, nil)
	if err != nil {
		return err
	}

	prefix, _ := t.NAT64Prefix()
	cidr, _ := t.IPv4CIDR()
	fmt.Printf("nat64 prefix:     %s\n", prefix)
	fmt.Printf("ipv4 cidr:        %s\n", cidr)
	fmt.Printf("mapping capacity: %d\n", cfg.MappingCapacity)
	fmt.Printf("pool available:   %d\n", t.PoolAvailable())
	fmt.Printf("mappings active:  %d\n", t.MappingsActive())
	return nil
}

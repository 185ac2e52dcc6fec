package main

import (
	"time"

	log "github.com/sirupsen/logrus"

	"go.universe.tf/nat64/internal/config"
	"go.universe.tf/nat64/internal/ipaddr"
	"go.universe.tf/nat64/internal/metrics"
	"go.universe.tf/nat64/internal/nat64"

	"github.com/prometheus/client_golang/prometheus"
)

func monotonicMillis() func() uint64 {
	start := time.Now()
	return func() uint64 {
		return uint64(time.Since(start).Milliseconds())
	}
}

// buildTranslator constructs and fully configures a Translator from cfg:
// NAT64 prefix, IPv4 CIDR, and enabled state, wired to a Prometheus
// collector and the standard logger.
func buildTranslator(cfg config.Config, reg prometheus.Registerer) (*nat64.Translator, error) {
	t := nat64.New(cfg.MappingCapacity, uint64(cfg.IdleTimeout.Milliseconds()), monotonicMillis())
	t.Log = log.WithField("component", "nat64")
	if reg != nil {
		t.Metrics = metrics.NewCollector(reg)
	}

	prefix, err := ipaddr.ParsePrefix(cfg.NAT64Prefix)
	if err != nil {
		return nil, err
	}
	if err := t.SetNAT64Prefix(prefix); err != nil {
		return nil, err
	}

	cidr, err := ipaddr.ParseCIDR(cfg.IPv4CIDR)
	if err != nil {
		return nil, err
	}
	if err := t.SetIPv4CIDR(cidr); err != nil {
		return nil, err
	}

	if err := t.SetEnabled(true); err != nil {
		return nil, err
	}
	return t, nil
}

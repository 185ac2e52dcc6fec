package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func serveMetricsHTTP(addr string, reg *prometheus.Registry) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	log.WithField("addr", addr).Info("nat64ctl: serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("nat64ctl: metrics server exited")
	}
}

func serveMetricsCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)

	reg := prometheus.NewRegistry()
	if _, err := buildTranslator(cfg, reg); err != nil {
		return err
	}
	serveMetricsHTTP(cfg.MetricsAddr, reg)
	return nil
}

package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"go.universe.tf/nat64/internal/config"
)

func loadConfig(c *cli.Context) (config.Config, error) {
	path := c.String("config")
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func setLogLevel(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("nat64ctl: unrecognized log level, defaulting to info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
}

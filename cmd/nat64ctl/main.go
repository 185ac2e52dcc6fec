// Command nat64ctl runs the NAT64 translator as an NFQUEUE-backed packet
// processor, superseding the teacher's main.go/nat.go/natbox.go: the
// same urfave/cli/v2 app shape and go-nfqueue wiring, retargeted at
// IPv6<->IPv4 translation instead of NAT port mangling.
package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "nat64ctl",
		Usage: "Stateful NAT64 packet translator for an IPv6 border router",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a YAML configuration file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Intercept and translate packets via NFQUEUE",
				Action: runCmd,
			},
			{
				Name:   "serve-metrics",
				Usage:  "Run only the Prometheus metrics HTTP endpoint",
				Action: serveMetricsCmd,
			},
			{
				Name:   "show-mappings",
				Usage:  "Print the translator's configuration and pool sizing",
				Action: showMappingsCmd,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

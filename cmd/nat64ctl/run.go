package main

import (
	"context"
	"net"
	"os/signal"
	"time"

	nfqueue "github.com/florianl/go-nfqueue"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"go.universe.tf/nat64/internal/nat64"
)

// headroom is reserved in front of every packet buffer handed to the
// translator. 40 bytes covers the largest header either pipeline
// direction ever prepends (the 40-byte IPv6 header); on the incoming
// side, that budget is exactly enough for an ICMP error's embedded
// IPv4 header to grow into its 40-byte IPv6 equivalent too, because
// stripping the 20-byte outer IPv4 header first frees 20 more bytes of
// headroom before the inner rewrite ever runs.
const headroom = 40

func runCmd(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	setLogLevel(cfg.LogLevel)
	if err := cfg.Validate(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	translator, err := buildTranslator(cfg, reg)
	if err != nil {
		return err
	}
	go serveMetricsHTTP(cfg.MetricsAddr, reg)

	nfCfg := nfqueue.Config{
		NfQueue:      cfg.NFQueueNum,
		MaxPacketLen: 65535,
		MaxQueueLen:  255,
		Copymode:     nfqueue.NfQnlCopyPacket,
		ReadTimeout:  10 * time.Millisecond,
		WriteTimeout: 15 * time.Millisecond,
	}
	queue, err := nfqueue.Open(&nfCfg)
	if err != nil {
		log.Fatalf("nat64ctl: connecting to NFQUEUE: %s", err)
	}
	defer queue.Close()

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	process := func(a nfqueue.Attribute) int {
		handlePacket(translator, queue, a, cfg.LANInterface, cfg.WANInterface)
		return 0
	}
	if err := queue.Register(ctx, process); err != nil {
		log.Fatalf("nat64ctl: registering packet processor: %s", err)
	}

	log.WithField("pid", unix.Getpid()).Info("nat64ctl: translator running")
	<-ctx.Done()
	stop()
	log.Info("nat64ctl: signal received, exiting")
	return nil
}

func handlePacket(t *nat64.Translator, queue *nfqueue.Nfqueue, a nfqueue.Attribute, lanIf, wanIf string) {
	if a.Payload == nil || a.PacketID == nil {
		return
	}
	intf, err := net.InterfaceByIndex(int(*a.InDev))
	if err != nil {
		log.WithError(err).Warn("nat64ctl: resolving ingress interface")
		queue.SetVerdict(*a.PacketID, nfqueue.NfDrop)
		return
	}

	buf := nat64.NewBufferWithHeadroom(headroom, *a.Payload)

	var verdict nat64.Verdict
	switch intf.Name {
	case lanIf:
		verdict = t.HandleOutgoing(buf)
	case wanIf:
		verdict = t.HandleIncoming(buf)
	default:
		queue.SetVerdict(*a.PacketID, nfqueue.NfAccept)
		return
	}

	switch verdict {
	case nat64.Forward:
		queue.SetVerdictModPacket(*a.PacketID, nfqueue.NfAccept, buf.Bytes())
	case nat64.Drop:
		queue.SetVerdict(*a.PacketID, nfqueue.NfDrop)
	case nat64.ReplyICMP:
		// Not yet implemented: no pipeline path produces this verdict.
		queue.SetVerdict(*a.PacketID, nfqueue.NfDrop)
	}
}

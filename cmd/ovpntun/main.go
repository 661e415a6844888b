package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/irctrakz/ovpntun/pkg/config"
	"github.com/irctrakz/ovpntun/pkg/core"
	"github.com/irctrakz/ovpntun/pkg/device"
	"github.com/irctrakz/ovpntun/pkg/logging"
)

func main() {
	configPath := flag.String("config", "", "path to YAML or JSON config file")
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath, cfg); err != nil {
			log.Fatalf("config: %v", err)
		}
	}
	config.LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.ApplyLogging(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.Tunnel.Debug {
		logging.SetLevel(logging.DebugLevel)
		core.SetDebugMode(true)
		logging.Infof("debug enabled: verbose logging and packet copy mode")
	}
	core.SetStrictKeepalive(cfg.Tunnel.StrictKeepalive)

	dev := device.New(device.Config{
		Name:      cfg.Tunnel.Name,
		QueueSize: cfg.Tunnel.QueueSize,
	})

	if cfg.Tunnel.Peer != "" {
		if err := dev.PeerCreate(cfg.Tunnel.Peer); err != nil {
			log.Fatalf("peer create: %v", err)
		}
		interval := time.Duration(cfg.Tunnel.KeepaliveInterval) * time.Second
		timeout := time.Duration(cfg.Tunnel.KeepaliveTimeout) * time.Second
		if err := dev.SetKeepalive(interval, timeout); err != nil {
			logging.Warnf("keepalive: %v", err)
		}
	}

	logging.Infof("tunnel %s up", dev.Name())

	// Wait for termination
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc

	// Tell the remote we are going away before tearing down.
	if err := dev.ExitNotify(); err != nil && err != device.ErrNoPeer {
		logging.Warnf("exit notify: %v", err)
	}
	dev.Close()
	logging.Infof("tunnel %s down", dev.Name())
}

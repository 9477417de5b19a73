package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/audiowire/audiowire/internal/config"
	"github.com/audiowire/audiowire/internal/core/events"
	"github.com/audiowire/audiowire/internal/core/observability/log"
	"github.com/audiowire/audiowire/sdk/go/client"
)

func main() {
	configPath := flag.String("config", "audiowire.yaml", "path to the fleet config")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}
	if err = cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Invalid config:", err)
		os.Exit(1)
	}

	logger := log.New(log.ParseLevel(cfg.LogLevel))

	c, err := client.New(client.Config{
		UserID:        cfg.UserID,
		ResumeKey:     cfg.Resume.Key,
		ResumeTimeout: cfg.Resume.Timeout.Std(),
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error building client:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, n := range cfg.Nodes {
		if err = c.AddNode(ctx, cfg.FleetConfig(n)); err != nil {
			logger.Error("failed to register node",
				log.String("node", n.Name), log.Error(err))
		}
	}

	sub := c.Subscribe(func(ev events.Event) {
		switch e := ev.(type) {
		case events.NodeConnected:
			logger.Info("node connected",
				log.String("node", e.Node), log.Bool("resumed", e.Resumed))
		case events.NodeDisconnected:
			logger.Warn("node disconnected",
				log.String("node", e.Node), log.Bool("terminal", e.Terminal))
		case events.NodeChanged:
			logger.Info("session moved",
				log.String("session", e.GuildID),
				log.String("from", e.OldNode), log.String("to", e.NewNode))
		}
	})
	defer sub.Cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM)
	<-stopCh

	cancel()
	if err = c.Close(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error stopping client:", err)
	}
}

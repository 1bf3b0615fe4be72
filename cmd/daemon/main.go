// The daemon runs a long-lived chaincast peer: it opens the local node
// store, joins gossip when a transport is wired in, and serves
// Prometheus metrics. Segment production is fed in by an external
// encoder pipeline through the peer's API.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	chaincast "github.com/chaincast/chaincast"
	"github.com/chaincast/chaincast/internal/config"
	"github.com/chaincast/chaincast/pkg/logging"
	"github.com/chaincast/chaincast/pkg/metrics"
	"github.com/chaincast/chaincast/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := logging.NewCLILogger(level)

	conf, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	m := metrics.New()

	peer, err := chaincast.New(chaincast.Config{
		Paths:          conf.Paths,
		MinimumFreeGB:  conf.MinimumFreeGB,
		Publisher:      types.PublisherID(conf.Publisher),
		GossipInterval: conf.GossipInterval(),
		Logger:         log,
		Metrics:        m,
	})
	if err != nil {
		log.Error("failed to create peer", "error", err)
		os.Exit(1)
	}

	if err := peer.Start(); err != nil {
		log.Error("failed to start peer", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := peer.Close(); err != nil {
			log.Error("error closing peer", "error", err)
		}
	}()

	go func() {
		addr := fmt.Sprintf(":%d", conf.MetricsPort)
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		log.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	log.Info("shutting down", "signal", s.String())
}

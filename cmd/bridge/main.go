// bridge runs the bridge role: it accepts links from BLE-only devices and
// proxies their publish/subscribe requests to Nostr relays.
// Usage: go run ./cmd/bridge --relay wss://relay.damus.io [--config meshproxy.yaml]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/SWAI-Ltd/meshproxy/internal/config"
	"github.com/SWAI-Ltd/meshproxy/internal/crypto"
	"github.com/SWAI-Ltd/meshproxy/internal/discovery"
	"github.com/SWAI-Ltd/meshproxy/internal/mesh"
	"github.com/SWAI-Ltd/meshproxy/internal/nostrrelay"
	"github.com/SWAI-Ltd/meshproxy/internal/proto"
	"github.com/SWAI-Ltd/meshproxy/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		slog.Error("bridge failed", "err", err)
		os.Exit(1)
	}
}

func run() error {
	flags := pflag.NewFlagSet("bridge", pflag.ExitOnError)
	configPath := flags.String("config", "", "YAML config file")
	addr := flags.String("addr", "", "link listen address (overrides bridge.listen_addr)")
	relays := flags.StringSlice("relay", nil, "relay URL, repeatable (overrides bridge.relays)")
	advertise := flags.Bool("advertise", false, "advertise the bridge over mDNS")
	nodeID := flags.String("id", "", "mesh node id (default: derived from a fresh key)")
	logLevel := flags.String("log-level", "", "debug | info | warn | error")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Bridge.ListenAddr = *addr
	}
	if len(*relays) > 0 {
		cfg.Bridge.Relays = *relays
	}
	if flags.Changed("advertise") {
		cfg.Bridge.Advertise = *advertise
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if err := cfg.ValidateBridge(); err != nil {
		return err
	}
	log := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(log)

	if cfg.NodeID == "" {
		keys, err := crypto.GenerateKeyPair()
		if err != nil {
			return err
		}
		cfg.NodeID = keys.PeerID()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	relayClient, err := nostrrelay.New(ctx, nostrrelay.Config{
		Relays:         cfg.Bridge.Relays,
		PublishTimeout: cfg.Bridge.PublishTimeout,
		Logger:         log,
	})
	if err != nil {
		return err
	}
	defer relayClient.Close()

	var link *mesh.LinkServer
	bridge := proxy.NewBridge(proxy.BridgeConfig{
		PeerID: cfg.NodeID,
		Sender: proxy.SenderFunc(func(p *proto.Packet) error {
			return link.SendPacket(p)
		}),
		Relay:         relayClient,
		DedupCapacity: cfg.DedupCapacity,
		Logger:        log,
	})
	defer bridge.Shutdown()

	link, err = mesh.ListenLink(ctx, mesh.LinkServerConfig{
		Addr:         cfg.Bridge.ListenAddr,
		OnPacket:     bridge.HandlePacket,
		OnDisconnect: bridge.PeerDisconnected,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Bridge.ListenAddr, err)
	}
	defer link.Close()

	if cfg.Bridge.Advertise {
		_, port, err := discovery.ParseAddr(link.Addr())
		if err != nil {
			return err
		}
		adv, err := discovery.Advertise(cfg.NodeID, port)
		if err != nil {
			return err
		}
		defer adv.Close()
	}

	slog.Info("bridge started", "id", cfg.NodeID, "addr", link.Addr(), "relays", cfg.Bridge.Relays)
	<-ctx.Done()
	slog.Info("bridge shutting down", "subscriptions", bridge.ActiveSubscriptions(), "peers", len(link.Peers()))
	return nil
}

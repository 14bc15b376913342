// node runs the BLE-only device role against a bridge: it subscribes to
// gift wraps for the given pubkeys and prints every new event, or publishes
// a signed event read from a file.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nbd-wtf/go-nostr"
	"github.com/spf13/pflag"

	"github.com/SWAI-Ltd/meshproxy/client"
	"github.com/SWAI-Ltd/meshproxy/internal/config"
)

func main() {
	flags := pflag.NewFlagSet("node", pflag.ExitOnError)
	configPath := flags.String("config", "", "YAML config file")
	bridgeAddr := flags.String("bridge", "", "bridge link address (empty to discover over mDNS)")
	nodeID := flags.String("id", "", "mesh node id (default: derived from a fresh key)")
	mode := flags.String("mode", "sub", "sub | pub")
	pubkeys := flags.StringSlice("pubkey", nil, "hex pubkey to receive gift wraps for, repeatable (sub mode)")
	geohash := flags.String("geohash", "", "optional geohash context (sub mode)")
	eventFile := flags.String("event", "", "file with a signed event as JSON, - for stdin (pub mode)")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	if *bridgeAddr != "" {
		cfg.Device.BridgeAddr = *bridgeAddr
	}
	if cfg.Device.BridgeAddr == "" {
		cfg.Device.Discover = true
	}
	if *nodeID != "" {
		cfg.NodeID = *nodeID
	}
	if err := cfg.ValidateDevice(); err != nil {
		slog.Error("invalid config", "err", err)
		os.Exit(1)
	}
	log := cfg.Log.NewLogger(os.Stderr)
	slog.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	c, err := client.New(ctx, client.Config{
		NodeID:        cfg.NodeID,
		BridgeAddr:    cfg.Device.BridgeAddr,
		Discover:      cfg.Device.Discover,
		EventBuffer:   cfg.Device.EventBuffer,
		DedupCapacity: cfg.DedupCapacity,
		Logger:        log,
	})
	if err != nil {
		slog.Error("failed to link to bridge", "err", err)
		os.Exit(1)
	}
	defer c.Close()
	slog.Info("node linked", "id", c.NodeID())

	switch *mode {
	case "sub":
		if len(*pubkeys) == 0 {
			slog.Error("sub mode needs at least one --pubkey")
			os.Exit(1)
		}
		if err := c.Subscribe(*pubkeys, *geohash); err != nil {
			slog.Error("subscribe failed", "err", err)
			os.Exit(1)
		}
		slog.Info("subscribed", "pubkeys", len(*pubkeys))
		for {
			select {
			case <-ctx.Done():
				c.Unsubscribe(*pubkeys)
				return
			case <-c.Done():
				slog.Warn("bridge link lost")
				return
			case raw, ok := <-c.Events():
				if !ok {
					return
				}
				fmt.Println(raw)
			}
		}
	case "pub":
		evt, err := readEvent(*eventFile)
		if err != nil {
			slog.Error("read event", "err", err)
			os.Exit(1)
		}
		if err := c.Publish(evt); err != nil {
			slog.Error("publish failed", "err", err)
			os.Exit(1)
		}
		slog.Info("published", "id", evt.ID)
	default:
		fmt.Println("usage: node --mode sub|pub [--bridge host:6121] [--pubkey <hex>]... [--event file.json]")
	}
}

func readEvent(path string) (*nostr.Event, error) {
	var (
		data []byte
		err  error
	)
	switch path {
	case "":
		return nil, fmt.Errorf("pub mode needs --event")
	case "-":
		data, err = io.ReadAll(os.Stdin)
	default:
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, err
	}
	var evt nostr.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, err
	}
	if evt.ID == "" || evt.Sig == "" {
		return nil, fmt.Errorf("event must be signed (id and sig required)")
	}
	return &evt, nil
}

// Package client is the device-side SDK: it links a BLE-only device to a
// bridge and exposes publish/subscribe on the Nostr relay network, with
// newly seen events delivered on a channel.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/SWAI-Ltd/meshproxy/internal/crypto"
	"github.com/SWAI-Ltd/meshproxy/internal/mesh"
	"github.com/SWAI-Ltd/meshproxy/internal/proto"
	"github.com/SWAI-Ltd/meshproxy/internal/proxy"
)

const (
	// DefaultEventBuffer is the buffer size for the Events() channel.
	DefaultEventBuffer = 64
)

// ErrClosed is returned when using a client after Close.
var ErrClosed = errors.New("client closed")

// Config configures the client.
type Config struct {
	// NodeID is this device's mesh sender id. Empty derives one from a
	// fresh identity key.
	NodeID string
	// BridgeAddr is the bridge's link address (e.g. "192.168.1.5:6121").
	BridgeAddr string
	// Discover finds a bridge over mDNS when BridgeAddr is empty.
	Discover bool
	// EventBuffer sets the capacity of Events(); 0 uses DefaultEventBuffer.
	EventBuffer int
	// DedupCapacity sets how many event ids are remembered; 0 uses the
	// proxy default.
	DedupCapacity int
	Logger        *slog.Logger
}

// Client links to one bridge. Use Publish/Subscribe and read from Events().
type Client struct {
	node   *mesh.Node
	proxy  *proxy.Client
	events chan string
	nodeID string
	log    *slog.Logger
	closed bool
	mu     sync.Mutex
}

// New links to a bridge. Call Subscribe to receive events; read them from
// Events().
func New(ctx context.Context, cfg Config) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	nodeID := cfg.NodeID
	if nodeID == "" {
		keys, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, err
		}
		nodeID = keys.PeerID()
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = DefaultEventBuffer
	}

	c := &Client{
		events: make(chan string, buf),
		nodeID: nodeID,
		log:    log,
	}
	c.proxy = proxy.NewClient(proxy.ClientConfig{
		PeerID: nodeID,
		Sender: proxy.SenderFunc(func(p *proto.Packet) error {
			return c.node.SendPacket(p)
		}),
		OnEvent: func(raw string) {
			select {
			case c.events <- raw:
			default:
				c.log.Warn("event channel full; dropping event")
			}
		},
		DedupCapacity: cfg.DedupCapacity,
		Logger:        log,
	})
	node, err := mesh.Dial(ctx, mesh.Config{
		NodeID:     nodeID,
		BridgeAddr: cfg.BridgeAddr,
		Discover:   cfg.Discover,
		OnPacket:   func(p *proto.Packet) { c.proxy.HandleIncomingPacket(p) },
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}
	c.node = node
	return c, nil
}

// Publish sends an already signed event to the relays through the bridge.
func (c *Client) Publish(evt *nostr.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.proxy.Publish(evt)
	return nil
}

// Subscribe asks the bridge to forward gift-wrapped events addressed to
// pubkeys (hex). geohash may be empty.
func (c *Client) Subscribe(pubkeys []string, geohash string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.proxy.Subscribe(pubkeys, geohash)
	return nil
}

// Unsubscribe stops forwarding for pubkeys. The bridge drops the
// subscription for every device, not just this one.
func (c *Client) Unsubscribe(pubkeys []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.proxy.Unsubscribe(pubkeys)
	return nil
}

// Reset forgets which events were already delivered.
func (c *Client) Reset() {
	c.proxy.ClearState()
}

// Events returns the channel of newly seen event JSON. It is closed by Close.
func (c *Client) Events() <-chan string {
	return c.events
}

// NodeID returns this device's mesh sender id.
func (c *Client) NodeID() string {
	return c.nodeID
}

// Done is closed when the link to the bridge ends.
func (c *Client) Done() <-chan struct{} {
	return c.node.Done()
}

// Close drops the link and closes the Events() channel.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	err := c.node.Close()
	close(c.events)
	return err
}

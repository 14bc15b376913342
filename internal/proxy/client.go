package proxy

import (
	"encoding/json"
	"log/slog"

	"github.com/nbd-wtf/go-nostr"

	"github.com/SWAI-Ltd/meshproxy/internal/dedup"
	"github.com/SWAI-Ltd/meshproxy/internal/proto"
)

// ClientConfig for NewClient
type ClientConfig struct {
	// PeerID is this device's mesh sender id.
	PeerID string
	// Sender delivers packets to the bridge.
	Sender Sender
	// OnEvent receives the raw JSON of every event seen for the first time.
	OnEvent func(eventJSON string)
	// DedupCapacity overrides dedup.DefaultCapacity when positive.
	DedupCapacity int
	Logger        *slog.Logger
}

// Client is the device side of the proxy.
type Client struct {
	peerID  string
	sender  Sender
	onEvent func(string)
	seen    *dedup.Set
	log     *slog.Logger
}

// NewClient creates a proxy client.
func NewClient(cfg ClientConfig) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		peerID:  cfg.PeerID,
		sender:  cfg.Sender,
		onEvent: cfg.OnEvent,
		seen:    dedup.New(cfg.DedupCapacity),
		log:     log.With("component", "proxy-client"),
	}
}

// Publish asks the bridge to write an already signed event to the relays.
func (c *Client) Publish(evt *nostr.Event) {
	if evt == nil {
		return
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		c.log.Warn("publish: serialize event", "id", evt.ID, "err", err)
		return
	}
	c.send(proto.Publish{EventJSON: string(raw)})
}

// Subscribe asks the bridge to forward events addressed to pubkeys. geohash
// may be empty.
func (c *Client) Subscribe(pubkeys []string, geohash string) {
	c.send(proto.Subscribe{Pubkeys: pubkeys, Geohash: geohash})
}

// Unsubscribe asks the bridge to stop forwarding events for pubkeys.
func (c *Client) Unsubscribe(pubkeys []string) {
	c.send(proto.Unsubscribe{Pubkeys: pubkeys})
}

func (c *Client) send(m proto.Message) {
	payload, err := proto.Encode(m)
	if err != nil {
		c.log.Warn("encode proxy message", "type", m.Type(), "err", err)
		return
	}
	if err := c.sender.SendPacket(proto.NewProxyPacket(c.peerID, payload)); err != nil {
		c.log.Warn("send proxy packet", "type", m.Type(), "err", err)
		return
	}
	c.log.Debug("sent proxy packet", "type", m.Type(), "bytes", len(payload))
}

// HandleIncomingPacket processes a packet from the bridge. It returns true
// only for an Event carrying a parseable event whose id has not been seen
// before; that event has then been passed to OnEvent.
func (c *Client) HandleIncomingPacket(pkt *proto.Packet) bool {
	if pkt == nil || pkt.Type != proto.PacketTypeNostrRelay {
		return false
	}
	msg, err := proto.Decode(pkt.Payload)
	if err != nil {
		c.log.Debug("drop undecodable packet", "from", pkt.SenderID, "err", err)
		return false
	}
	ev, ok := msg.(proto.Event)
	if !ok {
		c.log.Debug("ignore non-event proxy message", "from", pkt.SenderID, "type", msg.Type())
		return false
	}
	var evt nostr.Event
	if err := json.Unmarshal([]byte(ev.EventJSON), &evt); err != nil || evt.ID == "" {
		c.log.Debug("drop unparseable event", "from", pkt.SenderID, "err", err)
		return false
	}
	if !c.seen.Add(evt.ID) {
		return false
	}
	if c.onEvent != nil {
		c.onEvent(ev.EventJSON)
	}
	return true
}

// ClearState forgets every event id seen so far.
func (c *Client) ClearState() {
	c.seen.Clear()
}

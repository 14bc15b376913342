package proxy

import (
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/SWAI-Ltd/meshproxy/internal/dedup"
	"github.com/SWAI-Ltd/meshproxy/internal/proto"
)

// BridgeConfig for NewBridge
type BridgeConfig struct {
	// PeerID is the bridge's mesh sender id.
	PeerID string
	// Sender broadcasts to the directly connected devices.
	Sender Sender
	Relay  RelayClient
	// DedupCapacity overrides dedup.DefaultCapacity when positive.
	DedupCapacity int
	Logger        *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Bridge serves proxy requests from BLE-only peers.
//
// A relay subscription for a pubkey exists exactly while its subscriber set
// is non-empty. Both maps are only changed for a pubkey from inside that
// pubkey's Compute on subscribers, which keeps them in step per key.
type Bridge struct {
	peerID string
	sender Sender
	relay  RelayClient
	log    *slog.Logger
	now    func() time.Time

	relaySubs   *xsync.Map[string, string]              // pubkey -> relay subscription id
	subscribers *xsync.Map[string, map[string]struct{}] // pubkey -> peer ids, copy-on-write
	published   *dedup.Set
}

// NewBridge creates a bridge.
func NewBridge(cfg BridgeConfig) *Bridge {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Bridge{
		peerID:      cfg.PeerID,
		sender:      cfg.Sender,
		relay:       cfg.Relay,
		log:         log.With("component", "proxy-bridge"),
		now:         now,
		relaySubs:   xsync.NewMap[string, string](),
		subscribers: xsync.NewMap[string, map[string]struct{}](),
		published:   dedup.New(cfg.DedupCapacity),
	}
}

// HandlePacket processes a proxy packet received from a device.
func (b *Bridge) HandlePacket(pkt *proto.Packet) {
	if pkt == nil || pkt.Type != proto.PacketTypeNostrRelay {
		return
	}
	msg, err := proto.Decode(pkt.Payload)
	if err != nil {
		b.log.Debug("drop undecodable packet", "peer", pkt.SenderID, "err", err)
		return
	}
	switch m := msg.(type) {
	case proto.Publish:
		b.handlePublish(pkt.SenderID, m.EventJSON)
	case proto.Subscribe:
		b.handleSubscribe(pkt.SenderID, m.Pubkeys, m.Geohash)
	case proto.Unsubscribe:
		b.handleUnsubscribe(pkt.SenderID, m.Pubkeys)
	case proto.Event:
		b.log.Warn("ignore event sent by a peer; events only flow bridge to device", "peer", pkt.SenderID)
	}
}

func (b *Bridge) handlePublish(peer, eventJSON string) {
	var evt nostr.Event
	if err := json.Unmarshal([]byte(eventJSON), &evt); err != nil {
		b.log.Warn("publish: unparseable event", "peer", peer, "err", err)
		return
	}
	if evt.ID == "" || evt.Sig == "" {
		b.log.Warn("publish: event missing id or signature", "peer", peer)
		return
	}
	if !b.published.Add(evt.ID) {
		b.log.Debug("publish: already forwarded", "peer", peer, "id", evt.ID)
		return
	}
	b.relay.RegisterPendingGiftWrap(evt.ID)
	b.relay.SendEvent(&evt)
	b.log.Info("publish: forwarded to relays", "peer", peer, "id", evt.ID, "kind", evt.Kind)
}

func (b *Bridge) handleSubscribe(peer string, pubkeys []string, geohash string) {
	for _, pk := range pubkeys {
		b.subscribers.Compute(pk, func(peers map[string]struct{}, loaded bool) (map[string]struct{}, xsync.ComputeOp) {
			if _, ok := b.relaySubs.Load(pk); !ok {
				b.openRelaySubscription(pk)
			}
			if _, ok := peers[peer]; ok {
				return peers, xsync.CancelOp
			}
			next := make(map[string]struct{}, len(peers)+1)
			for p := range peers {
				next[p] = struct{}{}
			}
			next[peer] = struct{}{}
			return next, xsync.UpdateOp
		})
		b.log.Info("subscribe", "peer", peer, "pubkey", pk, "geohash", geohash)
	}
}

// openRelaySubscription registers pubkey before asking the relay so that
// stored events delivered while Subscribe is still running are forwarded.
func (b *Bridge) openRelaySubscription(pubkey string) {
	filter := GiftWrapFilter(pubkey, b.now())
	b.relaySubs.Store(pubkey, SubscriptionID(pubkey))
	id := b.relay.Subscribe(filter, SubscriptionID(pubkey), func(evt *nostr.Event) {
		b.forwardEvent(pubkey, evt)
	})
	b.relaySubs.Store(pubkey, id)
	b.log.Debug("opened relay subscription", "pubkey", pubkey, "sub", id)
}

// handleUnsubscribe drops every peer's interest in pubkeys, not only the
// requesting peer's.
func (b *Bridge) handleUnsubscribe(peer string, pubkeys []string) {
	for _, pk := range pubkeys {
		b.subscribers.Compute(pk, func(map[string]struct{}, bool) (map[string]struct{}, xsync.ComputeOp) {
			b.closeRelaySubscription(pk)
			return nil, xsync.DeleteOp
		})
		b.log.Info("unsubscribe", "peer", peer, "pubkey", pk)
	}
}

// PeerDisconnected removes peer from every subscriber set and closes the
// relay subscriptions nobody is left listening on.
func (b *Bridge) PeerDisconnected(peer string) {
	var keys []string
	b.subscribers.Range(func(pk string, peers map[string]struct{}) bool {
		if _, ok := peers[peer]; ok {
			keys = append(keys, pk)
		}
		return true
	})
	for _, pk := range keys {
		b.subscribers.Compute(pk, func(peers map[string]struct{}, loaded bool) (map[string]struct{}, xsync.ComputeOp) {
			if _, ok := peers[peer]; !loaded || !ok {
				return peers, xsync.CancelOp
			}
			if len(peers) == 1 {
				b.closeRelaySubscription(pk)
				return nil, xsync.DeleteOp
			}
			next := make(map[string]struct{}, len(peers)-1)
			for p := range peers {
				if p != peer {
					next[p] = struct{}{}
				}
			}
			return next, xsync.UpdateOp
		})
	}
	if len(keys) > 0 {
		b.log.Info("peer disconnected", "peer", peer, "pubkeys", len(keys))
	}
}

// closeRelaySubscription removes the bookkeeping entry for pubkey even when
// the relay client fails to close the remote subscription.
func (b *Bridge) closeRelaySubscription(pubkey string) {
	id, ok := b.relaySubs.LoadAndDelete(pubkey)
	if !ok {
		return
	}
	if err := b.relay.Unsubscribe(id); err != nil {
		b.log.Warn("close relay subscription", "pubkey", pubkey, "sub", id, "err", err)
		return
	}
	b.log.Debug("closed relay subscription", "pubkey", pubkey, "sub", id)
}

func (b *Bridge) forwardEvent(pubkey string, evt *nostr.Event) {
	if _, ok := b.relaySubs.Load(pubkey); !ok {
		return
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		b.log.Warn("forward: serialize event", "id", evt.ID, "err", err)
		return
	}
	payload, err := proto.Encode(proto.Event{EventJSON: string(raw)})
	if err != nil {
		b.log.Warn("forward: encode event", "id", evt.ID, "err", err)
		return
	}
	if err := b.sender.SendPacket(proto.NewProxyPacket(b.peerID, payload)); err != nil {
		b.log.Warn("forward: broadcast event", "id", evt.ID, "err", err)
		return
	}
	b.log.Debug("forwarded relay event", "pubkey", pubkey, "id", evt.ID)
}

// Shutdown closes every relay subscription and forgets all state. Relay
// failures are logged only. Subscriptions opened while Shutdown runs are
// closed too.
func (b *Bridge) Shutdown() {
	closed := 0
	for {
		var keys []string
		b.subscribers.Range(func(pk string, _ map[string]struct{}) bool {
			keys = append(keys, pk)
			return true
		})
		if len(keys) == 0 {
			break
		}
		for _, pk := range keys {
			b.subscribers.Compute(pk, func(map[string]struct{}, bool) (map[string]struct{}, xsync.ComputeOp) {
				b.closeRelaySubscription(pk)
				return nil, xsync.DeleteOp
			})
		}
		closed += len(keys)
	}
	b.published.Clear()
	b.log.Info("bridge shut down", "subscriptions", closed)
}

// ActiveSubscriptions returns the number of open relay subscriptions.
func (b *Bridge) ActiveSubscriptions() int {
	return b.relaySubs.Size()
}

// Subscribers returns the sorted peer ids interested in pubkey.
func (b *Bridge) Subscribers(pubkey string) []string {
	peers, ok := b.subscribers.Load(pubkey)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(peers))
	for p := range peers {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

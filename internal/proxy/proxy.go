// Package proxy lets BLE-only devices publish to and subscribe on the
// Nostr relay network through a neighbouring bridge.
//
// A Client runs on the device and turns publish/subscribe calls into proxy
// packets addressed to the bridge. A Bridge runs on a device with relay
// access: it replays those requests against a RelayClient, shares one relay
// subscription per pubkey among every interested peer, and sends matching
// relay events back over the mesh. Neither side interprets event contents
// beyond the id and signature presence checks needed for deduplication.
//
// No exported operation returns an error. Malformed packets, unparseable
// events and relay failures are logged and dropped.
package proxy

import (
	"github.com/nbd-wtf/go-nostr"

	"github.com/SWAI-Ltd/meshproxy/internal/proto"
)

// Sender hands packets to the mesh. On a device it reaches the bridge; on a
// bridge it reaches every directly connected device.
type Sender interface {
	SendPacket(pkt *proto.Packet) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(pkt *proto.Packet) error

func (f SenderFunc) SendPacket(pkt *proto.Packet) error { return f(pkt) }

// RelayClient is the bridge's view of the relay network.
type RelayClient interface {
	// SendEvent publishes evt on a best-effort basis.
	SendEvent(evt *nostr.Event)
	// Subscribe opens a subscription and returns its id. onEvent is called
	// for every matching event, from the client's own goroutines.
	Subscribe(filter nostr.Filter, id string, onEvent func(*nostr.Event)) string
	// Unsubscribe closes the subscription with the given id.
	Unsubscribe(id string) error
	// RegisterPendingGiftWrap is called before SendEvent so the client can
	// correlate later deliveries of the same event.
	RegisterPendingGiftWrap(eventID string)
}

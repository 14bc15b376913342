package proxy

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"

	"github.com/SWAI-Ltd/meshproxy/internal/proto"
)

var (
	pubkeyA = strings.Repeat("aa", 32)
	pubkeyB = strings.Repeat("bb", 32)
	pubkeyC = strings.Repeat("cc", 32)
)

type fakeSub struct {
	filter  nostr.Filter
	onEvent func(*nostr.Event)
}

// fakeRelay records every call the bridge makes on the relay network.
type fakeRelay struct {
	mu              sync.Mutex
	subs            map[string]fakeSub
	opened          []string
	closed          []string
	sent            []*nostr.Event
	pending         []string
	failUnsubscribe bool
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{subs: make(map[string]fakeSub)}
}

func (f *fakeRelay) SendEvent(evt *nostr.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, evt)
}

func (f *fakeRelay) Subscribe(filter nostr.Filter, id string, onEvent func(*nostr.Event)) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[id] = fakeSub{filter: filter, onEvent: onEvent}
	f.opened = append(f.opened, id)
	return id
}

func (f *fakeRelay) Unsubscribe(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, id)
	delete(f.subs, id)
	if f.failUnsubscribe {
		return errors.New("relay unreachable")
	}
	return nil
}

func (f *fakeRelay) RegisterPendingGiftWrap(eventID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, eventID)
}

// deliver hands evt to every open subscription whose #p filter names pubkey
// and returns how many matched.
func (f *fakeRelay) deliver(pubkey string, evt *nostr.Event) int {
	f.mu.Lock()
	var targets []func(*nostr.Event)
	for _, s := range f.subs {
		if slices.Contains(s.filter.Tags["p"], pubkey) {
			targets = append(targets, s.onEvent)
		}
	}
	f.mu.Unlock()
	for _, fn := range targets {
		fn(evt)
	}
	return len(targets)
}

func (f *fakeRelay) counts() (opened, closed, sent int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened), len(f.closed), len(f.sent)
}

// recorder is a Sender that keeps every packet.
type recorder struct {
	mu      sync.Mutex
	packets []*proto.Packet
	err     error
}

func (r *recorder) SendPacket(pkt *proto.Packet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.packets = append(r.packets, pkt)
	return nil
}

func (r *recorder) all() []*proto.Packet {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.packets)
}

func (r *recorder) last(t *testing.T) *proto.Packet {
	t.Helper()
	pkts := r.all()
	if len(pkts) == 0 {
		t.Fatal("no packet sent")
	}
	return pkts[len(pkts)-1]
}

func giftWrap(id, recipient string) *nostr.Event {
	return &nostr.Event{
		ID:        id,
		PubKey:    strings.Repeat("0e", 32),
		CreatedAt: nostr.Timestamp(1700000000),
		Kind:      nostr.KindGiftWrap,
		Tags:      nostr.Tags{{"p", recipient}},
		Content:   "ciphertext",
		Sig:       strings.Repeat("5a", 64),
	}
}

func packetFrom(t *testing.T, peer string, m proto.Message) *proto.Packet {
	t.Helper()
	payload, err := proto.Encode(m)
	if err != nil {
		t.Fatalf("encode %s: %v", m.Type(), err)
	}
	return proto.NewProxyPacket(peer, payload)
}

func (f *fakeRelay) callback(id string) func(*nostr.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[id].onEvent
}

// eagerRelay hands a stored event to onEvent before Subscribe returns, the
// way a relay replaying its backlog can beat the subscription bookkeeping.
type eagerRelay struct {
	*fakeRelay
	stored *nostr.Event
}

func (r *eagerRelay) Subscribe(filter nostr.Filter, id string, onEvent func(*nostr.Event)) string {
	onEvent(r.stored)
	return r.fakeRelay.Subscribe(filter, id, onEvent)
}

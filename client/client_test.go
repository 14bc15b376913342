package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/SWAI-Ltd/meshproxy/internal/mesh"
	"github.com/SWAI-Ltd/meshproxy/internal/proto"
	"github.com/SWAI-Ltd/meshproxy/internal/proxy"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type stubRelay struct {
	mu   sync.Mutex
	subs map[string]func(*nostr.Event)
	sent []string
}

func (r *stubRelay) SendEvent(evt *nostr.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, evt.ID)
}

func (r *stubRelay) Subscribe(_ nostr.Filter, id string, onEvent func(*nostr.Event)) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[id] = onEvent
	return id
}

func (r *stubRelay) Unsubscribe(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
	return nil
}

func (r *stubRelay) RegisterPendingGiftWrap(string) {}

func (r *stubRelay) sub(id string) func(*nostr.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.subs[id]
}

func (r *stubRelay) published() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClientOverLink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	relay := &stubRelay{subs: make(map[string]func(*nostr.Event))}
	var srv *mesh.LinkServer
	bridge := proxy.NewBridge(proxy.BridgeConfig{
		PeerID: "bbbbbbbbbbbbbbbb",
		Sender: proxy.SenderFunc(func(p *proto.Packet) error { return srv.SendPacket(p) }),
		Relay:  relay,
		Logger: quietLogger,
	})
	srv, err := mesh.ListenLink(ctx, mesh.LinkServerConfig{
		Addr:         "127.0.0.1:0",
		OnPacket:     bridge.HandlePacket,
		OnDisconnect: bridge.PeerDisconnected,
		Logger:       quietLogger,
	})
	if err != nil {
		t.Fatalf("ListenLink: %v", err)
	}
	defer srv.Close()

	c, err := New(ctx, Config{BridgeAddr: srv.Addr(), EventBuffer: 4, Logger: quietLogger})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if len(c.NodeID()) != 16 {
		t.Fatalf("derived node id %q", c.NodeID())
	}
	waitFor(t, "device to link", func() bool { return len(srv.Peers()) == 1 })

	pubkey := strings.Repeat("aa", 32)
	if err := c.Subscribe([]string{pubkey}, ""); err != nil {
		t.Fatal(err)
	}
	subID := proxy.SubscriptionID(pubkey)
	waitFor(t, "relay subscription", func() bool { return relay.sub(subID) != nil })

	evt := &nostr.Event{
		ID:      "e1",
		Kind:    nostr.KindGiftWrap,
		Tags:    nostr.Tags{{"p", pubkey}},
		Content: "opaque",
		Sig:     strings.Repeat("5a", 64),
	}
	relay.sub(subID)(evt)
	relay.sub(subID)(evt)

	select {
	case raw := <-c.Events():
		var got nostr.Event
		if err := json.Unmarshal([]byte(raw), &got); err != nil || got.ID != "e1" {
			t.Fatalf("unexpected event %q (%v)", raw, err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no event delivered")
	}
	select {
	case raw := <-c.Events():
		t.Fatalf("duplicate delivered: %q", raw)
	case <-time.After(200 * time.Millisecond):
	}

	if err := c.Publish(&nostr.Event{ID: "e2", Kind: nostr.KindGiftWrap, Sig: "sig"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "publish to reach relay", func() bool { return slices.Equal(relay.published(), []string{"e2"}) })

	if err := c.Close(); err != nil {
		t.Logf("close: %v", err)
	}
	waitFor(t, "subscription teardown on disconnect", func() bool { return bridge.ActiveSubscriptions() == 0 })

	if err := c.Publish(evt); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish after Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, ok := <-c.Events(); ok {
		t.Fatal("Events channel still open")
	}
}

package nostrrelay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/SWAI-Ltd/meshproxy/internal/proxy"
)

var _ proxy.RelayClient = (*Client)(nil)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(context.Background(), Config{
		Relays: []string{" relay.example.com ", "", "wss://nos.example.org/"},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestNewRequiresRelays(t *testing.T) {
	_, err := New(context.Background(), Config{Relays: []string{"", "  "}})
	if !errors.Is(err, ErrNoRelays) {
		t.Fatalf("err = %v, want ErrNoRelays", err)
	}
}

func TestNewNormalizesRelayURLs(t *testing.T) {
	c := newTestClient(t)
	if len(c.relays) != 2 {
		t.Fatalf("relays = %v", c.relays)
	}
	if c.relays[0] != "wss://relay.example.com" {
		t.Fatalf("relays[0] = %q", c.relays[0])
	}
	if c.publishTimeout != DefaultPublishTimeout {
		t.Fatalf("publishTimeout = %v", c.publishTimeout)
	}
}

func TestUnsubscribeUnknown(t *testing.T) {
	c := newTestClient(t)
	if err := c.Unsubscribe("meshproxy-missing"); err == nil {
		t.Fatal("expected error for unknown subscription")
	}
}

func TestPendingGiftWraps(t *testing.T) {
	c := newTestClient(t)
	c.RegisterPendingGiftWrap("e1")
	c.RegisterPendingGiftWrap("e1")
	if !c.pending.Contains("e1") || c.pending.Len() != 1 {
		t.Fatal("pending gift wrap not recorded once")
	}
}

func TestSendAfterClose(t *testing.T) {
	c := newTestClient(t)
	c.Close()
	c.SendEvent(nil)
	if got := c.Stats(); got.PublishAttempts != 0 || got.Subscriptions != 0 {
		t.Fatalf("stats = %+v", got)
	}
}

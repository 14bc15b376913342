// Package nostrrelay talks to the Nostr relay network on behalf of a
// bridge. It publishes to and subscribes on a fixed set of relays through a
// go-nostr SimplePool.
package nostrrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/SWAI-Ltd/meshproxy/internal/dedup"
)

// DefaultPublishTimeout bounds one publish attempt against one relay.
const DefaultPublishTimeout = 7 * time.Second

// ErrNoRelays is returned by New when no relay URL is configured.
var ErrNoRelays = errors.New("nostrrelay: no relays configured")

// Config for New
type Config struct {
	Relays         []string
	PublishTimeout time.Duration
	Logger         *slog.Logger
}

// Stats holds runtime counters.
type Stats struct {
	PublishAttempts  int64
	PublishSuccesses int64
	PublishFailures  int64
	EventsReceived   int64
	Subscriptions    int
}

// Client implements the bridge's relay-network collaborator.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc
	pool   *nostr.SimplePool
	relays []string
	log    *slog.Logger

	publishTimeout time.Duration
	subs           *xsync.Map[string, context.CancelFunc]
	pending        *dedup.Set
	seq            atomic.Uint64
	wg             sync.WaitGroup

	publishAttempts  atomic.Int64
	publishSuccesses atomic.Int64
	publishFailures  atomic.Int64
	eventsReceived   atomic.Int64
}

// New creates a client for the given relays. Connections are opened lazily.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var relays []string
	for _, u := range cfg.Relays {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		relays = append(relays, nostr.NormalizeURL(u))
	}
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Client{
		ctx:            ctx,
		cancel:         cancel,
		pool:           nostr.NewSimplePool(ctx, nostr.WithPenaltyBox()),
		relays:         relays,
		log:            log.With("component", "nostr-relay"),
		publishTimeout: timeout,
		subs:           xsync.NewMap[string, context.CancelFunc](),
		pending:        dedup.New(0),
	}, nil
}

// SendEvent publishes evt to every relay in the background.
func (c *Client) SendEvent(evt *nostr.Event) {
	if evt == nil || c.ctx.Err() != nil {
		return
	}
	for _, url := range c.relays {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.publishTo(url, *evt)
		}()
	}
}

func (c *Client) publishTo(url string, evt nostr.Event) {
	ctx, cancel := context.WithTimeout(c.ctx, c.publishTimeout)
	defer cancel()
	c.publishAttempts.Add(1)
	relay, err := c.pool.EnsureRelay(url)
	if err == nil {
		err = relay.Publish(ctx, evt)
	}
	if err != nil {
		c.publishFailures.Add(1)
		c.log.Warn("publish failed", "relay", url, "id", evt.ID, "err", err)
		return
	}
	c.publishSuccesses.Add(1)
	c.log.Debug("published", "relay", url, "id", evt.ID)
}

// Subscribe streams events matching filter from every relay to onEvent
// until Unsubscribe is called. The returned id is hint unless hint is
// already in use.
func (c *Client) Subscribe(filter nostr.Filter, hint string, onEvent func(*nostr.Event)) string {
	ctx, cancel := context.WithCancel(c.ctx)
	id := hint
	for {
		if _, loaded := c.subs.LoadOrStore(id, cancel); !loaded {
			break
		}
		id = hint + "-" + strconv.FormatUint(c.seq.Add(1), 10)
	}
	events := c.pool.SubscribeMany(ctx, c.relays, filter, nostr.WithLabel(id))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for ie := range events {
			if ie.Event == nil {
				continue
			}
			c.eventsReceived.Add(1)
			if c.pending.Contains(ie.Event.ID) {
				c.log.Debug("own gift wrap echoed by relay", "sub", id, "id", ie.Event.ID)
			}
			onEvent(ie.Event)
		}
	}()
	c.log.Debug("subscribed", "sub", id, "relays", len(c.relays))
	return id
}

// Unsubscribe closes the subscription with the given id.
func (c *Client) Unsubscribe(id string) error {
	cancel, ok := c.subs.LoadAndDelete(id)
	if !ok {
		return fmt.Errorf("nostrrelay: unknown subscription %q", id)
	}
	cancel()
	return nil
}

// RegisterPendingGiftWrap remembers an event id about to be published so an
// echo of it on a subscription can be recognised.
func (c *Client) RegisterPendingGiftWrap(eventID string) {
	c.pending.Add(eventID)
}

// Stats returns a snapshot of the counters.
func (c *Client) Stats() Stats {
	return Stats{
		PublishAttempts:  c.publishAttempts.Load(),
		PublishSuccesses: c.publishSuccesses.Load(),
		PublishFailures:  c.publishFailures.Load(),
		EventsReceived:   c.eventsReceived.Load(),
		Subscriptions:    c.subs.Size(),
	}
}

// Close cancels every subscription and in-flight publish and waits for
// their goroutines.
func (c *Client) Close() error {
	c.subs.Range(func(id string, cancel context.CancelFunc) bool {
		cancel()
		return true
	})
	c.subs.Clear()
	c.cancel()
	c.wg.Wait()
	return nil
}

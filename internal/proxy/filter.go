package proxy

import (
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// LookbackWindow is how far back a new relay subscription reaches.
const LookbackWindow = 48 * time.Hour

const subscriptionPrefix = "meshproxy-"

// GiftWrapFilter selects gift-wrapped events addressed to pubkey that were
// created within LookbackWindow of now.
func GiftWrapFilter(pubkey string, now time.Time) nostr.Filter {
	since := nostr.Timestamp(now.Add(-LookbackWindow).Unix())
	return nostr.Filter{
		Kinds: []int{nostr.KindGiftWrap},
		Tags:  nostr.TagMap{"p": []string{pubkey}},
		Since: &since,
	}
}

// SubscriptionID derives the relay subscription id used for pubkey. The
// same pubkey always maps to the same id.
func SubscriptionID(pubkey string) string {
	if len(pubkey) > 16 {
		pubkey = pubkey[:16]
	}
	return subscriptionPrefix + pubkey
}

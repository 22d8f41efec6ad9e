package relaypool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Profile is the subset of kind-0 profile metadata the payment flow needs.
type Profile struct {
	Name      string `json:"name"`
	Lud16     string `json:"lud16"`
	Lud06     string `json:"lud06"`
	CreatedAt nostr.Timestamp
}

// LightningAddress returns the profile's payment pointer, lud16 before
// lud06, or empty when the profile has neither.
func (p *Profile) LightningAddress() string {
	if p.Lud16 != "" {
		return p.Lud16
	}
	return p.Lud06
}

// FetchProfile fetches the most recent kind-0 metadata event for a pubkey
// across all connected relays. Relays can serve stale profiles, so events
// are compared by created_at and the newest one wins.
func (p *Pool) FetchProfile(ctx context.Context, pubkey string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var newest *nostr.Event
	for _, relay := range p.snapshot() {
		events, err := relay.QuerySync(ctx, nostr.Filter{
			Kinds:   []int{0},
			Authors: []string{pubkey},
			Limit:   1,
		})
		if err != nil {
			continue
		}
		for _, evt := range events {
			if evt == nil || evt.PubKey != pubkey {
				continue
			}
			if newest == nil || evt.CreatedAt > newest.CreatedAt {
				newest = evt
			}
		}
	}

	if newest == nil {
		return nil, fmt.Errorf("no profile found for %s", pubkey)
	}

	var profile Profile
	if err := json.Unmarshal([]byte(newest.Content), &profile); err != nil {
		return nil, fmt.Errorf("parsing profile metadata: %w", err)
	}
	profile.CreatedAt = newest.CreatedAt
	return &profile, nil
}

// WatchZapReceipts subscribes to kind-9735 zap receipts addressed to the
// given recipient. The caller must invoke the returned stop function when
// the payment attempt ends.
func (p *Pool) WatchZapReceipts(ctx context.Context, recipientPubkey string) (<-chan *nostr.Event, func(), error) {
	since := nostr.Now()
	return p.Subscribe(ctx, nostr.Filters{{
		Kinds: []int{9735},
		Tags:  nostr.TagMap{"p": []string{recipientPubkey}},
		Since: &since,
	}})
}

package relaypool

import (
	"sync"
	"time"
)

// deduplicator filters duplicate event IDs arriving from multiple relays.
type deduplicator struct {
	ids map[string]time.Time
	mu  sync.Mutex
}

func newDeduplicator() *deduplicator {
	return &deduplicator{ids: make(map[string]time.Time)}
}

// seen reports whether the ID was observed before, marking it otherwise.
func (d *deduplicator) seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.ids[id]; ok {
		return true
	}
	d.ids[id] = time.Now()

	// Subscriptions here are short-lived (one payment attempt), so a
	// simple size bound stands in for TTL cleanup.
	if len(d.ids) > 4096 {
		cutoff := time.Now().Add(-10 * time.Minute)
		for k, at := range d.ids {
			if at.Before(cutoff) {
				delete(d.ids, k)
			}
		}
	}
	return false
}

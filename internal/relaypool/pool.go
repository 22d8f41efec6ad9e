package relaypool

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Pool is an explicitly owned set of relay connections. The application
// root constructs one, passes it to whoever needs relay access, and closes
// it on shutdown. Subscriptions are independent even though connections
// are shared.
type Pool struct {
	urls   []string
	relays []*nostr.Relay
	mu     sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool for the given relay URLs. Nothing connects until
// Connect is called.
func New(urls []string) *Pool {
	return &Pool{urls: urls}
}

// URLs returns the configured relay URLs.
func (p *Pool) URLs() []string {
	out := make([]string, len(p.urls))
	copy(out, p.urls)
	return out
}

// Connect establishes connections to all configured relays. It succeeds
// if at least one relay is reachable.
func (p *Pool) Connect(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	var connected int
	for _, url := range p.urls {
		relay, err := nostr.RelayConnect(p.ctx, url)
		if err != nil {
			log.Printf("relaypool: connect to %s failed: %v", url, err)
			continue
		}

		p.mu.Lock()
		p.relays = append(p.relays, relay)
		p.mu.Unlock()
		connected++
	}

	if connected == 0 {
		return fmt.Errorf("failed to connect to any of %d relays", len(p.urls))
	}

	log.Printf("relaypool: connected to %d/%d relays", connected, len(p.urls))
	return nil
}

func (p *Pool) snapshot() []*nostr.Relay {
	p.mu.RLock()
	defer p.mu.RUnlock()
	relays := make([]*nostr.Relay, len(p.relays))
	copy(relays, p.relays)
	return relays
}

// Publish sends an event to all connected relays. It succeeds if at least
// one relay accepts the event.
func (p *Pool) Publish(ctx context.Context, event *nostr.Event) error {
	var lastErr error
	var published int

	for _, relay := range p.snapshot() {
		if err := relay.Publish(ctx, *event); err != nil {
			lastErr = err
			log.Printf("relaypool: publish to %s failed: %v", relay.URL, err)
			continue
		}
		published++
	}

	if published == 0 {
		return fmt.Errorf("failed to publish to any relay: %w", lastErr)
	}
	return nil
}

// Subscribe opens the given filters on every connected relay and returns a
// deduplicated event stream. The returned stop function unsubscribes
// everywhere; the channel closes once all relay subscriptions have ended.
func (p *Pool) Subscribe(ctx context.Context, filters nostr.Filters) (<-chan *nostr.Event, func(), error) {
	relays := p.snapshot()
	if len(relays) == 0 {
		return nil, nil, fmt.Errorf("no connected relays")
	}

	subCtx, cancel := context.WithCancel(ctx)
	dedup := newDeduplicator()
	out := make(chan *nostr.Event, 64)

	var wg sync.WaitGroup
	var subscribed int

	for _, relay := range relays {
		sub, err := relay.Subscribe(subCtx, filters)
		if err != nil {
			log.Printf("relaypool: subscribe on %s failed: %v", relay.URL, err)
			continue
		}
		subscribed++

		wg.Add(1)
		go func(sub *nostr.Subscription) {
			defer wg.Done()
			defer sub.Unsub()
			for {
				select {
				case <-subCtx.Done():
					return
				case event, ok := <-sub.Events:
					if !ok {
						return
					}
					if event == nil || dedup.seen(event.ID) {
						continue
					}
					select {
					case out <- event:
					case <-subCtx.Done():
						return
					}
				}
			}
		}(sub)
	}

	if subscribed == 0 {
		cancel()
		return nil, nil, fmt.Errorf("failed to subscribe on any relay")
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out, cancel, nil
}

// Close shuts down all relay connections.
func (p *Pool) Close() {
	if p.cancel != nil {
		p.cancel()
	}

	p.mu.Lock()
	for _, relay := range p.relays {
		_ = relay.Close()
	}
	p.relays = nil
	p.mu.Unlock()
}

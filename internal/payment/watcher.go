package payment

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// Status strings that providers report for a settled invoice. Matched
// case-insensitively.
var paidStatuses = map[string]bool{
	"PAID":      true,
	"SETTLED":   true,
	"CONFIRMED": true,
	"COMPLETED": true,
	"SUCCESS":   true,
}

func isPaidStatus(status string) bool {
	return paidStatuses[strings.ToUpper(strings.TrimSpace(status))]
}

type statusDoc struct {
	Status string `json:"status"`
}

// statusWatcher observes a provider's payment-status endpoint for one
// invoice: an HTTP poll loop and an optional WebSocket push channel run
// concurrently, and whichever sees a paid-equivalent status first calls
// notify. The watcher stops when its context is cancelled.
type statusWatcher struct {
	statusURL  string
	socketURL  string
	interval   time.Duration
	httpClient *http.Client
	notify     func(source string)
}

func (w *statusWatcher) run(ctx context.Context) {
	if w.interval <= 0 {
		w.interval = 4 * time.Second
	}
	if w.httpClient == nil {
		w.httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	if w.statusURL != "" {
		go w.poll(ctx)
	}
	if w.socketURL != "" {
		go w.listen(ctx)
	}
}

func (w *statusWatcher) poll(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.checkOnce(ctx) {
				return
			}
		}
	}
}

func (w *statusWatcher) checkOnce(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.statusURL, nil)
	if err != nil {
		return false
	}
	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var doc statusDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return false
	}
	if isPaidStatus(doc.Status) {
		w.notify("poll")
		return true
	}
	return false
}

func (w *statusWatcher) listen(ctx context.Context) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.socketURL, nil)
	if err != nil {
		log.Printf("payment: status socket dial failed: %v", err)
		return
	}

	// Unblock the read loop when the attempt ends.
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()
	defer func() { _ = conn.Close() }()

	for {
		var doc statusDoc
		if err := conn.ReadJSON(&doc); err != nil {
			return
		}
		if isPaidStatus(doc.Status) {
			w.notify("push")
			return
		}
	}
}

package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nostrstack/paykit/internal/lnurl"
	"github.com/nostrstack/paykit/internal/relaypool"
	"github.com/nostrstack/paykit/internal/signer"
	"github.com/nostrstack/paykit/internal/telemetry"
)

// fakeRelaySource serves a canned profile without touching any relay.
type fakeRelaySource struct {
	profile *relaypool.Profile
	urls    []string
}

func (f *fakeRelaySource) URLs() []string { return f.urls }

func (f *fakeRelaySource) FetchProfile(ctx context.Context, pubkey string) (*relaypool.Profile, error) {
	if f.profile == nil {
		return nil, errors.New("no profile")
	}
	return f.profile, nil
}

func (f *fakeRelaySource) WatchZapReceipts(ctx context.Context, recipientPubkey string) (<-chan *nostr.Event, func(), error) {
	return make(chan *nostr.Event), func() {}, nil
}

type fakeChannel struct {
	name     string
	err      error
	preimage string
	calls    int32
}

func (f *fakeChannel) Name() string    { return f.name }
func (f *fakeChannel) Available() bool { return true }

func (f *fakeChannel) Pay(ctx context.Context, invoice string, amountMsat int64) (string, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.preimage, f.err
}

type captureSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (c *captureSink) Record(e telemetry.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) countStage(stage telemetry.Stage) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	for _, e := range c.events {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

func (c *captureSink) has(stage telemetry.Stage, method, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.events {
		if e.Stage == stage && e.Method == method && e.Reason == reason {
			return true
		}
	}
	return false
}

// lnurlFixture is an in-process LNURL-pay provider with a status endpoint.
type lnurlFixture struct {
	server       *httptest.Server
	invoiceHits  int32
	statusHits   int32
	settleAfter  int32 // status polls before reporting SETTLED; <0 = never
	statusString string
}

func newLnurlFixture(t *testing.T, settleAfter int32) *lnurlFixture {
	t.Helper()
	f := &lnurlFixture{settleAfter: settleAfter, statusString: "SETTLED"}

	mux := http.NewServeMux()
	mux.HandleFunc("/lnurlp", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lnurl.PayMetadata{
			Callback:    f.server.URL + "/callback",
			MinSendable: 1000,
			MaxSendable: 1000000,
			Metadata:    `[["text/plain","test"]]`,
			Tag:         "payRequest",
		})
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.invoiceHits, 1)
		json.NewEncoder(w).Encode(lnurl.InvoiceResponse{
			PR:          "lnbc210n1pjkfixture",
			ProviderRef: "ref-1",
		})
	})
	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		hits := atomic.AddInt32(&f.statusHits, 1)
		status := "PENDING"
		if f.settleAfter >= 0 && hits > f.settleAfter {
			status = f.statusString
		}
		fmt.Fprintf(w, `{"status":%q}`, status)
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// lnurlInput returns the fixture's metadata endpoint encoded as a bech32
// lnurl, which the resolver accepts as an explicit override.
func (f *lnurlFixture) lnurlInput(t *testing.T) string {
	t.Helper()
	encoded, err := lnurl.Encode(f.server.URL + "/lnurlp")
	if err != nil {
		t.Fatalf("encoding lnurl: %v", err)
	}
	return encoded
}

func testSigner(t *testing.T) signer.Signer {
	t.Helper()
	s, err := signer.NewKeySigner(nostr.GeneratePrivateKey())
	if err != nil {
		t.Fatalf("creating signer: %v", err)
	}
	return s
}

func testOrchestrator(t *testing.T, f *lnurlFixture, cfg Config) *Orchestrator {
	t.Helper()
	if cfg.Lnurl == nil {
		cfg.Lnurl = lnurl.NewClientWithHTTP(f.server.Client())
	}
	if cfg.Signer == nil {
		cfg.Signer = testSigner(t)
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 20 * time.Millisecond
	}
	if cfg.StatusURLFor == nil {
		cfg.StatusURLFor = func(ref string) string { return f.server.URL + "/status/" + ref }
	}
	return NewOrchestrator(cfg)
}

func TestPay_NotAuthenticated(t *testing.T) {
	f := newLnurlFixture(t, 0)
	o := NewOrchestrator(Config{Lnurl: lnurl.NewClientWithHTTP(f.server.Client())})

	a := o.Pay(context.Background(), Request{Address: f.lnurlInput(t), AmountSats: 21})
	if a.State() != StateError {
		t.Errorf("state = %s, want error", a.State())
	}
	if !strings.Contains(a.Err(), "must be logged in") {
		t.Errorf("err = %q", a.Err())
	}
	if atomic.LoadInt32(&f.invoiceHits) != 0 {
		t.Error("no invoice should be requested without a signer")
	}
}

func TestPay_NoLightningAddress(t *testing.T) {
	f := newLnurlFixture(t, 0)
	o := testOrchestrator(t, f, Config{})

	a := o.Pay(context.Background(), Request{AmountSats: 21})
	if a.State() != StateError {
		t.Errorf("state = %s, want error", a.State())
	}
	if !strings.Contains(a.Err(), "no Lightning address") {
		t.Errorf("err = %q", a.Err())
	}
}

func TestPay_AmountOutOfRange(t *testing.T) {
	f := newLnurlFixture(t, 0)
	o := testOrchestrator(t, f, Config{})

	// 2000 sats is 2,000,000 msat, above the 1,000,000 msat cap.
	a := o.Pay(context.Background(), Request{Address: f.lnurlInput(t), AmountSats: 2000})
	if a.State() != StateError {
		t.Fatalf("state = %s, want error", a.State())
	}
	if !strings.Contains(a.Err(), "between 1 and 1000 sats") {
		t.Errorf("range message should be surfaced verbatim, got %q", a.Err())
	}
	if atomic.LoadInt32(&f.invoiceHits) != 0 {
		t.Error("invoice must not be requested for an out-of-range amount")
	}
}

func TestPay_InRangeAmountReachesInvoiceRequest(t *testing.T) {
	f := newLnurlFixture(t, 0)
	sink := &captureSink{}
	ch := &fakeChannel{name: "wallet", preimage: "00ff"}
	o := testOrchestrator(t, f, Config{
		Channels:  []WalletChannel{ch},
		Telemetry: telemetry.NewEmitter(sink),
	})

	a := o.Pay(context.Background(), Request{Address: f.lnurlInput(t), AmountSats: 21})
	if a.State() != StatePaid {
		t.Fatalf("state = %s, want paid (err=%q)", a.State(), a.Err())
	}
	if atomic.LoadInt32(&f.invoiceHits) != 1 {
		t.Errorf("invoice hits = %d, want 1", f.invoiceHits)
	}
	if a.Method() != "wallet" || a.Preimage() != "00ff" {
		t.Errorf("method=%s preimage=%s", a.Method(), a.Preimage())
	}
	if !sink.has(telemetry.StageInvoiceRequested, "", "") || !sink.has(telemetry.StageInvoiceReady, "", "") {
		t.Error("invoice stages should be emitted")
	}
	if !sink.has(telemetry.StagePaymentSent, "wallet", "") {
		t.Error("payment_sent should carry the settling channel")
	}
}

func TestPay_ChannelFailureFallsThrough(t *testing.T) {
	f := newLnurlFixture(t, 0)
	sink := &captureSink{}
	failing := &fakeChannel{name: "nwc", err: errors.New("wallet balance is too low")}
	working := &fakeChannel{name: "regtest", preimage: "aa"}
	o := testOrchestrator(t, f, Config{
		Channels:  []WalletChannel{failing, working},
		Telemetry: telemetry.NewEmitter(sink),
	})

	a := o.Pay(context.Background(), Request{Address: f.lnurlInput(t), AmountSats: 21})
	if a.State() != StatePaid {
		t.Fatalf("state = %s, want paid (err=%q)", a.State(), a.Err())
	}
	if a.Method() != "regtest" {
		t.Errorf("method = %s, want regtest", a.Method())
	}
	if atomic.LoadInt32(&failing.calls) != 1 || atomic.LoadInt32(&working.calls) != 1 {
		t.Errorf("calls = %d/%d, want 1/1", failing.calls, working.calls)
	}
	if !sink.has(telemetry.StagePaymentFailed, "nwc", "wallet balance is too low") {
		t.Error("failed channel should be recorded")
	}
	if sink.countStage(telemetry.StagePaymentSent) != 1 {
		t.Errorf("payment_sent count = %d, want 1", sink.countStage(telemetry.StagePaymentSent))
	}
}

func TestPay_ManualPollSettlesExactlyOnce(t *testing.T) {
	f := newLnurlFixture(t, 2) // two PENDING polls, then SETTLED
	sink := &captureSink{}
	o := testOrchestrator(t, f, Config{Telemetry: telemetry.NewEmitter(sink)})

	a := o.Pay(context.Background(), Request{Address: f.lnurlInput(t), AmountSats: 21})
	if a.State() != StateWaitingPayment {
		t.Fatalf("state = %s, want waiting_payment (err=%q)", a.State(), a.Err())
	}
	if a.ProviderRef() != "ref-1" {
		t.Errorf("ProviderRef() = %q, want ref-1", a.ProviderRef())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if got := a.Wait(ctx); got != StatePaid {
		t.Fatalf("Wait = %s, want paid", got)
	}
	if a.Method() != "manual" {
		t.Errorf("method = %s, want manual", a.Method())
	}

	// A push notification arriving after the poll already settled is a
	// no-op: the state is terminal and telemetry stays single.
	a.settle("manual", "")
	if sink.countStage(telemetry.StagePaymentSent) != 1 {
		t.Errorf("payment_sent count = %d, want 1", sink.countStage(telemetry.StagePaymentSent))
	}
	a.Close()
}

func TestPay_CloseStopsAllPolling(t *testing.T) {
	f := newLnurlFixture(t, -1) // never settles
	sink := &captureSink{}
	o := testOrchestrator(t, f, Config{Telemetry: telemetry.NewEmitter(sink)})

	a := o.Pay(context.Background(), Request{Address: f.lnurlInput(t), AmountSats: 21})
	if a.State() != StateWaitingPayment {
		t.Fatalf("state = %s, want waiting_payment (err=%q)", a.State(), a.Err())
	}

	// Let a few polls happen, then dismiss.
	time.Sleep(70 * time.Millisecond)
	a.Close()

	if a.State() != StateIdle {
		t.Errorf("state after close = %s, want idle", a.State())
	}
	if a.Invoice() != "" {
		t.Error("invoice should be cleared on close")
	}
	if !sink.has(telemetry.StagePaymentFailed, "manual", "manual") {
		t.Error("close while waiting should emit payment_failed{manual,manual}")
	}

	hitsAtClose := atomic.LoadInt32(&f.statusHits)
	time.Sleep(120 * time.Millisecond)
	if hits := atomic.LoadInt32(&f.statusHits); hits > hitsAtClose+1 {
		t.Errorf("polling continued after close: %d -> %d", hitsAtClose, hits)
	}

	// Late settlement observations must not resurrect a dismissed attempt.
	a.settle("manual", "")
	if a.State() != StateIdle {
		t.Errorf("state = %s after late settle, want idle", a.State())
	}
}

func TestPay_TimeoutKeepsInvoiceVisible(t *testing.T) {
	f := newLnurlFixture(t, -1)
	sink := &captureSink{}
	o := testOrchestrator(t, f, Config{
		Telemetry:     telemetry.NewEmitter(sink),
		SettleTimeout: 60 * time.Millisecond,
	})

	a := o.Pay(context.Background(), Request{Address: f.lnurlInput(t), AmountSats: 21})
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if got := a.Wait(ctx); got != StateTimedOut {
		t.Fatalf("Wait = %s, want timed_out", got)
	}

	// The invoice stays payable: only automatic detection gave up.
	if a.Invoice() == "" {
		t.Error("invoice should remain visible after timeout")
	}
	if !sink.has(telemetry.StagePaymentFailed, "manual", "timeout") {
		t.Error("timeout should be recorded")
	}

	// A settlement observed after the timeout still wins.
	a.settle("manual", "")
	if a.State() != StatePaid {
		t.Errorf("state = %s, want paid after late settle", a.State())
	}
}

func TestPay_ZapRequestAttached(t *testing.T) {
	recipientSecret := nostr.GeneratePrivateKey()
	recipient, _ := nostr.GetPublicKey(recipientSecret)

	var nostrParam atomic.Value
	f := &lnurlFixture{settleAfter: 0, statusString: "SETTLED"}
	mux := http.NewServeMux()
	mux.HandleFunc("/lnurlp", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(lnurl.PayMetadata{
			Callback:    f.server.URL + "/callback",
			MinSendable: 1000,
			MaxSendable: 1000000,
			Metadata:    `[["text/plain","test"]]`,
			Tag:         "payRequest",
			AllowsNostr: true,
		})
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		nostrParam.Store(r.URL.Query().Get("nostr"))
		json.NewEncoder(w).Encode(lnurl.InvoiceResponse{PR: "lnbc210n1pjkfixture"})
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	ch := &fakeChannel{name: "wallet"}
	o := testOrchestrator(t, f, Config{
		Channels: []WalletChannel{ch},
		Relays:   []string{"wss://relay.example.com"},
	})

	a := o.Pay(context.Background(), Request{
		Address:         f.lnurlInput(t),
		RecipientPubkey: recipient,
		AmountSats:      21,
		Comment:         "nice",
		Zap:             true,
	})
	if a.State() != StatePaid {
		t.Fatalf("state = %s (err=%q)", a.State(), a.Err())
	}

	raw, _ := nostrParam.Load().(string)
	if raw == "" {
		t.Fatal("callback should receive the nostr param")
	}
	var evt nostr.Event
	if err := json.Unmarshal([]byte(raw), &evt); err != nil {
		t.Fatalf("nostr param is not an event: %v", err)
	}
	if evt.Kind != nostr.KindZapRequest {
		t.Errorf("kind = %d, want %d", evt.Kind, nostr.KindZapRequest)
	}
	if ok, _ := evt.CheckSignature(); !ok {
		t.Error("zap request must be signed")
	}
	if tag := evt.Tags.Find("amount"); len(tag) < 2 || tag[1] != "21000" {
		t.Errorf("amount tag = %v", tag)
	}
	if tag := evt.Tags.Find("p"); len(tag) < 2 || tag[1] != recipient {
		t.Errorf("p tag = %v", tag)
	}
	if evt.Content != "nice" {
		t.Errorf("content = %q", evt.Content)
	}
}

func TestPay_ProfileLud06Resolution(t *testing.T) {
	// A recipient whose kind-0 profile carries only lud06 (a bech32
	// lnurl, not user@domain) must still resolve.
	f := newLnurlFixture(t, 0)
	ch := &fakeChannel{name: "wallet"}
	recipient, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())

	o := testOrchestrator(t, f, Config{
		Channels: []WalletChannel{ch},
		Pool:     &fakeRelaySource{profile: &relaypool.Profile{Lud06: f.lnurlInput(t)}},
	})

	a := o.Pay(context.Background(), Request{RecipientPubkey: recipient, AmountSats: 21})
	if a.State() != StatePaid {
		t.Fatalf("state = %s, want paid (err=%q)", a.State(), a.Err())
	}
	if atomic.LoadInt32(&f.invoiceHits) != 1 {
		t.Errorf("invoice hits = %d, want 1", f.invoiceHits)
	}
}

func TestSplitPointer(t *testing.T) {
	f := newLnurlFixture(t, 0)
	encoded := f.lnurlInput(t)

	tests := []struct {
		name         string
		pointer      string
		wantAddress  string
		wantEndpoint string
	}{
		{"lightning address", "alice@example.com", "alice@example.com", ""},
		{"bech32 lnurl", encoded, "", f.server.URL + "/lnurlp"},
		{"undecodable lnurl", "lnurl1notvalid", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			address, endpoint := splitPointer(tt.pointer)
			if address != tt.wantAddress || endpoint != tt.wantEndpoint {
				t.Errorf("splitPointer(%q) = (%q, %q), want (%q, %q)",
					tt.pointer, address, endpoint, tt.wantAddress, tt.wantEndpoint)
			}
		})
	}
}

func TestIsPaidStatus(t *testing.T) {
	paid := []string{"PAID", "paid", "Settled", "CONFIRMED", "completed", "success", " SETTLED "}
	for _, s := range paid {
		if !isPaidStatus(s) {
			t.Errorf("isPaidStatus(%q) = false, want true", s)
		}
	}
	unpaid := []string{"", "PENDING", "EXPIRED", "FAILED", "paidish"}
	for _, s := range unpaid {
		if isPaidStatus(s) {
			t.Errorf("isPaidStatus(%q) = true, want false", s)
		}
	}
}

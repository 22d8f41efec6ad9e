package payment

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/nostrstack/paykit/internal/lnurl"
	"github.com/nostrstack/paykit/internal/relaypool"
	"github.com/nostrstack/paykit/internal/signer"
	"github.com/nostrstack/paykit/internal/telemetry"
	"github.com/nostrstack/paykit/internal/zap"
)

// DefaultSettleTimeout is how long an invoice is watched before the
// attempt is flagged timed out. The invoice stays visible and payable
// afterwards; only automatic settlement detection gives up.
const DefaultSettleTimeout = 5 * time.Minute

// RelaySource is the relay-facing surface the orchestrator needs: relay
// URLs for zap requests, profile lookup for address resolution, and the
// zap-receipt subscription. *relaypool.Pool implements it.
type RelaySource interface {
	URLs() []string
	FetchProfile(ctx context.Context, pubkey string) (*relaypool.Profile, error)
	WatchZapReceipts(ctx context.Context, recipientPubkey string) (<-chan *nostr.Event, func(), error)
}

// Config wires an Orchestrator. The pool and channels are injected by the
// application root; nothing here reaches for globals.
type Config struct {
	Lnurl     *lnurl.Client
	Signer    signer.Signer
	Pool      RelaySource     // optional, for profile resolution and receipt watching
	Channels  []WalletChannel // tried in order before the manual path
	Telemetry *telemetry.Emitter

	DefaultAddress string   // config-level recipient fallback
	Relays         []string // zap request relays when no pool is attached

	PollInterval  time.Duration
	SettleTimeout time.Duration
	HTTPClient    *http.Client

	// StatusURLFor and SocketURLFor derive the provider's payment-status
	// endpoints from an invoice's provider_ref. Either may be nil.
	StatusURLFor func(providerRef string) string
	SocketURLFor func(providerRef string) string
}

// Request describes one payment to make.
type Request struct {
	Address         string // explicit lightning address or lnurl override
	RecipientPubkey string // zap target, also used for profile resolution
	EventID         string // zapped event, optional
	EventTagAddress string // lud16/lud06 carried on the zapped event, optional
	AmountSats      int64
	Comment         string
	Zap             bool // attach a signed kind-9734 zap request
}

// Orchestrator drives payment attempts end to end.
type Orchestrator struct {
	cfg Config
}

// NewOrchestrator creates an orchestrator, applying defaults.
func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.Lnurl == nil {
		cfg.Lnurl = lnurl.NewClient()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = telemetry.NewEmitter(telemetry.LogSink{})
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Second
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = DefaultSettleTimeout
	}
	return &Orchestrator{cfg: cfg}
}

// Attempt is a single in-flight payment. It owns its state exclusively;
// a new attempt (or an explicit Close) resets everything.
type Attempt struct {
	cfg  *Config
	req  Request
	fsm  *attemptFSM
	tele *telemetry.Emitter

	mu             sync.Mutex
	closed         bool
	errMsg         string
	invoice        string
	providerRef    string
	providerPubkey string
	successAction  *lnurl.SuccessAction
	method         string
	preimage       string

	cancelWatch context.CancelFunc
	timer       *time.Timer
	done        chan struct{}
	doneOnce    sync.Once
}

// State returns the current attempt state.
func (a *Attempt) State() string { return a.fsm.Current() }

// Err returns the failure message, empty unless State is error.
func (a *Attempt) Err() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.errMsg
}

// Invoice returns the bolt11 invoice once available.
func (a *Attempt) Invoice() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.invoice
}

// ProviderRef returns the provider's invoice reference, empty when the
// provider did not send one.
func (a *Attempt) ProviderRef() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.providerRef
}

// SuccessAction returns the sanitized LUD-09 success action, if any.
func (a *Attempt) SuccessAction() *lnurl.SuccessAction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.successAction
}

// Method returns which channel settled the payment.
func (a *Attempt) Method() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.method
}

// Preimage returns the payment preimage when the paying channel provided one.
func (a *Attempt) Preimage() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.preimage
}

// Wait blocks until the attempt reaches paid, error, or timed out, or the
// context ends. It returns the state at that moment.
func (a *Attempt) Wait(ctx context.Context) string {
	select {
	case <-a.done:
	case <-ctx.Done():
	}
	return a.State()
}

// Close dismisses the attempt: all timers, polls, sockets, and
// subscriptions are torn down and local state is cleared, so nothing
// late-arriving can mutate a dismissed attempt.
func (a *Attempt) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	wasWaiting := a.fsm.Current() == StateWaitingPayment
	if a.cancelWatch != nil {
		a.cancelWatch()
	}
	if a.timer != nil {
		a.timer.Stop()
	}
	a.invoice = ""
	a.providerRef = ""
	a.successAction = nil
	a.mu.Unlock()

	if wasWaiting {
		a.tele.Emit(telemetry.StagePaymentFailed, "manual", "manual")
	}
	_ = a.fsm.Event(context.Background(), EventClose)
	a.finish()
}

func (a *Attempt) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

// fail converts any internal error into state + message at the
// orchestrator boundary. Nothing escapes to the caller as a panic or
// unhandled error.
func (a *Attempt) fail(ctx context.Context, method, reason string) *Attempt {
	a.mu.Lock()
	a.errMsg = reason
	a.mu.Unlock()
	_ = a.fsm.Event(ctx, EventFail)
	a.tele.Emit(telemetry.StagePaymentFailed, method, reason)
	a.finish()
	return a
}

// settle moves the attempt to paid. First writer wins: once the state is
// terminal every later settlement observation is a no-op, including
// receipts arriving after a timeout flag (late manual payment).
func (a *Attempt) settle(method, preimage string) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if err := a.fsm.Event(context.Background(), EventSettled); err != nil {
		return // already paid or not yet payable
	}

	a.mu.Lock()
	a.method = method
	a.preimage = preimage
	a.mu.Unlock()

	a.tele.Emit(telemetry.StagePaymentSent, method, "")
	a.finish()
}

func (a *Attempt) timeout() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	if err := a.fsm.Event(context.Background(), EventTimeout); err != nil {
		return
	}
	a.tele.Emit(telemetry.StagePaymentFailed, "manual", "timeout")
	a.finish()
}

// Pay runs one payment attempt. The sequential phase (resolve, metadata,
// sign, invoice, direct channels) happens before Pay returns; when no
// direct channel settles, the attempt is left in waiting_payment with the
// manual watchers running and the caller uses Wait/Close.
func (o *Orchestrator) Pay(ctx context.Context, req Request) *Attempt {
	a := &Attempt{
		cfg:  &o.cfg,
		req:  req,
		fsm:  newAttemptFSM(),
		tele: o.cfg.Telemetry,
		done: make(chan struct{}),
	}
	a.tele.Reset()

	_ = a.fsm.Event(ctx, EventTrigger)

	if o.cfg.Signer == nil {
		return a.fail(ctx, "", signer.ErrNotAuthenticated.Error())
	}

	address, endpoint := o.resolveAddress(ctx, req)
	if address == "" && endpoint == "" {
		return a.fail(ctx, "", "no Lightning address")
	}

	meta, lnurlTag, err := o.fetchMetadata(ctx, address, endpoint)
	if err != nil {
		return a.fail(ctx, "", err.Error())
	}
	a.mu.Lock()
	a.providerPubkey = meta.NostrPubkey
	a.mu.Unlock()

	amountMsat := req.AmountSats * 1000
	if err := meta.CheckAmount(amountMsat); err != nil {
		return a.fail(ctx, "", err.Error())
	}

	_ = a.fsm.Event(ctx, EventMetadataOK)

	zapJSON, err := o.buildZapRequest(ctx, req, amountMsat, lnurlTag)
	if err != nil {
		return a.fail(ctx, "", err.Error())
	}

	a.tele.Emit(telemetry.StageInvoiceRequested, "", "")
	resp, err := o.cfg.Lnurl.RequestInvoice(ctx, meta.Callback, amountMsat, lnurlTag, zapJSON)
	if err != nil {
		return a.fail(ctx, "", err.Error())
	}

	a.mu.Lock()
	a.invoice = resp.PR
	a.providerRef = resp.ProviderRef
	a.successAction = lnurl.SanitizeSuccessAction(resp.SuccessAction)
	a.mu.Unlock()

	_ = a.fsm.Event(ctx, EventInvoiceReceived)
	a.tele.Emit(telemetry.StageInvoiceReady, "", "")

	// The settlement clock starts the moment the invoice exists.
	a.mu.Lock()
	a.timer = time.AfterFunc(o.cfg.SettleTimeout, a.timeout)
	a.mu.Unlock()

	// Direct channels, in priority order. A channel failure is recorded
	// and falls through; it never aborts the attempt.
	for _, ch := range o.cfg.Channels {
		if !ch.Available() {
			continue
		}
		preimage, payErr := ch.Pay(ctx, resp.PR, amountMsat)
		if payErr != nil {
			log.Printf("payment: %s channel failed: %v", ch.Name(), payErr)
			a.tele.Emit(telemetry.StagePaymentFailed, ch.Name(), payErr.Error())
			continue
		}
		a.settle(ch.Name(), preimage)
		return a
	}

	o.startManualWatch(a)
	return a
}

// resolveAddress picks the recipient's payment pointer: explicit override,
// then config default, then the zapped event's lud16/lud06 tag, then the
// newest kind-0 profile. Returns either a lightning address or an already
// decoded endpoint URL (when the pointer was a bech32 lnurl).
func (o *Orchestrator) resolveAddress(ctx context.Context, req Request) (address, endpoint string) {
	candidates := []string{req.Address, o.cfg.DefaultAddress, req.EventTagAddress}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if address, endpoint = splitPointer(c); address != "" || endpoint != "" {
			return address, endpoint
		}
	}

	if req.RecipientPubkey != "" && o.cfg.Pool != nil {
		profile, err := o.cfg.Pool.FetchProfile(ctx, req.RecipientPubkey)
		if err == nil {
			// lud16 is an address; lud06 is a bech32 lnurl. Both go
			// through the same split.
			return splitPointer(profile.LightningAddress())
		}
	}
	return "", ""
}

// splitPointer classifies a payment pointer as a lightning address or an
// lnurl, decoding the latter to its endpoint URL. Undecodable lnurl input
// yields two empty strings.
func splitPointer(pointer string) (address, endpoint string) {
	if strings.HasPrefix(strings.ToLower(pointer), "lnurl1") {
		decoded, err := lnurl.Decode(pointer)
		if err != nil {
			return "", ""
		}
		return "", decoded
	}
	return pointer, ""
}

func (o *Orchestrator) fetchMetadata(ctx context.Context, address, endpoint string) (*lnurl.PayMetadata, string, error) {
	if endpoint != "" {
		meta, err := o.cfg.Lnurl.FetchPayMetadataURL(ctx, endpoint)
		if err != nil {
			return nil, "", err
		}
		tag, _ := lnurl.Encode(endpoint)
		return meta, tag, nil
	}

	addr, err := lnurl.ParseLightningAddress(address)
	if err != nil {
		return nil, "", err
	}
	meta, err := o.cfg.Lnurl.FetchPayMetadataURL(ctx, addr.WellKnownURL())
	if err != nil {
		return nil, "", err
	}
	tag, _ := lnurl.Encode(addr.WellKnownURL())
	return meta, tag, nil
}

func (o *Orchestrator) buildZapRequest(ctx context.Context, req Request, amountMsat int64, lnurlTag string) (string, error) {
	if !req.Zap {
		return "", nil
	}

	relays := o.cfg.Relays
	if o.cfg.Pool != nil {
		relays = o.cfg.Pool.URLs()
	}

	evt, err := zap.BuildRequest(zap.RequestParams{
		RecipientPubkey: req.RecipientPubkey,
		Relays:          relays,
		AmountMsat:      amountMsat,
		Lnurl:           lnurlTag,
		EventID:         req.EventID,
		Content:         req.Comment,
	})
	if err != nil {
		return "", err
	}

	pubkey, err := o.cfg.Signer.PublicKey(ctx)
	if err != nil {
		return "", err
	}
	evt.PubKey = pubkey

	if err := o.cfg.Signer.Sign(ctx, evt); err != nil {
		return "", err
	}

	raw, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// startManualWatch launches the concurrent settlement observers for the
// manual path: the status poll, the push socket, and the zap-receipt
// subscription. Whichever observes settlement first wins.
func (o *Orchestrator) startManualWatch(a *Attempt) {
	watchCtx, cancel := context.WithCancel(context.Background())
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		cancel()
		return
	}
	a.cancelWatch = cancel
	providerRef := a.providerRef
	invoice := a.invoice
	providerPubkey := a.providerPubkey
	a.mu.Unlock()

	var statusURL, socketURL string
	if providerRef != "" {
		if o.cfg.StatusURLFor != nil {
			statusURL = o.cfg.StatusURLFor(providerRef)
		}
		if o.cfg.SocketURLFor != nil {
			socketURL = o.cfg.SocketURLFor(providerRef)
		}
	}

	watcher := &statusWatcher{
		statusURL:  statusURL,
		socketURL:  socketURL,
		interval:   o.cfg.PollInterval,
		httpClient: o.cfg.HTTPClient,
		notify:     func(string) { a.settle("manual", "") },
	}
	watcher.run(watchCtx)

	if a.req.Zap && o.cfg.Pool != nil && a.req.RecipientPubkey != "" {
		events, stop, err := o.cfg.Pool.WatchZapReceipts(watchCtx, a.req.RecipientPubkey)
		if err != nil {
			log.Printf("payment: receipt watch unavailable: %v", err)
			return
		}
		go func() {
			defer stop()
			for {
				select {
				case <-watchCtx.Done():
					return
				case evt, ok := <-events:
					if !ok {
						return
					}
					receipt, verr := zap.ValidateReceipt(evt, providerPubkey)
					if verr != nil || receipt.Bolt11 != invoice {
						continue
					}
					a.settle("manual", "")
					return
				}
			}
		}()
	}
}

package telemetry

import (
	"log"
	"sync"
	"time"
)

// Stage identifies a payment-flow transition worth recording.
type Stage string

const (
	StageInvoiceRequested Stage = "invoice_requested"
	StageInvoiceReady     Stage = "invoice_ready"
	StagePaymentSent      Stage = "payment_sent"
	StagePaymentFailed    Stage = "payment_failed"
)

// Event is a fire-and-forget record of a stage transition.
type Event struct {
	Stage  Stage
	Method string // payment channel: nwc, wallet, manual
	Reason string // failure reason, empty on success stages
	At     time.Time
}

// Sink receives telemetry events. Implementations must not block; the
// emitter calls them inline on the payment path.
type Sink interface {
	Record(Event)
}

// LogSink writes events to the process log.
type LogSink struct{}

func (LogSink) Record(e Event) {
	if e.Reason != "" {
		log.Printf("telemetry: %s method=%s reason=%s", e.Stage, e.Method, e.Reason)
		return
	}
	log.Printf("telemetry: %s method=%s", e.Stage, e.Method)
}

// Emitter broadcasts stage events to its sinks, at most once per distinct
// (stage, method, reason) within one attempt. Retries inside an attempt
// therefore never produce duplicate analytics events.
type Emitter struct {
	sinks []Sink
	seen  map[string]bool
	mu    sync.Mutex
}

// NewEmitter creates an emitter for a single payment attempt.
func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{
		sinks: sinks,
		seen:  make(map[string]bool),
	}
}

// Emit records a stage transition. Duplicate emissions are no-ops.
func (e *Emitter) Emit(stage Stage, method, reason string) {
	key := string(stage) + "|" + method + "|" + reason

	e.mu.Lock()
	if e.seen[key] {
		e.mu.Unlock()
		return
	}
	e.seen[key] = true
	sinks := e.sinks
	e.mu.Unlock()

	evt := Event{Stage: stage, Method: method, Reason: reason, At: time.Now()}
	for _, sink := range sinks {
		sink.Record(evt)
	}
}

// Reset clears the dedup set for a fresh attempt.
func (e *Emitter) Reset() {
	e.mu.Lock()
	e.seen = make(map[string]bool)
	e.mu.Unlock()
}

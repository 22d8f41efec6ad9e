package telemetry

import (
	"sync"
	"testing"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (c *captureSink) Record(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestEmitter_Idempotent(t *testing.T) {
	sink := &captureSink{}
	em := NewEmitter(sink)

	em.Emit(StageInvoiceReady, "manual", "")
	em.Emit(StageInvoiceReady, "manual", "")

	if sink.count() != 1 {
		t.Errorf("events = %d, want 1", sink.count())
	}
}

func TestEmitter_DistinctKeysAllPass(t *testing.T) {
	sink := &captureSink{}
	em := NewEmitter(sink)

	em.Emit(StagePaymentFailed, "nwc", "timeout")
	em.Emit(StagePaymentFailed, "nwc", "insufficient balance")
	em.Emit(StagePaymentFailed, "manual", "timeout")
	em.Emit(StagePaymentSent, "manual", "")

	if sink.count() != 4 {
		t.Errorf("events = %d, want 4", sink.count())
	}
}

func TestEmitter_ResetStartsFreshAttempt(t *testing.T) {
	sink := &captureSink{}
	em := NewEmitter(sink)

	em.Emit(StageInvoiceRequested, "manual", "")
	em.Reset()
	em.Emit(StageInvoiceRequested, "manual", "")

	if sink.count() != 2 {
		t.Errorf("events = %d, want 2 after reset", sink.count())
	}
}

func TestEmitter_FansOutToAllSinks(t *testing.T) {
	a, b := &captureSink{}, &captureSink{}
	em := NewEmitter(a, b)

	em.Emit(StagePaymentSent, "nwc", "")

	if a.count() != 1 || b.count() != 1 {
		t.Errorf("sink counts = %d, %d, want 1, 1", a.count(), b.count())
	}
}

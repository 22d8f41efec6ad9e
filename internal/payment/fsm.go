package payment

import (
	"context"
	"sync"

	"github.com/looplab/fsm"
)

// Attempt states. One payment attempt moves strictly forward through the
// pending states; every failure collapses into StateError with a message.
const (
	StateIdle           = "idle"
	StatePendingLnurl   = "pending_lnurl"
	StatePendingInvoice = "pending_invoice"
	StateWaitingPayment = "waiting_payment"
	StatePaid           = "paid"
	StateError          = "error"
	StateTimedOut       = "timed_out"
)

// Attempt events.
const (
	EventTrigger         = "trigger"
	EventMetadataOK      = "metadata_ok"
	EventInvoiceReceived = "invoice_received"
	EventSettled         = "settled"
	EventFail            = "fail"
	EventTimeout         = "timeout"
	EventClose           = "close"
)

// attemptFSM guards the attempt state transitions. A timed-out attempt can
// still settle: the invoice stays payable and the user may confirm late.
type attemptFSM struct {
	fsm *fsm.FSM
	mu  sync.Mutex
}

func newAttemptFSM() *attemptFSM {
	a := &attemptFSM{}
	a.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventTrigger, Src: []string{StateIdle, StateError, StateTimedOut, StatePaid}, Dst: StatePendingLnurl},
			{Name: EventMetadataOK, Src: []string{StatePendingLnurl}, Dst: StatePendingInvoice},
			{Name: EventInvoiceReceived, Src: []string{StatePendingInvoice}, Dst: StateWaitingPayment},
			{Name: EventSettled, Src: []string{StateWaitingPayment, StateTimedOut}, Dst: StatePaid},
			{Name: EventFail, Src: []string{StatePendingLnurl, StatePendingInvoice, StateWaitingPayment}, Dst: StateError},
			{Name: EventTimeout, Src: []string{StateWaitingPayment}, Dst: StateTimedOut},
			{Name: EventClose, Src: []string{StatePendingLnurl, StatePendingInvoice, StateWaitingPayment, StatePaid, StateError, StateTimedOut}, Dst: StateIdle},
		},
		fsm.Callbacks{},
	)
	return a
}

func (a *attemptFSM) Current() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fsm.Current()
}

func (a *attemptFSM) Event(ctx context.Context, event string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fsm.Event(ctx, event)
}

func (a *attemptFSM) Can(event string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fsm.Can(event)
}

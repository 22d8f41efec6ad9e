package ledger

import (
	"context"
	"log"
	"time"

	"github.com/nostrstack/paykit/internal/telemetry"
)

// Sink persists payment-flow telemetry for one attempt. Write failures are
// logged and swallowed; analytics must never break a payment.
type Sink struct {
	DB        *DB
	AttemptID int64
}

func (s Sink) Record(e telemetry.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.DB.RecordFlowEvent(ctx, s.AttemptID, string(e.Stage), e.Method, e.Reason); err != nil {
		log.Printf("ledger: recording flow event: %v", err)
	}
}

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrAttemptNotFound indicates the attempt does not exist.
var ErrAttemptNotFound = errors.New("payment attempt not found")

// Attempt is one persisted payment attempt.
type Attempt struct {
	ID              int64
	Address         string
	RecipientPubkey string
	AmountMsat      int64
	State           string
	Method          string
	Invoice         string
	ProviderRef     string
	Preimage        string
	Error           string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// FlowEvent is one persisted payment-flow transition.
type FlowEvent struct {
	ID        int64
	AttemptID sql.NullInt64
	Stage     string
	Method    string
	Reason    string
	CreatedAt time.Time
}

// CreateAttempt records the start of a payment attempt.
func (db *DB) CreateAttempt(ctx context.Context, address, recipientPubkey string, amountMsat int64) (*Attempt, error) {
	result, err := db.ExecContext(ctx, `
		INSERT INTO payment_attempts (address, recipient_pubkey, amount_msat)
		VALUES (?, ?, ?)
	`, address, recipientPubkey, amountMsat)
	if err != nil {
		return nil, fmt.Errorf("creating attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting attempt id: %w", err)
	}

	return &Attempt{
		ID:              id,
		Address:         address,
		RecipientPubkey: recipientPubkey,
		AmountMsat:      amountMsat,
		State:           "pending_lnurl",
	}, nil
}

// SetInvoice stores the fetched invoice and advances the attempt to
// waiting_payment.
func (db *DB) SetInvoice(ctx context.Context, attemptID int64, invoice, providerRef string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE payment_attempts
		SET invoice = ?, provider_ref = ?, state = 'waiting_payment', updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, invoice, providerRef, attemptID)
	if err != nil {
		return fmt.Errorf("storing invoice: %w", err)
	}
	return checkFound(result)
}

// MarkPaid settles an attempt. The WHERE clause makes the first settlement
// win; a second observer's update affects zero rows and is reported as
// not found.
func (db *DB) MarkPaid(ctx context.Context, attemptID int64, method, preimage string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE payment_attempts
		SET state = 'paid', method = ?, preimage = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state != 'paid'
	`, method, preimage, attemptID)
	if err != nil {
		return fmt.Errorf("marking paid: %w", err)
	}
	return checkFound(result)
}

// MarkFailed records a terminal failure with its message.
func (db *DB) MarkFailed(ctx context.Context, attemptID int64, reason string) error {
	result, err := db.ExecContext(ctx, `
		UPDATE payment_attempts
		SET state = 'error', error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, reason, attemptID)
	if err != nil {
		return fmt.Errorf("marking failed: %w", err)
	}
	return checkFound(result)
}

// MarkTimedOut flags an attempt whose automatic settlement detection gave
// up. The invoice column is kept: the attempt may still settle late.
func (db *DB) MarkTimedOut(ctx context.Context, attemptID int64) error {
	result, err := db.ExecContext(ctx, `
		UPDATE payment_attempts
		SET state = 'timed_out', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND state = 'waiting_payment'
	`, attemptID)
	if err != nil {
		return fmt.Errorf("marking timed out: %w", err)
	}
	return checkFound(result)
}

// GetAttempt returns an attempt by ID.
func (db *DB) GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error) {
	var a Attempt
	err := db.QueryRowContext(ctx, `
		SELECT id, address, recipient_pubkey, amount_msat, state, method,
		       invoice, provider_ref, preimage, error, created_at, updated_at
		FROM payment_attempts WHERE id = ?
	`, attemptID).Scan(&a.ID, &a.Address, &a.RecipientPubkey, &a.AmountMsat, &a.State,
		&a.Method, &a.Invoice, &a.ProviderRef, &a.Preimage, &a.Error, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAttemptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying attempt: %w", err)
	}
	return &a, nil
}

// ListAttempts returns attempts, most recent first.
func (db *DB) ListAttempts(ctx context.Context, limit int) ([]Attempt, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, address, recipient_pubkey, amount_msat, state, method,
		       invoice, provider_ref, preimage, error, created_at, updated_at
		FROM payment_attempts ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []Attempt
	for rows.Next() {
		var a Attempt
		if err := rows.Scan(&a.ID, &a.Address, &a.RecipientPubkey, &a.AmountMsat, &a.State,
			&a.Method, &a.Invoice, &a.ProviderRef, &a.Preimage, &a.Error, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating attempts: %w", err)
	}
	return attempts, nil
}

// TotalPaidMsat returns the sum of all settled attempts.
func (db *DB) TotalPaidMsat(ctx context.Context) (int64, error) {
	var total sql.NullInt64
	err := db.QueryRowContext(ctx, `
		SELECT SUM(amount_msat) FROM payment_attempts WHERE state = 'paid'
	`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("querying total paid: %w", err)
	}
	if !total.Valid {
		return 0, nil
	}
	return total.Int64, nil
}

// RecordFlowEvent appends a flow event, optionally tied to an attempt.
func (db *DB) RecordFlowEvent(ctx context.Context, attemptID int64, stage, method, reason string) error {
	var attemptIDVal sql.NullInt64
	if attemptID > 0 {
		attemptIDVal = sql.NullInt64{Int64: attemptID, Valid: true}
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO flow_events (attempt_id, stage, method, reason)
		VALUES (?, ?, ?, ?)
	`, attemptIDVal, stage, method, reason)
	if err != nil {
		return fmt.Errorf("recording flow event: %w", err)
	}
	return nil
}

// GetFlowEvents returns an attempt's flow events in order.
func (db *DB) GetFlowEvents(ctx context.Context, attemptID int64) ([]FlowEvent, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, attempt_id, stage, method, reason, created_at
		FROM flow_events WHERE attempt_id = ? ORDER BY id ASC
	`, attemptID)
	if err != nil {
		return nil, fmt.Errorf("querying flow events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []FlowEvent
	for rows.Next() {
		var e FlowEvent
		if err := rows.Scan(&e.ID, &e.AttemptID, &e.Stage, &e.Method, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning flow event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating flow events: %w", err)
	}
	return events, nil
}

func checkFound(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrAttemptNotFound
	}
	return nil
}

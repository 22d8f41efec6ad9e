package nwc

import (
	"errors"
	"fmt"
)

// ErrInvalidURI indicates a malformed nostr+walletconnect connection URI.
var ErrInvalidURI = errors.New("invalid wallet connect uri")

// ErrAmountExceedsLimit indicates the payment was blocked by the local cap.
var ErrAmountExceedsLimit = errors.New("amount exceeds limit")

// ErrTimeout indicates the wallet did not respond within the deadline.
var ErrTimeout = errors.New("timeout waiting for wallet response")

// ErrPublishFailed indicates no relay accepted the request event.
var ErrPublishFailed = errors.New("failed to publish request to any wallet relay")

// ErrDecrypt indicates the response could not be decrypted with either
// supported scheme.
var ErrDecrypt = errors.New("failed to decrypt wallet response")

// WalletError is an error reported by the wallet itself (NIP-47 error
// object), carrying the protocol code alongside a friendly message.
type WalletError struct {
	Code    string
	Message string
}

func (e *WalletError) Error() string {
	if friendly, ok := walletErrorText[e.Code]; ok {
		if e.Message != "" {
			return fmt.Sprintf("%s: %s", friendly, e.Message)
		}
		return friendly
	}
	if e.Message != "" {
		return fmt.Sprintf("wallet error %s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("wallet error %s", e.Code)
}

// Known NIP-47 error codes mapped to human-readable text.
var walletErrorText = map[string]string{
	"RESTRICTED":           "wallet connection does not permit this request",
	"UNAUTHORIZED":         "wallet rejected the connection key",
	"INSUFFICIENT_BALANCE": "wallet balance is too low",
	"QUOTA_EXCEEDED":       "wallet spending quota exceeded",
	"RATE_LIMITED":         "wallet is rate limiting requests",
	"NOT_IMPLEMENTED":      "wallet does not support this method",
	"PAYMENT_FAILED":       "wallet could not complete the payment",
	"NOT_FOUND":            "wallet could not find the invoice",
	"INTERNAL":             "wallet internal error",
	"OTHER":                "wallet error",
}

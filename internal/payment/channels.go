package payment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nostrstack/paykit/internal/nwc"
)

// ErrChannelUnavailable indicates a channel is not configured or disabled.
var ErrChannelUnavailable = errors.New("payment channel unavailable")

// WalletChannel is one way of getting an invoice paid directly. Channels
// are tried in priority order; a failing channel falls through to the next
// one and never aborts the attempt.
type WalletChannel interface {
	Name() string
	Available() bool
	Pay(ctx context.Context, invoice string, amountMsat int64) (preimage string, err error)
}

// NWCChannel pays through a Nostr Wallet Connect wallet.
type NWCChannel struct {
	Client *nwc.Client
}

func (c *NWCChannel) Name() string    { return "nwc" }
func (c *NWCChannel) Available() bool { return c != nil && c.Client != nil }

func (c *NWCChannel) Pay(ctx context.Context, invoice string, amountMsat int64) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("%w: no wallet configured", ErrChannelUnavailable)
	}
	result, err := c.Client.PayInvoice(ctx, invoice, amountMsat)
	if err != nil {
		return "", err
	}
	return result.Preimage, nil
}

// RegtestChannel pays through a local dev endpoint:
// POST <payURL> {"invoice": ...} with a 2xx on success. Only meaningful
// against a regtest backend.
type RegtestChannel struct {
	PayURL     string
	Enabled    bool
	HTTPClient *http.Client
}

func (c *RegtestChannel) Name() string    { return "regtest" }
func (c *RegtestChannel) Available() bool { return c != nil && c.Enabled && c.PayURL != "" }

func (c *RegtestChannel) Pay(ctx context.Context, invoice string, _ int64) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("%w: regtest pay unavailable/disabled", ErrChannelUnavailable)
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	body := strings.NewReader(fmt.Sprintf(`{"invoice":%q}`, invoice))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.PayURL, body)
	if err != nil {
		return "", fmt.Errorf("creating regtest pay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("regtest pay: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("regtest pay HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return "", nil
}

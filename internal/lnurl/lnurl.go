package lnurl

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client handles LNURL-pay operations for resolving addresses and
// requesting bolt11 invoices.
type Client struct {
	httpClient *http.Client

	// AllowHTTP permits plain-http callbacks to non-loopback hosts.
	// Only ever enable this for local development against regtest.
	AllowHTTP bool
}

// NewClient creates a new LNURL-pay client with reasonable defaults.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// NewClientWithHTTP creates a client with a custom http.Client (for testing).
func NewClientWithHTTP(c *http.Client) *Client {
	return &Client{httpClient: c}
}

// PayMetadata contains the response from an LNURL-pay well-known endpoint.
type PayMetadata struct {
	Callback       string `json:"callback"`
	MinSendable    int64  `json:"minSendable"`    // millisats
	MaxSendable    int64  `json:"maxSendable"`    // millisats
	Metadata       string `json:"metadata"`       // LUD-06 metadata JSON string
	CommentAllowed int    `json:"commentAllowed"` // max comment length, 0 = not allowed
	Tag            string `json:"tag"`            // must be "payRequest"
	AllowsNostr    bool   `json:"allowsNostr"`    // NIP-57 zap support
	NostrPubkey    string `json:"nostrPubkey"`    // key that signs zap receipts
}

// InvoiceResponse contains the bolt11 invoice from the callback.
type InvoiceResponse struct {
	PR            string          `json:"pr"`
	Routes        []any           `json:"routes"`
	SuccessAction json.RawMessage `json:"successAction"`
	ProviderRef   string          `json:"provider_ref"` // correlates to a payment-status endpoint
	Status        string          `json:"status"`       // "ERROR" on LNURL-level failure
	Reason        string          `json:"reason"`
}

// ValidateCallbackURL enforces the https-only rule for LNURL callbacks.
// Plain http is allowed only for loopback hosts, or anywhere when allowHTTP
// is set. This is a security boundary: invoice requests carry the signed
// zap request and must not go out in cleartext to production domains.
func ValidateCallbackURL(rawURL string, allowHTTP bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsecureCallback, err)
	}
	switch u.Scheme {
	case "https":
		return nil
	case "http":
		if allowHTTP || isLoopbackHost(u.Hostname()) {
			return nil
		}
		return fmt.Errorf("%w: http callback to non-loopback host %q", ErrInsecureCallback, u.Hostname())
	default:
		return fmt.Errorf("%w: scheme %q", ErrInsecureCallback, u.Scheme)
	}
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// ParsePayMetadata parses and validates a fetched LNURL-pay metadata
// document. The returned struct is immutable once parsed.
func (c *Client) ParsePayMetadata(raw []byte) (*PayMetadata, error) {
	var meta PayMetadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidPayMetadata, err)
	}

	if meta.Tag != "payRequest" {
		return nil, fmt.Errorf("%w: tag %q, expected payRequest", ErrInvalidPayMetadata, meta.Tag)
	}
	if meta.Callback == "" {
		return nil, fmt.Errorf("%w: missing callback URL", ErrInvalidPayMetadata)
	}
	if err := ValidateCallbackURL(meta.Callback, c.AllowHTTP); err != nil {
		return nil, err
	}
	if meta.MinSendable <= 0 || meta.MaxSendable <= 0 {
		return nil, fmt.Errorf("%w: non-positive sendable bounds", ErrInvalidPayMetadata)
	}
	if meta.MinSendable > meta.MaxSendable {
		return nil, fmt.Errorf("%w: minSendable %d > maxSendable %d",
			ErrInvalidPayMetadata, meta.MinSendable, meta.MaxSendable)
	}
	if meta.Metadata == "" {
		return nil, fmt.Errorf("%w: missing metadata string", ErrInvalidPayMetadata)
	}

	return &meta, nil
}

// FetchPayMetadata retrieves LNURL-pay metadata for a lightning address.
func (c *Client) FetchPayMetadata(ctx context.Context, address string) (*PayMetadata, error) {
	addr, err := ParseLightningAddress(address)
	if err != nil {
		return nil, err
	}
	return c.FetchPayMetadataURL(ctx, addr.WellKnownURL())
}

// FetchPayMetadataURL retrieves and validates LNURL-pay metadata from an
// already-resolved endpoint URL (from a decoded LNURL or a well-known path).
func (c *Client) FetchPayMetadataURL(ctx context.Context, endpoint string) (*PayMetadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrMetadataFetch, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetadataFetch, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d", ErrMetadataFetch, resp.StatusCode)
	}

	var buf json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&buf); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMetadataFetch, err)
	}

	return c.ParsePayMetadata(buf)
}

// CheckAmount validates a millisat amount against the metadata bounds.
// The error message states the valid range in sats so callers can surface
// it verbatim.
func (m *PayMetadata) CheckAmount(amountMsat int64) error {
	if amountMsat < m.MinSendable || amountMsat > m.MaxSendable {
		return fmt.Errorf("%w: amount must be between %d and %d sats",
			ErrAmountOutOfRange, m.MinSendable/1000, m.MaxSendable/1000)
	}
	return nil
}

// RequestInvoice requests a bolt11 invoice from the callback URL.
// zapRequestJSON, when non-empty, is the serialized signed kind-9734 zap
// request attached per NIP-57; lnurlTag is the bech32 lnurl the metadata
// was resolved from (may be empty).
func (c *Client) RequestInvoice(ctx context.Context, callback string, amountMsat int64, lnurlTag, zapRequestJSON string) (*InvoiceResponse, error) {
	if err := ValidateCallbackURL(callback, c.AllowHTTP); err != nil {
		return nil, err
	}

	u, err := url.Parse(callback)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing callback: %v", ErrInvoiceRequest, err)
	}
	q := u.Query()
	q.Set("amount", strconv.FormatInt(amountMsat, 10))
	if zapRequestJSON != "" {
		q.Set("nostr", zapRequestJSON)
	}
	if lnurlTag != "" {
		q.Set("lnurl", lnurlTag)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: creating request: %v", ErrInvoiceRequest, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvoiceRequest, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrInvoiceRequest, resp.StatusCode)
	}

	var invoiceResp InvoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&invoiceResp); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrInvoiceRequest, err)
	}

	if invoiceResp.Status == "ERROR" {
		return nil, fmt.Errorf("%w: provider error: %s", ErrInvoiceRequest, invoiceResp.Reason)
	}
	if invoiceResp.PR == "" {
		return nil, fmt.Errorf("%w: invoice missing from response", ErrInvoiceRequest)
	}

	return &invoiceResp, nil
}

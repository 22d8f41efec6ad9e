package nwc

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
	"github.com/nbd-wtf/go-nostr/nip44"
)

// NIP-47 event kinds.
const (
	KindWalletRequest  = 23194
	KindWalletResponse = 23195
)

// DefaultTimeout bounds a request/response cycle. Some wallets simply
// never answer, so every call carries a deadline.
const DefaultTimeout = 15 * time.Second

// Options tune client behavior.
type Options struct {
	// Timeout for a full request/response cycle. Zero means DefaultTimeout.
	Timeout time.Duration

	// MaxAmountMsat caps outgoing payments. Checked locally before any
	// network call; wallets cannot be trusted to self-limit. Zero = no cap.
	MaxAmountMsat int64

	// PreferNip44 tries NIP-44 encryption before falling back to NIP-04.
	PreferNip44 bool
}

// Client speaks the Nostr Wallet Connect protocol to a single wallet over
// the relay set from its connection URI.
type Client struct {
	uri          *URI
	clientPubkey string
	sharedSecret []byte // NIP-04
	convKey      [32]byte // NIP-44
	opts         Options
}

// PayResult is the wallet's answer to a successful pay_invoice.
type PayResult struct {
	Preimage string `json:"preimage"`
	FeesPaid int64  `json:"fees_paid"`
}

// Info is the wallet's answer to get_info.
type Info struct {
	Alias   string   `json:"alias"`
	Network string   `json:"network"`
	Methods []string `json:"methods"`
}

type request struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type response struct {
	ResultType string          `json:"result_type"`
	Result     json.RawMessage `json:"result"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewClient builds a client from a parsed connection URI. Key material is
// derived once here; relay URLs were already validated by ParseURI.
func NewClient(uri *URI, opts Options) (*Client, error) {
	pubkey, err := nostr.GetPublicKey(uri.Secret)
	if err != nil {
		return nil, fmt.Errorf("deriving client pubkey: %w", err)
	}

	shared, err := nip04.ComputeSharedSecret(uri.WalletPubkey, uri.Secret)
	if err != nil {
		return nil, fmt.Errorf("computing nip04 shared secret: %w", err)
	}

	convKey, err := nip44.GenerateConversationKey(uri.WalletPubkey, uri.Secret)
	if err != nil {
		return nil, fmt.Errorf("computing nip44 conversation key: %w", err)
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	return &Client{
		uri:          uri,
		clientPubkey: pubkey,
		sharedSecret: shared,
		convKey:      convKey,
		opts:         opts,
	}, nil
}

// WalletPubkey returns the wallet's hex pubkey.
func (c *Client) WalletPubkey() string { return c.uri.WalletPubkey }

// Lud16 returns the lightning address advertised in the connection URI,
// if any.
func (c *Client) Lud16() string { return c.uri.Lud16 }

// PayInvoice asks the wallet to pay a bolt11 invoice. amountMsat is the
// invoice amount when known; it is checked against the local cap before
// anything touches the network.
func (c *Client) PayInvoice(ctx context.Context, invoice string, amountMsat int64) (*PayResult, error) {
	if c.opts.MaxAmountMsat > 0 && amountMsat > c.opts.MaxAmountMsat {
		return nil, fmt.Errorf("%w: %d msat > %d msat cap",
			ErrAmountExceedsLimit, amountMsat, c.opts.MaxAmountMsat)
	}

	params := map[string]any{"invoice": invoice}
	if amountMsat > 0 {
		params["amount"] = amountMsat
	}

	var result PayResult
	if err := c.roundTrip(ctx, "pay_invoice", params, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetBalance returns the wallet balance in millisats.
func (c *Client) GetBalance(ctx context.Context) (int64, error) {
	var result struct {
		Balance int64 `json:"balance"`
	}
	if err := c.roundTrip(ctx, "get_balance", map[string]any{}, &result); err != nil {
		return 0, err
	}
	return result.Balance, nil
}

// GetInfo returns wallet capabilities.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	var result Info
	if err := c.roundTrip(ctx, "get_info", map[string]any{}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// roundTrip publishes an encrypted request and waits for the matching
// response. Relay connections are opened per cycle and closed before
// returning, so no subscription outlives the call.
func (c *Client) roundTrip(ctx context.Context, method string, params, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	payload, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	content, encTag, err := c.encrypt(string(payload))
	if err != nil {
		return err
	}

	evt := nostr.Event{
		PubKey:    c.clientPubkey,
		CreatedAt: nostr.Now(),
		Kind:      KindWalletRequest,
		Tags: nostr.Tags{
			nostr.Tag{"p", c.uri.WalletPubkey},
		},
		Content: content,
	}
	if encTag != "" {
		evt.Tags = append(evt.Tags, nostr.Tag{"encryption", encTag})
	}
	if err := evt.Sign(c.uri.Secret); err != nil {
		return fmt.Errorf("signing request: %w", err)
	}

	respEvt, err := c.exchange(ctx, evt)
	if err != nil {
		return err
	}

	plaintext, err := c.decrypt(respEvt.Content)
	if err != nil {
		return err
	}

	var resp response
	if err := json.Unmarshal([]byte(plaintext), &resp); err != nil {
		return fmt.Errorf("parsing wallet response: %w", err)
	}
	if resp.Error != nil && resp.Error.Code != "" {
		return &WalletError{Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if result != nil && len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("parsing wallet result: %w", err)
		}
	}
	return nil
}

// exchange fans the signed request out to every relay in the URI and
// returns the first kind-23195 event that correlates back to it. First
// match wins; duplicate responses from other relays are discarded.
func (c *Client) exchange(ctx context.Context, evt nostr.Event) (*nostr.Event, error) {
	since := evt.CreatedAt
	filters := nostr.Filters{{
		Kinds:   []int{KindWalletResponse},
		Authors: []string{c.uri.WalletPubkey},
		Tags:    nostr.TagMap{"p": []string{c.clientPubkey}},
		Since:   &since,
	}}

	matches := make(chan *nostr.Event, 1)
	done := make(chan struct{})
	var published int32
	var wg sync.WaitGroup

	for _, url := range c.uri.Relays {
		wg.Add(1)
		go func(url string) {
			defer wg.Done()

			relay, err := nostr.RelayConnect(ctx, url)
			if err != nil {
				log.Printf("nwc: connect to %s failed: %v", url, err)
				return
			}
			defer func() { _ = relay.Close() }()

			sub, err := relay.Subscribe(ctx, filters)
			if err != nil {
				log.Printf("nwc: subscribe on %s failed: %v", url, err)
				return
			}
			defer sub.Unsub()

			if err := relay.Publish(ctx, evt); err != nil {
				log.Printf("nwc: publish to %s failed: %v", url, err)
				return
			}
			atomic.AddInt32(&published, 1)

			for {
				select {
				case <-ctx.Done():
					return
				case respEvt, ok := <-sub.Events:
					if !ok {
						return
					}
					if respEvt == nil || respEvt.PubKey != c.uri.WalletPubkey {
						continue
					}
					eTag := respEvt.Tags.Find("e")
					if len(eTag) < 2 || eTag[1] != evt.ID {
						continue
					}
					select {
					case matches <- respEvt:
					default:
					}
					return
				}
			}
		}(url)
	}

	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case respEvt := <-matches:
		return respEvt, nil

	case <-ctx.Done():
		<-done
		// A late response may have slipped in while workers were draining.
		select {
		case respEvt := <-matches:
			return respEvt, nil
		default:
		}
		if atomic.LoadInt32(&published) == 0 {
			return nil, ErrPublishFailed
		}
		return nil, ErrTimeout

	case <-done:
		select {
		case respEvt := <-matches:
			return respEvt, nil
		default:
		}
		if atomic.LoadInt32(&published) == 0 {
			return nil, ErrPublishFailed
		}
		return nil, fmt.Errorf("%w: all subscriptions closed", ErrTimeout)
	}
}

// encrypt produces the request content plus the NIP-47 encryption tag
// value ("" for legacy NIP-04, which wallets assume by default).
func (c *Client) encrypt(plaintext string) (string, string, error) {
	if c.opts.PreferNip44 {
		ciphertext, err := nip44.Encrypt(plaintext, c.convKey)
		if err != nil {
			return "", "", fmt.Errorf("nip44 encrypt: %w", err)
		}
		return ciphertext, "nip44_v2", nil
	}
	ciphertext, err := nip04.Encrypt(plaintext, c.sharedSecret)
	if err != nil {
		return "", "", fmt.Errorf("nip04 encrypt: %w", err)
	}
	return ciphertext, "", nil
}

// decrypt tries both schemes, preferred one first. Wallets do not always
// answer in the scheme they were asked in.
func (c *Client) decrypt(ciphertext string) (string, error) {
	first, second := c.decryptNip04, c.decryptNip44
	if c.opts.PreferNip44 {
		first, second = c.decryptNip44, c.decryptNip04
	}
	if plaintext, err := first(ciphertext); err == nil {
		return plaintext, nil
	}
	plaintext, err := second(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (c *Client) decryptNip04(ciphertext string) (string, error) {
	return nip04.Decrypt(ciphertext, c.sharedSecret)
}

func (c *Client) decryptNip44(ciphertext string) (string, error) {
	return nip44.Decrypt(ciphertext, c.convKey)
}

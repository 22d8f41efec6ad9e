package nwc

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// URI holds the wallet connection parameters from a
// nostr+walletconnect://<pubkey>?relay=<url>&secret=<hex> string.
// Parsed once per client construction; immutable afterwards.
type URI struct {
	WalletPubkey string   // hex, 32 bytes
	Secret       string   // hex, 32 bytes; the client's signing key
	Relays       []string // deduplicated, ws:// or wss:// only
	Lud16        string   // optional lightning address advertised by the wallet
}

// ParseURI parses and validates a wallet connect URI. All validation is
// done here so that a client constructed from the result can never fail on
// connection parameters later.
func ParseURI(raw string) (*URI, error) {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURI, err)
	}
	if u.Scheme != "nostr+walletconnect" {
		return nil, fmt.Errorf("%w: scheme %q", ErrInvalidURI, u.Scheme)
	}

	// Wallet pubkey lives in the host part. Some wallets emit the URI
	// without slashes, which url.Parse puts in Opaque instead.
	pubkey := u.Host
	if pubkey == "" {
		pubkey = strings.SplitN(u.Opaque, "?", 2)[0]
		if i := strings.Index(u.Opaque, "?"); i >= 0 {
			q, qerr := url.ParseQuery(u.Opaque[i+1:])
			if qerr == nil && u.RawQuery == "" {
				u.RawQuery = q.Encode()
			}
		}
	}
	if strings.HasPrefix(pubkey, "npub1") {
		prefix, decoded, derr := nip19.Decode(pubkey)
		if derr != nil || prefix != "npub" {
			return nil, fmt.Errorf("%w: bad npub wallet pubkey", ErrInvalidURI)
		}
		pubkey = decoded.(string)
	}
	if !nostr.IsValid32ByteHex(pubkey) {
		return nil, fmt.Errorf("%w: wallet pubkey is not 32-byte hex", ErrInvalidURI)
	}

	query := u.Query()

	secret := query.Get("secret")
	if strings.HasPrefix(secret, "nsec1") {
		prefix, decoded, derr := nip19.Decode(secret)
		if derr != nil || prefix != "nsec" {
			return nil, fmt.Errorf("%w: bad nsec secret", ErrInvalidURI)
		}
		secret = decoded.(string)
	}
	if !nostr.IsValid32ByteHex(secret) {
		return nil, fmt.Errorf("%w: secret is not 32-byte hex", ErrInvalidURI)
	}

	relays := make([]string, 0, len(query["relay"]))
	seen := make(map[string]bool)
	for _, r := range query["relay"] {
		if seen[r] {
			continue
		}
		if !strings.HasPrefix(r, "wss://") && !strings.HasPrefix(r, "ws://") {
			return nil, fmt.Errorf("%w: relay %q must use ws:// or wss://", ErrInvalidURI, r)
		}
		seen[r] = true
		relays = append(relays, r)
	}
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: no relays", ErrInvalidURI)
	}

	return &URI{
		WalletPubkey: pubkey,
		Secret:       secret,
		Relays:       relays,
		Lud16:        query.Get("lud16"),
	}, nil
}

// String renders the URI back to its canonical form. ParseURI(u.String())
// yields an equal URI.
func (u *URI) String() string {
	q := url.Values{}
	for _, r := range u.Relays {
		q.Add("relay", r)
	}
	q.Set("secret", u.Secret)
	if u.Lud16 != "" {
		q.Set("lud16", u.Lud16)
	}
	return fmt.Sprintf("nostr+walletconnect://%s?%s", u.WalletPubkey, q.Encode())
}

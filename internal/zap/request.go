package zap

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
)

// ErrInvalidRequestParams indicates the zap request cannot be built.
var ErrInvalidRequestParams = errors.New("invalid zap request params")

// RequestParams describe a NIP-57 zap request to be built and signed.
type RequestParams struct {
	RecipientPubkey string   // hex pubkey of the zap target
	Relays          []string // relays where the receipt should be published
	AmountMsat      int64
	Lnurl           string // bech32 lnurl of the recipient endpoint, optional
	EventID         string // zapped event, optional
	Content         string // comment, optional
}

// BuildRequest builds an unsigned kind-9734 zap request event. The caller
// signs it and serializes it into the LNURL callback's nostr parameter.
// The template is never mutated after signing.
func BuildRequest(p RequestParams) (*nostr.Event, error) {
	if !nostr.IsValid32ByteHex(p.RecipientPubkey) {
		return nil, fmt.Errorf("%w: recipient pubkey is not 32-byte hex", ErrInvalidRequestParams)
	}
	if p.AmountMsat <= 0 {
		return nil, fmt.Errorf("%w: non-positive amount", ErrInvalidRequestParams)
	}
	if len(p.Relays) == 0 {
		return nil, fmt.Errorf("%w: at least one relay required", ErrInvalidRequestParams)
	}

	relaysTag := append(nostr.Tag{"relays"}, p.Relays...)
	tags := nostr.Tags{
		relaysTag,
		nostr.Tag{"amount", strconv.FormatInt(p.AmountMsat, 10)},
		nostr.Tag{"p", p.RecipientPubkey},
	}
	if p.Lnurl != "" {
		tags = append(tags, nostr.Tag{"lnurl", p.Lnurl})
	}
	if p.EventID != "" {
		tags = append(tags, nostr.Tag{"e", p.EventID})
	}

	return &nostr.Event{
		CreatedAt: nostr.Now(),
		Kind:      nostr.KindZapRequest,
		Tags:      tags,
		Content:   p.Content,
	}, nil
}

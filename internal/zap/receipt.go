package zap

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// Receipt contains extracted information from a valid kind-9735 zap
// receipt, used as a settlement signal for an outstanding invoice.
type Receipt struct {
	EventID      string       // receipt event id
	SenderPubkey string       // pubkey of the zap request signer
	AmountMsat   int64        // from the bolt11 tag
	Bolt11       string       // the paid invoice
	Request      *nostr.Event // the embedded kind-9734 zap request
}

// ErrInvalidReceipt indicates the zap receipt is malformed or invalid.
var ErrInvalidReceipt = errors.New("invalid zap receipt")

// ErrUnexpectedProvider indicates the receipt was signed by an unexpected key.
var ErrUnexpectedProvider = errors.New("unexpected zap provider")

// ValidateReceipt validates a NIP-57 zap receipt and extracts payment info.
// providerPubkeyHex, when non-empty, is the LNURL provider key expected to
// sign receipts (the nostrPubkey from pay metadata).
func ValidateReceipt(event *nostr.Event, providerPubkeyHex string) (*Receipt, error) {
	if event.Kind != nostr.KindZap {
		return nil, fmt.Errorf("%w: expected kind %d, got %d", ErrInvalidReceipt, nostr.KindZap, event.Kind)
	}

	ok, err := event.CheckSignature()
	if err != nil || !ok {
		return nil, fmt.Errorf("%w: invalid signature", ErrInvalidReceipt)
	}

	if providerPubkeyHex != "" && event.PubKey != providerPubkeyHex {
		return nil, fmt.Errorf("%w: expected %s, got %s", ErrUnexpectedProvider, providerPubkeyHex, event.PubKey)
	}

	descTag := event.Tags.Find("description")
	if len(descTag) < 2 {
		return nil, fmt.Errorf("%w: missing description tag", ErrInvalidReceipt)
	}

	var request nostr.Event
	if err := json.Unmarshal([]byte(descTag[1]), &request); err != nil {
		return nil, fmt.Errorf("%w: invalid zap request JSON: %v", ErrInvalidReceipt, err)
	}
	if request.Kind != nostr.KindZapRequest {
		return nil, fmt.Errorf("%w: embedded request kind is %d, expected %d",
			ErrInvalidReceipt, request.Kind, nostr.KindZapRequest)
	}
	if request.PubKey == "" {
		return nil, fmt.Errorf("%w: embedded request missing pubkey", ErrInvalidReceipt)
	}

	bolt11Tag := event.Tags.Find("bolt11")
	if len(bolt11Tag) < 2 {
		return nil, fmt.Errorf("%w: missing bolt11 tag", ErrInvalidReceipt)
	}
	bolt11 := bolt11Tag[1]

	amountMsat, err := ParseBolt11AmountMsat(bolt11)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReceipt, err)
	}

	return &Receipt{
		EventID:      event.ID,
		SenderPubkey: request.PubKey,
		AmountMsat:   amountMsat,
		Bolt11:       bolt11,
		Request:      &request,
	}, nil
}

// ParseBolt11AmountMsat extracts the amount in millisats from a BOLT11
// invoice human-readable part.
// Format: ln<network><amount>[multiplier]1<data>; multipliers m/u/n/p scale
// the BTC-denominated amount down by 10^-3 each step.
func ParseBolt11AmountMsat(invoice string) (int64, error) {
	invoice = strings.ToLower(invoice)

	var amountStart int
	switch {
	case strings.HasPrefix(invoice, "lnbcrt"):
		amountStart = 6
	case strings.HasPrefix(invoice, "lnbc"), strings.HasPrefix(invoice, "lntb"):
		amountStart = 4
	default:
		return 0, fmt.Errorf("unrecognized invoice prefix")
	}

	// The data part is bech32 and never contains '1', so the last '1'
	// separates the human-readable part from it.
	sepIndex := strings.LastIndex(invoice, "1")
	if sepIndex == -1 || sepIndex <= amountStart {
		return 0, fmt.Errorf("invalid invoice format: no separator found")
	}

	amountPart := invoice[amountStart:sepIndex]
	if amountPart == "" {
		return 0, fmt.Errorf("no amount in invoice")
	}

	var multiplier int64
	var numStr string

	lastChar := amountPart[len(amountPart)-1]
	if lastChar >= '0' && lastChar <= '9' {
		numStr = amountPart
		multiplier = 100_000_000_000 // whole BTC to msats
	} else {
		numStr = amountPart[:len(amountPart)-1]
		switch lastChar {
		case 'm':
			multiplier = 100_000_000
		case 'u':
			multiplier = 100_000
		case 'n':
			multiplier = 100
		case 'p':
			multiplier = 0 // sub-msat, rounds to zero
		default:
			return 0, fmt.Errorf("unknown multiplier: %c", lastChar)
		}
	}

	amount, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount number: %v", err)
	}

	return amount * multiplier, nil
}

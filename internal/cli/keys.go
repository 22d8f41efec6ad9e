package cli

import (
	"strings"

	"github.com/nbd-wtf/go-nostr/nip19"
)

// normalizeKey accepts an npub or hex pubkey and returns hex. Invalid
// input passes through unchanged; downstream validation reports it.
func normalizeKey(value string) string {
	if !strings.HasPrefix(value, "npub1") {
		return value
	}
	prefix, data, err := nip19.Decode(value)
	if err != nil || prefix != "npub" {
		return value
	}
	if pubkey, ok := data.(string); ok {
		return pubkey
	}
	return value
}

package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/keyer"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// ErrNotAuthenticated indicates no signer is available for the operation.
var ErrNotAuthenticated = errors.New("must be logged in")

// Signer signs Nostr events on behalf of the local user. Implementations
// carry their own key material; callers never see the secret.
type Signer interface {
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, event *nostr.Event) error
}

// KeySigner signs with an in-process secret key.
type KeySigner struct {
	keyer nostr.Keyer
}

// NewKeySigner creates a signer from a secret key given as hex or
// nip19 nsec.
func NewKeySigner(secret string) (*KeySigner, error) {
	secret = strings.TrimSpace(secret)
	if strings.HasPrefix(secret, "nsec1") {
		prefix, decoded, err := nip19.Decode(secret)
		if err != nil || prefix != "nsec" {
			return nil, fmt.Errorf("decoding nsec: %v", err)
		}
		secret = decoded.(string)
	}

	kr, err := keyer.NewPlainKeySigner(secret)
	if err != nil {
		return nil, fmt.Errorf("creating keyer: %w", err)
	}
	return &KeySigner{keyer: kr}, nil
}

func (s *KeySigner) PublicKey(ctx context.Context) (string, error) {
	return s.keyer.GetPublicKey(ctx)
}

func (s *KeySigner) Sign(ctx context.Context, event *nostr.Event) error {
	return s.keyer.SignEvent(ctx, event)
}

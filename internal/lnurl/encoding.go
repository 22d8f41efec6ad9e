package lnurl

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"
)

const humanReadablePart = "lnurl"

// Matches LUD-16 internet identifiers. Deliberately strict: lowercase
// only, as LUD-16 requires.
var addressRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// Decode turns an encoded LNURL into its underlying URL. It accepts either
// a bech32 "lnurl1..." string (LUD-01) or a base64-encoded URL, which some
// providers hand out in place of bech32.
func Decode(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidLnurl)
	}

	// Strip a lightning: prefix if present.
	value = strings.TrimPrefix(strings.TrimPrefix(value, "lightning:"), "LIGHTNING:")

	if strings.HasPrefix(strings.ToLower(value), humanReadablePart+"1") {
		hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(value))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidLnurl, err)
		}
		if hrp != humanReadablePart {
			return "", fmt.Errorf("%w: unexpected hrp %q", ErrInvalidLnurl, hrp)
		}
		converted, err := bech32.ConvertBits(data, 5, 8, false)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidLnurl, err)
		}
		return string(converted), nil
	}

	// Base64 fallback. The decoded bytes must parse as an absolute URL,
	// otherwise we reject rather than hand back garbage.
	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		decoded, err = base64.URLEncoding.DecodeString(value)
	}
	if err != nil {
		return "", fmt.Errorf("%w: not bech32 or base64", ErrInvalidLnurl)
	}
	u, err := url.Parse(string(decoded))
	if err != nil || !u.IsAbs() {
		return "", fmt.Errorf("%w: decoded value is not a url", ErrInvalidLnurl)
	}
	return string(decoded), nil
}

// Encode turns a URL into its uppercase bech32 LNURL representation.
func Encode(rawURL string) (string, error) {
	converted, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLnurl, err)
	}
	encoded, err := bech32.Encode(humanReadablePart, converted)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidLnurl, err)
	}
	return strings.ToUpper(encoded), nil
}

// LightningAddress is a LUD-16 user@domain identifier.
type LightningAddress struct {
	User   string
	Domain string
}

// String returns the user@domain form.
func (a LightningAddress) String() string {
	return a.User + "@" + a.Domain
}

// WellKnownURL returns the LUD-16 metadata endpoint for the address.
func (a LightningAddress) WellKnownURL() string {
	return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", a.Domain, a.User)
}

// ParseLightningAddress parses a user@domain lightning address.
func ParseLightningAddress(addr string) (LightningAddress, error) {
	addr = strings.TrimSpace(addr)
	if !addressRegex.MatchString(addr) {
		return LightningAddress{}, fmt.Errorf("%w: expected user@domain format", ErrInvalidLightningAddress)
	}
	parts := strings.SplitN(addr, "@", 2)
	return LightningAddress{User: parts[0], Domain: parts[1]}, nil
}

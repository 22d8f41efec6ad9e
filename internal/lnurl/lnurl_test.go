package lnurl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func validMetadataJSON(callback string) []byte {
	raw, _ := json.Marshal(PayMetadata{
		Callback:    callback,
		MinSendable: 1000,
		MaxSendable: 1000000,
		Metadata:    `[["text/plain","pay me"]]`,
		Tag:         "payRequest",
	})
	return raw
}

func TestParsePayMetadata_Valid(t *testing.T) {
	client := NewClient()

	meta, err := client.ParsePayMetadata(validMetadataJSON("https://example.com/lnurlp/callback"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.MinSendable != 1000 || meta.MaxSendable != 1000000 {
		t.Errorf("bounds not preserved: min=%d max=%d", meta.MinSendable, meta.MaxSendable)
	}
	if meta.Callback != "https://example.com/lnurlp/callback" {
		t.Errorf("callback = %s", meta.Callback)
	}
}

func TestParsePayMetadata_Invalid(t *testing.T) {
	tests := []struct {
		name string
		meta PayMetadata
	}{
		{"wrong tag", PayMetadata{Tag: "withdrawRequest", Callback: "https://x.com", MinSendable: 1, MaxSendable: 2, Metadata: "m"}},
		{"missing callback", PayMetadata{Tag: "payRequest", MinSendable: 1, MaxSendable: 2, Metadata: "m"}},
		{"min above max", PayMetadata{Tag: "payRequest", Callback: "https://x.com", MinSendable: 5000, MaxSendable: 1000, Metadata: "m"}},
		{"zero min", PayMetadata{Tag: "payRequest", Callback: "https://x.com", MinSendable: 0, MaxSendable: 1000, Metadata: "m"}},
		{"negative max", PayMetadata{Tag: "payRequest", Callback: "https://x.com", MinSendable: 1000, MaxSendable: -1, Metadata: "m"}},
		{"missing metadata", PayMetadata{Tag: "payRequest", Callback: "https://x.com", MinSendable: 1, MaxSendable: 2}},
	}

	client := NewClient()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, _ := json.Marshal(tt.meta)
			if _, err := client.ParsePayMetadata(raw); err == nil {
				t.Error("expected error for invalid metadata")
			}
		})
	}
}

func TestParsePayMetadata_GarbageJSON(t *testing.T) {
	client := NewClient()
	if _, err := client.ParsePayMetadata([]byte("{not json")); !errors.Is(err, ErrInvalidPayMetadata) {
		t.Errorf("expected ErrInvalidPayMetadata, got %v", err)
	}
}

func TestValidateCallbackURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		allowHTTP bool
		wantErr   bool
	}{
		{"https", "https://example.com/cb", false, false},
		{"http non-loopback", "http://example.com/cb", false, true},
		{"http localhost", "http://localhost:8080/cb", false, false},
		{"http 127.0.0.1", "http://127.0.0.1:8080/cb", false, false},
		{"http ipv6 loopback", "http://[::1]:8080/cb", false, false},
		{"http allowed explicitly", "http://example.com/cb", true, false},
		{"ftp", "ftp://example.com/cb", false, true},
		{"ftp even when http allowed", "ftp://example.com/cb", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCallbackURL(tt.url, tt.allowHTTP)
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr && !errors.Is(err, ErrInsecureCallback) {
				t.Errorf("expected ErrInsecureCallback, got %v", err)
			}
		})
	}
}

func TestCheckAmount(t *testing.T) {
	meta := &PayMetadata{MinSendable: 1000, MaxSendable: 1000000}

	// 21 sats is within [1, 1000] sats.
	if err := meta.CheckAmount(21000); err != nil {
		t.Errorf("21 sats should be in range: %v", err)
	}

	err := meta.CheckAmount(2000000)
	if !errors.Is(err, ErrAmountOutOfRange) {
		t.Fatalf("expected ErrAmountOutOfRange, got %v", err)
	}
	if !strings.Contains(err.Error(), "between 1 and 1000 sats") {
		t.Errorf("range message should state valid bounds, got: %v", err)
	}
}

func TestDecode_EncodeRoundTrip(t *testing.T) {
	original := "https://example.com/.well-known/lnurlp/alice"

	encoded, err := Encode(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.HasPrefix(strings.ToLower(encoded), "lnurl1") {
		t.Errorf("encoded LNURL should start with lnurl1, got %s", encoded)
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != original {
		t.Errorf("round trip = %s, want %s", decoded, original)
	}
}

func TestDecode_Base64Fallback(t *testing.T) {
	// Some providers hand out base64 URLs instead of bech32.
	decoded, err := Decode("aHR0cHM6Ly9leGFtcGxlLmNvbS9sbnVybHA=")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != "https://example.com/lnurlp" {
		t.Errorf("decoded = %s", decoded)
	}
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"bad bech32", "lnurl1qqqqqqqqqqqqqqqqqqqqqq"},
		{"base64 of non-url", "bm90IGEgdXJs"},
		{"random garbage", "!!!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.input); !errors.Is(err, ErrInvalidLnurl) {
				t.Errorf("expected ErrInvalidLnurl, got %v", err)
			}
		})
	}
}

func TestParseLightningAddress(t *testing.T) {
	addr, err := ParseLightningAddress("alice@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if addr.User != "alice" || addr.Domain != "example.com" {
		t.Errorf("parsed = %+v", addr)
	}
	if addr.WellKnownURL() != "https://example.com/.well-known/lnurlp/alice" {
		t.Errorf("well-known URL = %s", addr.WellKnownURL())
	}

	invalid := []string{"", "alice", "@example.com", "alice@", "alice@nodot"}
	for _, in := range invalid {
		if _, err := ParseLightningAddress(in); !errors.Is(err, ErrInvalidLightningAddress) {
			t.Errorf("ParseLightningAddress(%q): expected ErrInvalidLightningAddress, got %v", in, err)
		}
	}
}

func TestRequestInvoice_Success(t *testing.T) {
	const expectedInvoice = "lnbc210n1pjkexample"
	zapRequestJSON := `{"kind":9734,"tags":[]}`

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("amount") != "21000" {
			t.Errorf("amount = %s, want 21000", q.Get("amount"))
		}
		if q.Get("nostr") != zapRequestJSON {
			t.Errorf("nostr param = %s", q.Get("nostr"))
		}
		if q.Get("lnurl") != "lnurl1tag" {
			t.Errorf("lnurl param = %s", q.Get("lnurl"))
		}
		json.NewEncoder(w).Encode(InvoiceResponse{PR: expectedInvoice, ProviderRef: "ref-42"})
	}))
	defer server.Close()

	client := NewClientWithHTTP(server.Client())
	client.AllowHTTP = true // httptest serves plain http

	resp, err := client.RequestInvoice(context.Background(), server.URL+"/callback", 21000, "lnurl1tag", zapRequestJSON)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.PR != expectedInvoice {
		t.Errorf("pr = %s, want %s", resp.PR, expectedInvoice)
	}
	if resp.ProviderRef != "ref-42" {
		t.Errorf("provider_ref = %s", resp.ProviderRef)
	}
}

func TestRequestInvoice_Failures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		errText string
	}{
		{
			name: "http status preserved",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			},
			errText: "HTTP 418",
		},
		{
			name: "provider error status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"status":"ERROR","reason":"no liquidity"}`)
			},
			errText: "no liquidity",
		},
		{
			name: "empty invoice",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, `{"pr":""}`)
			},
			errText: "invoice missing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			client := NewClientWithHTTP(server.Client())
			client.AllowHTTP = true

			_, err := client.RequestInvoice(context.Background(), server.URL, 1000, "", "")
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvoiceRequest) {
				t.Errorf("expected ErrInvoiceRequest, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.errText) {
				t.Errorf("error %q should contain %q", err, tt.errText)
			}
		})
	}
}

func TestRequestInvoice_RejectsInsecureCallback(t *testing.T) {
	client := NewClient()
	_, err := client.RequestInvoice(context.Background(), "http://example.com/cb", 1000, "", "")
	if !errors.Is(err, ErrInsecureCallback) {
		t.Errorf("expected ErrInsecureCallback, got %v", err)
	}
}

func TestFetchPayMetadata_WellKnown(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/lnurlp/bob" {
			t.Errorf("unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(validMetadataJSON("https://example.com/lnurlp/callback"))
	}))
	defer server.Close()

	client := NewClientWithHTTP(server.Client())
	meta, err := client.FetchPayMetadataURL(context.Background(), server.URL+"/.well-known/lnurlp/bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta.Tag != "payRequest" {
		t.Errorf("tag = %s", meta.Tag)
	}
}

func TestFetchPayMetadata_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClientWithHTTP(server.Client())
	_, err := client.FetchPayMetadataURL(context.Background(), server.URL)
	if !errors.Is(err, ErrMetadataFetch) {
		t.Fatalf("expected ErrMetadataFetch, got %v", err)
	}
	if !strings.Contains(err.Error(), "HTTP 502") {
		t.Errorf("status code should be preserved, got: %v", err)
	}
}

package lnurl

import "errors"

// ErrInvalidLightningAddress indicates the lightning address format is invalid.
var ErrInvalidLightningAddress = errors.New("invalid lightning address format")

// ErrInvalidLnurl indicates the LNURL string could not be decoded.
var ErrInvalidLnurl = errors.New("invalid lnurl encoding")

// ErrInvalidPayMetadata indicates the LNURL-pay metadata document is malformed.
var ErrInvalidPayMetadata = errors.New("invalid lnurl-pay metadata")

// ErrInsecureCallback indicates the callback URL uses a disallowed scheme.
var ErrInsecureCallback = errors.New("insecure lnurl callback url")

// ErrMetadataFetch indicates failure to fetch LNURL-pay metadata.
var ErrMetadataFetch = errors.New("failed to fetch lnurl metadata")

// ErrInvoiceRequest indicates failure to request an invoice from the callback.
var ErrInvoiceRequest = errors.New("failed to request lnurl invoice")

// ErrAmountOutOfRange indicates the requested amount is outside min/max bounds.
var ErrAmountOutOfRange = errors.New("amount outside lnurl pay range")

package lnurl

import (
	"encoding/json"
	"net/url"
)

// SuccessAction is a sanitized LUD-09 success action. Only the whitelisted
// tags survive sanitization; everything else is discarded.
type SuccessAction struct {
	Tag         string `json:"tag"`
	Message     string `json:"message,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	Ciphertext  string `json:"ciphertext,omitempty"`
	IV          string `json:"iv,omitempty"`
}

// SanitizeSuccessAction whitelists the success action attached to an
// invoice response. Allowed tags are "message", "url" (http/https only) and
// "aes". Anything unrecognized, including a malformed document, returns
// nil rather than an error: success actions are cosmetic and must never
// fail a payment.
func SanitizeSuccessAction(raw json.RawMessage) *SuccessAction {
	if len(raw) == 0 {
		return nil
	}

	var action SuccessAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return nil
	}

	switch action.Tag {
	case "message":
		if action.Message == "" {
			return nil
		}
		return &SuccessAction{Tag: "message", Message: action.Message}

	case "url":
		u, err := url.Parse(action.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil
		}
		return &SuccessAction{Tag: "url", URL: action.URL, Description: action.Description}

	case "aes":
		if action.Ciphertext == "" || action.IV == "" {
			return nil
		}
		return &SuccessAction{
			Tag:         "aes",
			Description: action.Description,
			Ciphertext:  action.Ciphertext,
			IV:          action.IV,
		}

	default:
		return nil
	}
}

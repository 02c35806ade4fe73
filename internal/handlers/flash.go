package handlers

import (
	"net/http"
	"strings"
)

type Flash struct {
	Kind string // "ok" or "error"
	Text string
}

var okText = map[string]string{
	"paid":       "Thank you. Your payment is being confirmed.",
	"registered": "Registration completed.",
}

var errText = map[string]string{
	"gateway_unavailable": "The payment provider could not be reached. Please try again.",
	"email_required":      "An email address is required to pay.",
	"changed":             "This payment no longer matches your registration. Please start again.",
	"not_pending":         "This payment has already been completed or cancelled.",
	"not_configured":      "Registration for this program is not yet configured.",
	"invalid_link":        "This payment link is invalid or has expired.",
}

// MakeFlash reads ?ok= / ?error= and falls back to explicit strings.
// Unknown keys are ignored so that query text is never echoed into the page.
func MakeFlash(r *http.Request, errStr, msgStr string) *Flash {
	q := r.URL.Query()
	if key := strings.ToLower(strings.TrimSpace(q.Get("error"))); key != "" {
		if t, ok := errText[key]; ok {
			return &Flash{Kind: "error", Text: t}
		}
	}
	if key := strings.ToLower(strings.TrimSpace(q.Get("ok"))); key != "" {
		if t, ok := okText[key]; ok {
			return &Flash{Kind: "ok", Text: t}
		}
	}
	if errStr != "" {
		return &Flash{Kind: "error", Text: errStr}
	}
	if msgStr != "" {
		return &Flash{Kind: "ok", Text: msgStr}
	}
	return nil
}

// flashKey picks the errText key shown for a failed payment step.
func flashKey(code string) string {
	switch code {
	case "GATEWAY_ERROR":
		return "gateway_unavailable"
	case "INVALID_INPUT":
		return "changed"
	case "CONFLICT":
		return "not_pending"
	case "PLAN_NOT_FOUND":
		return "not_configured"
	case "TAMPER", "NOT_FOUND":
		return "invalid_link"
	}
	return ""
}

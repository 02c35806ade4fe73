// Package identity carries the verified principal supplied by the fronting
// identity provider, and the normalizers used to compare contact details.
package identity

import (
	"context"
	"strings"
)

// Principal is a verified caller. Either field may be empty; both empty means anonymous.
type Principal struct {
	AccountID string
	Email     string
	Name      string
}

// Anonymous reports whether the principal carries no identity at all.
func (p Principal) Anonymous() bool {
	return p.AccountID == "" && p.Email == ""
}

// Key returns the canonical registrant key, "id:<account>" or "email:<normalized>".
func (p Principal) Key() string {
	if p.AccountID != "" {
		return "id:" + p.AccountID
	}
	if e, ok := NormEmail(p.Email); ok && e != "" {
		return "email:" + e
	}
	return ""
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// FromContext returns the principal or the zero (anonymous) value.
func FromContext(ctx context.Context) Principal {
	p, _ := ctx.Value(ctxKey{}).(Principal)
	return p
}

// New trims and normalizes raw header values.
func New(accountID, email, name string) Principal {
	e, ok := NormEmail(email)
	if !ok {
		e = ""
	}
	return Principal{
		AccountID: strings.TrimSpace(accountID),
		Email:     e,
		Name:      strings.TrimSpace(name),
	}
}

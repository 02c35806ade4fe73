// Package token seals payment-review payloads into tamper-evident strings.
//
// A token is base64url(json) "." base64url(HMAC-SHA256(secret, first segment)).
// The amount it carries is for display only; callers re-resolve the price.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lojf/academy/internal/apperr"
	"github.com/lojf/academy/internal/metrics"
)

// MinSecretLen is the shortest accepted signing secret, in bytes.
const MinSecretLen = 32

type Payload struct {
	IntentID         uint   `json:"intent_id"`
	Name             string `json:"name,omitempty"`
	Email            string `json:"email,omitempty"`
	Kind             string `json:"kind"`
	Description      string `json:"description,omitempty"`
	EntityID         uint   `json:"entity_id,omitempty"`
	PlanType         string `json:"plan_type,omitempty"`
	ParticipantCount int    `json:"participant_count,omitempty"`
	HintAmount       int64  `json:"hint_amount"`
	HintCurrency     string `json:"hint_currency,omitempty"`
	IssuedAt         int64  `json:"iat"`
}

type Guard struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewGuard returns a Guard. A zero ttl disables expiry.
func NewGuard(secret string, ttl time.Duration) (*Guard, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("token secret must be at least %d bytes", MinSecretLen)
	}
	return &Guard{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

var enc = base64.RawURLEncoding.Strict()

func (g *Guard) sign(body string) []byte {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

// Seal stamps IssuedAt and signs the payload.
func (g *Guard) Seal(p Payload) (string, error) {
	p.IssuedAt = g.now().Unix()
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	body := enc.EncodeToString(raw)
	return body + "." + enc.EncodeToString(g.sign(body)), nil
}

// Open verifies the signature before decoding anything. Every failure is apperr.ErrTamper.
func (g *Guard) Open(tok string) (Payload, error) {
	p, err := g.open(tok)
	if err != nil {
		metrics.TokenRejections.Inc()
		return Payload{}, err
	}
	return p, nil
}

func (g *Guard) open(tok string) (Payload, error) {
	body, sig, ok := strings.Cut(strings.TrimSpace(tok), ".")
	if !ok || body == "" || sig == "" {
		return Payload{}, fmt.Errorf("malformed token: %w", apperr.ErrTamper)
	}
	got, err := enc.DecodeString(sig)
	if err != nil {
		return Payload{}, fmt.Errorf("signature encoding: %w", apperr.ErrTamper)
	}
	if !hmac.Equal(got, g.sign(body)) {
		return Payload{}, apperr.ErrTamper
	}

	raw, err := enc.DecodeString(body)
	if err != nil {
		return Payload{}, fmt.Errorf("body encoding: %w", apperr.ErrTamper)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("body json: %w", apperr.ErrTamper)
	}
	if g.ttl > 0 && g.now().Sub(time.Unix(p.IssuedAt, 0)) > g.ttl {
		return Payload{}, fmt.Errorf("token expired: %w", apperr.ErrTamper)
	}
	return p, nil
}

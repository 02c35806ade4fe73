// Package gateway talks to the external payment provider.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lojf/academy/internal/metrics"
)

var (
	// ErrRejected is returned when the provider answers but refuses the request.
	ErrRejected = errors.New("payment gateway rejected request")
	// ErrUnavailable is returned when the provider cannot be reached in time.
	ErrUnavailable = errors.New("payment gateway unavailable")
)

type Customer struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Customization struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
}

type LinkRequest struct {
	TxRef          string         `json:"tx_ref"`
	Amount         int64          `json:"amount"`
	Currency       string         `json:"currency"`
	RedirectURL    string         `json:"redirect_url"`
	Customer       Customer       `json:"customer"`
	Customizations Customization  `json:"customizations"`
	Meta           map[string]any `json:"meta,omitempty"`
}

type linkResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

type Client struct {
	baseURL string
	secret  string
	httpc   *http.Client
}

func NewClient(baseURL, secret string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		httpc:   &http.Client{Timeout: timeout},
	}
}

// CreatePaymentLink asks the provider for a hosted checkout link.
func (c *Client) CreatePaymentLink(ctx context.Context, req LinkRequest) (string, error) {
	start := time.Now()
	link, err := c.createPaymentLink(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.GatewayLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return link, err
}

func (c *Client) createPaymentLink(ctx context.Context, req LinkRequest) (string, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return "", err
	}
	hr, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/payments", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	hr.Header.Set("Content-Type", "application/json")
	hr.Header.Set("Authorization", "Bearer "+c.secret)

	resp, err := c.httpc.Do(hr)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("gateway: read body: %w", err)
	}
	var out linkResponse
	_ = json.Unmarshal(body, &out)

	if resp.StatusCode >= 300 || out.Status != "success" {
		msg := out.Message
		if msg == "" {
			msg = resp.Status
		}
		return "", fmt.Errorf("%w: %s", ErrRejected, msg)
	}
	if out.Data.Link == "" {
		return "", fmt.Errorf("%w: response has no link", ErrRejected)
	}
	return out.Data.Link, nil
}

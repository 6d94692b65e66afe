// Package payment is the hosted-checkout provider client and its webhook
// signature check.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Signature"

	EventConfirmed = "payment.confirmed"
	EventFailed    = "payment.failed"
)

var ErrBadSignature = errors.New("payment webhook signature mismatch")

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

type CheckoutRequest struct {
	Reference   string            `json:"reference"`
	Amount      string            `json:"amount"`
	Currency    string            `json:"currency"`
	Description string            `json:"description"`
	SuccessURL  string            `json:"successUrl,omitempty"`
	CancelURL   string            `json:"cancelUrl,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type CheckoutSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (c *Client) CreateCheckout(ctx context.Context, in CheckoutRequest) (CheckoutSession, error) {
	base := strings.TrimRight(strings.TrimSpace(c.BaseURL), "/")
	if base == "" {
		return CheckoutSession{}, errors.New("payment base url is empty")
	}
	if in.Currency == "" {
		in.Currency = "USD"
	}
	b, err := json.Marshal(in)
	if err != nil {
		return CheckoutSession{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+"/v1/checkout/sessions", bytes.NewReader(b))
	if err != nil {
		return CheckoutSession{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(c.APIKey))
	req.Header.Set("Idempotency-Key", in.Reference)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return CheckoutSession{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	rb, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return CheckoutSession{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return CheckoutSession{}, fmt.Errorf("payment checkout http %d: %s", resp.StatusCode, strings.TrimSpace(string(rb)))
	}
	var out CheckoutSession
	if err := json.Unmarshal(rb, &out); err != nil {
		return CheckoutSession{}, err
	}
	if out.ID == "" || out.URL == "" {
		return CheckoutSession{}, errors.New("payment checkout: incomplete session")
	}
	return out, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the webhook signature in constant time.
func Verify(secret string, body []byte, signature string) error {
	if secret == "" {
		return errors.New("payment webhook secret is not configured")
	}
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrBadSignature
	}
	return nil
}

type Event struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Data EventData `json:"data"`
}

type EventData struct {
	Reference string `json:"reference"`
	SessionID string `json:"sessionId"`
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
}

func ParseEvent(body []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return Event{}, err
	}
	if strings.TrimSpace(ev.Data.Reference) == "" {
		return Event{}, errors.New("payment event without reference")
	}
	return ev, nil
}

package otp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Gateway delivers one-time codes to a phone number. Deployments without an
// SMS provider run with an unconfigured gateway; the service degrades to
// unverified registrations instead of failing.
type Gateway interface {
	Configured() bool
	SendCode(ctx context.Context, phone, code string) error
}

// HTTPGateway posts messages to an SMS provider's REST endpoint.
type HTTPGateway struct {
	URL    string
	APIKey string
	Sender string
	client *http.Client
}

func NewHTTPGateway(url, apiKey, sender string, client *http.Client) *HTTPGateway {
	return &HTTPGateway{URL: url, APIKey: apiKey, Sender: sender, client: client}
}

func (g *HTTPGateway) Configured() bool {
	return g.URL != "" && g.APIKey != ""
}

type smsMessage struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

func (g *HTTPGateway) SendCode(ctx context.Context, phone, code string) error {
	if !g.Configured() {
		return ErrNotConfigured
	}

	msg := smsMessage{
		To:   phone,
		From: g.Sender,
		Body: fmt.Sprintf("Your check-in code is %s", code),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create sms request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway rejected message: status %d", resp.StatusCode)
	}
	return nil
}

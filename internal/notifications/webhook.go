// Package notifications delivers owner notices through signed webhooks.
package notifications

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Roundledger-Signature"

// WebhookPayload is the body posted to webhook endpoints.
type WebhookPayload struct {
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

// WebhookSender posts payloads with HMAC signing and retry.
type WebhookSender struct {
	client      *http.Client
	logger      zerolog.Logger
	maxRetries  int
	backoff     time.Duration
	validateURL func(string) error
}

// NewWebhookSender creates a new webhook sender.
func NewWebhookSender(logger zerolog.Logger) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: &http.Transport{DialContext: safeDialer()},
		},
		logger:     logger.With().Str("component", "webhook_sender").Logger(),
		maxRetries: 3,
		backoff:    time.Second,
		validateURL: func(u string) error {
			return ValidateURL(u, false)
		},
	}
}

// Send posts payload to url. Attempts back off exponentially. The URL is
// never logged since it often embeds a token.
func (w *WebhookSender) Send(ctx context.Context, url string, payload WebhookPayload, secret string) error {
	if err := w.validateURL(url); err != nil {
		return fmt.Errorf("webhook URL blocked: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < w.maxRetries; attempt++ {
		if attempt > 0 {
			wait := w.backoff << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			w.logger.Debug().
				Int("attempt", attempt+1).
				Str("event_type", payload.EventType).
				Msg("retrying webhook")
		}

		lastErr = w.post(ctx, url, body, secret)
		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", w.maxRetries, lastErr)
}

func (w *WebhookSender) post(ctx context.Context, url string, body []byte, secret string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, secret))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		w.logger.Info().Int("status", resp.StatusCode).Msg("webhook notification sent")
		return nil
	}
	return fmt.Errorf("webhook returned status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

package services

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

	"membership-api/pkg/logging"
)

// SignatureHeader carries the HMAC-SHA256 of the callback body.
const SignatureHeader = "X-Membership-Signature"

// WebhookNotifier posts membership events to a tenant's own backend
type WebhookNotifier struct {
	httpClient  *http.Client
	gateways    Gateways
	retryDelays []time.Duration
}

// NewWebhookNotifier creates a new webhook notifier
func NewWebhookNotifier(gateways Gateways) *WebhookNotifier {
	return &WebhookNotifier{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		gateways: gateways,
		// Retry schedule: 1s, 5s (3 attempts total)
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second},
	}
}

// WebhookPayload represents the payload sent to a tenant backend
type WebhookPayload struct {
	Event     string `json:"event"` // new_subscription, renewal, subscription_update
	BotName   string `json:"bot_name"`
	UserID    int64  `json:"telegram_user_id"`
	Username  string `json:"telegram_username,omitempty"`
	Plan      string `json:"plan,omitempty"`
	Amount    string `json:"amount,omitempty"`
	Label     string `json:"label,omitempty"`
	Timestamp string `json:"timestamp"` // RFC 3339
}

// Notify posts to the tenant's callback URL. Tenants without one are skipped.
func (wn *WebhookNotifier) Notify(ctx context.Context, n Notification) error {
	gw := wn.gateways.Get(n.BotName)
	if gw == nil || gw.Tenant.WebhookCallbackURL == "" {
		return nil
	}

	payload := WebhookPayload{
		Event:     string(n.Kind),
		BotName:   n.BotName,
		UserID:    n.UserID,
		Username:  n.Username,
		Plan:      string(n.Plan),
		Label:     n.Label,
		Timestamp: n.OccurredAt.UTC().Format(time.RFC3339),
	}
	if n.Amount.IsPositive() {
		payload.Amount = n.Amount.StringFixed(2)
	}

	return wn.sendWithRetry(ctx, gw.Tenant.WebhookCallbackURL, gw.Tenant.WebhookSecret, payload)
}

// sendWithRetry sends webhook with retry mechanism
func (wn *WebhookNotifier) sendWithRetry(ctx context.Context, callbackURL, secret string, payload WebhookPayload) error {
	maxAttempts := len(wn.retryDelays) + 1

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = wn.sendWebhook(ctx, callbackURL, secret, payload)
		if err == nil {
			logging.Infof("Webhook notification sent - url: %s, bot: %s, user: %d, attempt: %d",
				callbackURL, payload.BotName, payload.UserID, attempt+1)
			return nil
		}

		logging.Warnf("Webhook notification failed - url: %s, bot: %s, user: %d, attempt: %d, error: %v",
			callbackURL, payload.BotName, payload.UserID, attempt+1, err)

		if attempt < len(wn.retryDelays) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wn.retryDelays[attempt]):
			}
		}
	}

	return fmt.Errorf("webhook to %s failed after %d attempts: %w", callbackURL, maxAttempts, err)
}

// sendWebhook sends a single webhook request
func (wn *WebhookNotifier) sendWebhook(ctx context.Context, callbackURL, secret string, payload WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, callbackURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Membership-Webhook/1.0")

	if secret != "" {
		req.Header.Set(SignatureHeader, SignPayload(jsonData, secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload under secret.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

package services

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"membership-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callbackGateways(url, secret string) Gateways {
	return Gateways{
		"demo": {Tenant: models.Tenant{BotName: "demo", WebhookCallbackURL: url, WebhookSecret: secret}},
	}
}

func testNotification() Notification {
	return Notification{
		Kind:       NotificationNewSubscription,
		BotName:    "demo",
		TenantName: "Demo",
		UserID:     42,
		Username:   "alice",
		Plan:       models.PlanMonthly,
		Amount:     decimal.RequireFromString("20"),
		OccurredAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookNotifierSignsPayload(t *testing.T) {
	var body []byte
	var signature string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		signature = r.Header.Get(SignatureHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(callbackGateways(server.URL, "s3cret"))
	require.NoError(t, notifier.Notify(context.Background(), testNotification()))

	assert.Equal(t, SignPayload(body, "s3cret"), signature)

	var payload WebhookPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, "new_subscription", payload.Event)
	assert.Equal(t, int64(42), payload.UserID)
	assert.Equal(t, "monthly", payload.Plan)
	assert.Equal(t, "20.00", payload.Amount)
	assert.Equal(t, "2024-05-01T12:00:00Z", payload.Timestamp)
}

func TestWebhookNotifierRetries(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(callbackGateways(server.URL, ""))
	notifier.retryDelays = []time.Duration{time.Millisecond, time.Millisecond}

	require.NoError(t, notifier.Notify(context.Background(), testNotification()))
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestWebhookNotifierGivesUp(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(callbackGateways(server.URL, ""))
	notifier.retryDelays = []time.Duration{time.Millisecond}

	err := notifier.Notify(context.Background(), testNotification())
	assert.Error(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestWebhookNotifierSkipsTenantsWithoutCallback(t *testing.T) {
	notifier := NewWebhookNotifier(callbackGateways("", ""))
	assert.NoError(t, notifier.Notify(context.Background(), testNotification()))

	n := testNotification()
	n.BotName = "unknown"
	assert.NoError(t, notifier.Notify(context.Background(), n))
}

func TestTelegramNotifierMessagesOperatorAndPromoter(t *testing.T) {
	messenger := &fakeMessenger{}
	gateways := Gateways{
		"demo": {Tenant: models.Tenant{BotName: "demo", PromoterChatID: 777}, Messenger: messenger},
	}

	require.NoError(t, NewTelegramNotifier(gateways, 111).Notify(context.Background(), testNotification()))

	messages := messenger.Messages()
	require.Len(t, messages, 2)
	assert.Equal(t, int64(111), messages[0].chatID)
	assert.Equal(t, int64(777), messages[1].chatID)
	assert.Contains(t, messages[0].text, "New monthly subscription")
	assert.Contains(t, messages[0].text, "@alice (42)")
	assert.Contains(t, messages[0].text, "$20.00")

	n := testNotification()
	n.BotName = "missing"
	assert.Error(t, NewTelegramNotifier(gateways, 111).Notify(context.Background(), n))
}

type failingNotifier struct{ calls int32 }

func (f *failingNotifier) Notify(context.Context, Notification) error {
	atomic.AddInt32(&f.calls, 1)
	return assert.AnError
}

func TestFanOutContinuesPastFailures(t *testing.T) {
	failing := &failingNotifier{}
	recording := &fakeNotifier{}

	fanOut := NewFanOut(nil).Add("broken", failing).Add("ok", recording).Add("nil", nil)
	assert.Equal(t, 2, fanOut.Len())

	assert.NoError(t, fanOut.Notify(context.Background(), testNotification()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&failing.calls))
	assert.Len(t, recording.Sent(), 1)
}

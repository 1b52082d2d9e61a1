package services

import (
	"encoding/json"
	"testing"

	"membership-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func TestResolveSubscriptionID(t *testing.T) {
	tests := []struct {
		name      string
		eventType string
		payload   string
		want      string
		ok        bool
	}{
		{
			name:      "checkout session subscription",
			eventType: "checkout.session.completed",
			payload:   `{"id":"cs_1","object":"checkout.session","subscription":"sub_A"}`,
			want:      "sub_A",
			ok:        true,
		},
		{
			name:      "checkout without subscription",
			eventType: "checkout.session.completed",
			payload:   `{"id":"cs_1","object":"checkout.session","subscription":null}`,
		},
		{
			name:      "invoice top level subscription",
			eventType: "invoice.payment_succeeded",
			payload:   `{"id":"in_1","object":"invoice","subscription":"sub_T"}`,
			want:      "sub_T",
			ok:        true,
		},
		{
			name:      "invoice nested line item",
			eventType: "invoice.paid",
			payload:   `{"id":"in_9","object":"invoice","subscription":null,"lines":{"object":"list","data":[{"id":"il_1","subscription":"sub_X"}]}}`,
			want:      "sub_X",
			ok:        true,
		},
		{
			name:      "invoice without any subscription never yields its own id",
			eventType: "invoice.payment_succeeded",
			payload:   `{"id":"in_7","object":"invoice","lines":{"object":"list","data":[{"id":"il_2"}]}}`,
		},
		{
			name:      "subscription event uses its own id",
			eventType: "customer.subscription.updated",
			payload:   `{"id":"sub_U","object":"subscription","customer":"cus_1"}`,
			want:      "sub_U",
			ok:        true,
		},
		{
			name:      "generic id",
			eventType: "charge.succeeded",
			payload:   `{"id":"ch_1","object":"charge"}`,
			want:      "ch_1",
			ok:        true,
		},
		{
			name:      "generic expanded subscription",
			eventType: "payment_intent.succeeded",
			payload:   `{"subscription":{"id":"sub_G"}}`,
			want:      "sub_G",
			ok:        true,
		},
		{
			name:      "malformed payload",
			eventType: "invoice.paid",
			payload:   `[1,2`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveSubscriptionID(stripe.EventType(tt.eventType), json.RawMessage(tt.payload))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveCustomerID(t *testing.T) {
	id, ok := ResolveCustomerID(json.RawMessage(`{"customer":"cus_1"}`))
	assert.True(t, ok)
	assert.Equal(t, "cus_1", id)

	id, ok = ResolveCustomerID(json.RawMessage(`{"customer":{"id":"cus_2","object":"customer"}}`))
	assert.True(t, ok)
	assert.Equal(t, "cus_2", id)

	_, ok = ResolveCustomerID(json.RawMessage(`{"customer":null}`))
	assert.False(t, ok)
}

func TestParseCheckout(t *testing.T) {
	payload := json.RawMessage(`{
		"id": "cs_test",
		"object": "checkout.session",
		"amount_total": 2000,
		"customer": "cus_42",
		"subscription": "sub_42",
		"customer_details": {"email": "buyer@example.com"},
		"metadata": {"user_id": "42", "bot_name": "Demo", "plan": "monthly", "username": "alice"}
	}`)

	details, err := ParseCheckout(payload)
	require.NoError(t, err)

	assert.Equal(t, int64(42), details.UserID)
	assert.Equal(t, "demo", details.BotName)
	assert.Equal(t, models.PlanMonthly, details.Plan)
	assert.Equal(t, "alice", details.Username)
	assert.Equal(t, "buyer@example.com", details.Email)
	assert.Equal(t, "cus_42", details.CustomerID)
	assert.Equal(t, "sub_42", details.SubscriptionID)
	assert.Equal(t, "20", details.Amount.String())
}

func TestParseCheckoutFallsBackToCustomerEmail(t *testing.T) {
	details, err := ParseCheckout(json.RawMessage(`{
		"id": "cs_1", "customer_email": "fallback@example.com",
		"metadata": {"user_id": "7", "bot_name": "demo", "plan": "lifetime"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "fallback@example.com", details.Email)
	assert.True(t, details.Plan.IsLifetime())
}

func TestParseCheckoutMissingMetadata(t *testing.T) {
	cases := map[string]string{
		"no user":  `{"id":"cs_1","metadata":{"bot_name":"demo","plan":"monthly"}}`,
		"no bot":   `{"id":"cs_1","metadata":{"user_id":"1","plan":"monthly"}}`,
		"bad plan": `{"id":"cs_1","metadata":{"user_id":"1","bot_name":"demo","plan":"yearly"}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCheckout(json.RawMessage(payload))
			assert.ErrorIs(t, err, ErrMissingMetadata)
		})
	}
}

func TestParseInvoice(t *testing.T) {
	details, err := ParseInvoice(json.RawMessage(`{
		"id": "in_1", "object": "invoice", "amount_paid": 1999,
		"billing_reason": "subscription_cycle", "customer": "cus_9",
		"lines": {"object": "list", "data": [
			{"id": "il_1", "subscription": "sub_L", "period": {"start": 1714564800, "end": 1717243200}},
			{"id": "il_2", "period": {"start": 1714564800, "end": 1716000000}}
		]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, "sub_L", details.SubscriptionID)
	assert.Equal(t, "cus_9", details.CustomerID)
	assert.Equal(t, "subscription_cycle", details.BillingReason)
	assert.Equal(t, "19.99", details.Amount.StringFixed(2))
	assert.Equal(t, int64(1717243200), details.PeriodEnd)
}

func TestIsSignificantChange(t *testing.T) {
	assert.False(t, IsSignificantChange(ChangedFields(map[string]interface{}{"metadata": map[string]interface{}{}})))
	assert.False(t, IsSignificantChange(ChangedFields(nil)))
	assert.True(t, IsSignificantChange(ChangedFields(map[string]interface{}{"status": "trialing"})))
	assert.True(t, IsSignificantChange(ChangedFields(map[string]interface{}{
		"current_period_end": 1700000000,
		"latest_invoice":     "in_old",
	})))
}

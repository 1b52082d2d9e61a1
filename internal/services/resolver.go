package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"membership-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
)

// Stripe event types the reconciler acts on.
const (
	EventCheckoutCompleted       stripe.EventType = "checkout.session.completed"
	EventInvoicePaymentSucceeded stripe.EventType = "invoice.payment_succeeded"
	EventInvoicePaid             stripe.EventType = "invoice.paid"
	EventSubscriptionCreated     stripe.EventType = "customer.subscription.created"
	EventSubscriptionUpdated     stripe.EventType = "customer.subscription.updated"
)

// billingReasonSubscriptionCreate marks the first invoice of a subscription,
// which is already accounted for by the checkout event.
const billingReasonSubscriptionCreate = "subscription_create"

// ErrMissingMetadata is returned when a checkout session lacks the metadata
// the checkout flow is required to attach.
var ErrMissingMetadata = errors.New("checkout session is missing required metadata")

func isInvoicePaidEvent(t stripe.EventType) bool {
	return t == EventInvoicePaymentSucceeded || t == EventInvoicePaid
}

func isSubscriptionEvent(t stripe.EventType) bool {
	return strings.HasPrefix(string(t), "customer.subscription.")
}

// isCriticalEvent reports whether an event type carries revenue and must
// never be suppressed by the dedup cache.
func isCriticalEvent(t stripe.EventType) bool {
	return t == EventCheckoutCompleted || isInvoicePaidEvent(t)
}

// ResolveSubscriptionID maps an event payload to the subscription it concerns.
// An invoice's own id is never returned in place of a subscription id.
func ResolveSubscriptionID(eventType stripe.EventType, payload json.RawMessage) (string, bool) {
	switch {
	case eventType == EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(payload, &session); err != nil {
			return "", false
		}
		if session.Subscription != nil && session.Subscription.ID != "" {
			return session.Subscription.ID, true
		}
		return "", false

	case isInvoicePaidEvent(eventType):
		var invoice stripe.Invoice
		if err := json.Unmarshal(payload, &invoice); err != nil {
			return "", false
		}
		return invoiceSubscriptionID(&invoice)

	case isSubscriptionEvent(eventType):
		var sub stripe.Subscription
		if err := json.Unmarshal(payload, &sub); err != nil || sub.ID == "" {
			return "", false
		}
		return sub.ID, true
	}

	var generic struct {
		ID           string          `json:"id"`
		Subscription json.RawMessage `json:"subscription"`
	}
	if err := json.Unmarshal(payload, &generic); err != nil {
		return "", false
	}
	if generic.ID != "" {
		return generic.ID, true
	}
	if id := expandableID(generic.Subscription); id != "" {
		return id, true
	}
	return "", false
}

func invoiceSubscriptionID(invoice *stripe.Invoice) (string, bool) {
	if invoice.Subscription != nil && invoice.Subscription.ID != "" {
		return invoice.Subscription.ID, true
	}
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line != nil && line.Subscription != nil && line.Subscription.ID != "" {
				return line.Subscription.ID, true
			}
		}
	}
	return "", false
}

// ResolveCustomerID reads the customer reference of any payload, expanded
// or not.
func ResolveCustomerID(payload json.RawMessage) (string, bool) {
	var holder struct {
		Customer json.RawMessage `json:"customer"`
	}
	if err := json.Unmarshal(payload, &holder); err != nil {
		return "", false
	}
	id := expandableID(holder.Customer)
	return id, id != ""
}

// expandableID accepts either "obj_123" or {"id":"obj_123",...}.
func expandableID(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var id string
	if err := json.Unmarshal(raw, &id); err == nil {
		return id
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	return ""
}

// CheckoutDetails is what a completed checkout session says about a purchase.
type CheckoutDetails struct {
	SessionID      string
	UserID         int64
	BotName        string
	Plan           models.Plan
	Username       string
	Email          string
	CustomerID     string
	SubscriptionID string
	Amount         decimal.Decimal
}

// ParseCheckout extracts purchase details from a checkout session payload.
func ParseCheckout(payload json.RawMessage) (CheckoutDetails, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(payload, &session); err != nil {
		return CheckoutDetails{}, fmt.Errorf("failed to parse checkout session: %w", err)
	}

	details := CheckoutDetails{
		SessionID: session.ID,
		Amount:    models.CentsToAmount(session.AmountTotal),
		Username:  session.Metadata["username"],
		BotName:   strings.ToLower(strings.TrimSpace(session.Metadata["bot_name"])),
	}
	if session.Customer != nil {
		details.CustomerID = session.Customer.ID
	}
	if session.Subscription != nil {
		details.SubscriptionID = session.Subscription.ID
	}
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		details.Email = session.CustomerDetails.Email
	} else {
		details.Email = session.CustomerEmail
	}

	userID, err := strconv.ParseInt(strings.TrimSpace(session.Metadata["user_id"]), 10, 64)
	if err != nil || userID == 0 {
		return details, fmt.Errorf("%w: user_id=%q", ErrMissingMetadata, session.Metadata["user_id"])
	}
	details.UserID = userID

	if details.BotName == "" {
		return details, fmt.Errorf("%w: bot_name", ErrMissingMetadata)
	}

	plan, ok := models.ParsePlan(session.Metadata["plan"])
	if !ok {
		return details, fmt.Errorf("%w: plan=%q", ErrMissingMetadata, session.Metadata["plan"])
	}
	details.Plan = plan

	return details, nil
}

// InvoiceDetails is the subset of an invoice the reconciler reads.
type InvoiceDetails struct {
	InvoiceID      string
	SubscriptionID string
	CustomerID     string
	BillingReason  string
	Amount         decimal.Decimal
	// PeriodEnd is the latest line item period end, 0 when absent.
	PeriodEnd int64
}

// ParseInvoice extracts renewal details from an invoice payload.
func ParseInvoice(payload json.RawMessage) (InvoiceDetails, error) {
	var invoice stripe.Invoice
	if err := json.Unmarshal(payload, &invoice); err != nil {
		return InvoiceDetails{}, fmt.Errorf("failed to parse invoice: %w", err)
	}
	details := InvoiceDetails{
		InvoiceID:     invoice.ID,
		BillingReason: string(invoice.BillingReason),
		Amount:        models.CentsToAmount(invoice.AmountPaid),
	}
	details.SubscriptionID, _ = invoiceSubscriptionID(&invoice)
	if invoice.Customer != nil {
		details.CustomerID = invoice.Customer.ID
	}
	if invoice.Lines != nil {
		for _, line := range invoice.Lines.Data {
			if line != nil && line.Period != nil && line.Period.End > details.PeriodEnd {
				details.PeriodEnd = line.Period.End
			}
		}
	}
	return details, nil
}

// SubscriptionDetails is the subset of a subscription the reconciler reads.
type SubscriptionDetails struct {
	SubscriptionID   string
	CustomerID       string
	Status           string
	CurrentPeriodEnd int64
	CancelAt         int64
}

// ParseSubscription extracts lifecycle details from a subscription payload.
func ParseSubscription(payload json.RawMessage) (SubscriptionDetails, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(payload, &sub); err != nil {
		return SubscriptionDetails{}, fmt.Errorf("failed to parse subscription: %w", err)
	}
	details := SubscriptionDetails{
		SubscriptionID:   sub.ID,
		Status:           string(sub.Status),
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
		CancelAt:         sub.CancelAt,
	}
	if sub.Customer != nil {
		details.CustomerID = sub.Customer.ID
	}
	return details, nil
}

// significantFields are the subscription attributes whose change is worth
// telling the operator about.
var significantFields = map[string]struct{}{
	"items":                {},
	"current_period_start": {},
	"current_period_end":   {},
	"status":               {},
	"cancel_at":            {},
}

// ChangedFields lists the attribute names present in previous_attributes.
func ChangedFields(previous map[string]interface{}) map[string]struct{} {
	changed := make(map[string]struct{}, len(previous))
	for field := range previous {
		changed[field] = struct{}{}
	}
	return changed
}

// IsSignificantChange reports whether any changed field is significant.
func IsSignificantChange(changed map[string]struct{}) bool {
	for field := range changed {
		if _, ok := significantFields[field]; ok {
			return true
		}
	}
	return false
}

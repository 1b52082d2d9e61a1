package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"membership-api/internal/database"
	"membership-api/internal/models"
	"membership-api/pkg/logging"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrSignatureInvalid is returned when a webhook body does not match its
// Stripe-Signature header.
var ErrSignatureInvalid = errors.New("invalid stripe signature")

// Transition is the state change a webhook event caused.
type Transition string

const (
	TransitionNewSubscription    Transition = "NEW_SUBSCRIPTION"
	TransitionRenewal            Transition = "RENEWAL"
	TransitionUpdatedSignificant Transition = "SUBSCRIPTION_UPDATED_SIGNIFICANT"
	TransitionUpdatedMinor       Transition = "SUBSCRIPTION_UPDATED_MINOR"
	TransitionSubscriptionLinked Transition = "SUBSCRIPTION_LINKED"
	TransitionUnresolved         Transition = "UNRESOLVED"
	TransitionIgnored            Transition = "IGNORED"
	TransitionDuplicate          Transition = "DUPLICATE"
	TransitionFailed             Transition = "FAILED"
)

// Status values returned to Stripe in the acknowledgment body.
const (
	StatusSuccess          = "success"
	StatusSkippedDuplicate = "skipped_duplicate"
	StatusNoMember         = "no_member"
	StatusIgnored          = "ignored"
	StatusMinorUpdate      = "minor_update"
	StatusLinked           = "linked"
	StatusAcknowledged     = "acknowledged"
)

// MemberStore is the member persistence the reconciler needs.
type MemberStore interface {
	GetMember(ctx context.Context, userID int64, botName string) (*models.Member, error)
	UpsertMember(ctx context.Context, member *models.Member) error
	FindMemberBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Member, error)
	FindLatestMemberByCustomerID(ctx context.Context, customerID string) (*models.Member, error)
	LinkSubscription(ctx context.Context, userID int64, botName, subscriptionID string) (bool, error)
	ExtendExpiry(ctx context.Context, userID int64, botName string, until time.Time) (bool, error)
}

// ActionLedger is the append-only action log.
type ActionLedger interface {
	AppendLog(ctx context.Context, entry *models.ActionLog) error
}

// Result describes how one event was handled.
type Result struct {
	EventID    string
	EventType  string
	Transition Transition
	Status     string
	UserID     int64
	BotName    string
}

// Reconciler turns verified Stripe events into member state, ledger entries
// and post-commit side effects.
type Reconciler struct {
	members  MemberStore
	ledger   ActionLedger
	dedup    DedupCache
	gateways Gateways
	notifier Notifier
	metrics  *Metrics

	now               func() time.Time
	sideEffectTimeout time.Duration
	wg                sync.WaitGroup
}

// ReconcilerOption configures a Reconciler.
type ReconcilerOption func(*Reconciler)

// WithClock overrides the time source.
func WithClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

// WithSideEffectTimeout bounds each detached side effect.
func WithSideEffectTimeout(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.sideEffectTimeout = d
		}
	}
}

// WithMetrics records transitions and failures.
func WithMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// NewReconciler creates a reconciler. notifier may be nil.
func NewReconciler(members MemberStore, ledger ActionLedger, dedup DedupCache, gateways Gateways, notifier Notifier, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		members:           members,
		ledger:            ledger,
		dedup:             dedup,
		gateways:          gateways,
		notifier:          notifier,
		now:               time.Now,
		sideEffectTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// VerifyEvent checks the Stripe-Signature header and decodes the event.
func VerifyEvent(payload []byte, signatureHeader, secret string) (stripe.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return event, nil
}

// Reconcile handles one verified event. It never panics and never returns an
// error: failures are logged and reported as StatusAcknowledged.
func (r *Reconciler) Reconcile(ctx context.Context, event stripe.Event) (result Result) {
	result = Result{EventID: event.ID, EventType: string(event.Type)}

	defer func() {
		if rec := recover(); rec != nil {
			logging.Errorf("Panic while reconciling %s (%s): %v\n%s", event.ID, event.Type, rec, debug.Stack())
			result.Transition = TransitionFailed
			result.Status = StatusAcknowledged
		}
		r.metrics.observeTransition(result.EventType, result.Transition)
		logging.Infof("Reconciled %s (%s) - transition: %s, status: %s, user: %d, bot: %s",
			result.EventID, result.EventType, result.Transition, result.Status, result.UserID, result.BotName)
	}()

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return r.ignore(result)
	}

	var err error
	switch {
	case event.Type == EventCheckoutCompleted:
		err = r.handleCheckout(ctx, event, &result)
	case isInvoicePaidEvent(event.Type):
		err = r.handleInvoicePaid(ctx, event, &result)
	case event.Type == EventSubscriptionUpdated:
		err = r.handleSubscriptionUpdated(ctx, event, &result)
	case event.Type == EventSubscriptionCreated:
		err = r.handleSubscriptionCreated(ctx, event, &result)
	default:
		return r.ignore(result)
	}

	if err != nil {
		logging.Errorf("Failed to reconcile %s (%s) - user: %d, bot: %s, error: %v",
			event.ID, event.Type, result.UserID, result.BotName, err)
		result.Transition = TransitionFailed
		result.Status = StatusAcknowledged
	}
	return result
}

// Wait blocks until all detached side effects have finished.
func (r *Reconciler) Wait() {
	r.wg.Wait()
}

func (r *Reconciler) ignore(result Result) Result {
	result.Transition = TransitionIgnored
	result.Status = StatusIgnored
	return result
}

func (r *Reconciler) unresolved(result *Result, reason string) {
	logging.Warnf("Unresolved %s (%s): %s", result.EventID, result.EventType, reason)
	result.Transition = TransitionUnresolved
	result.Status = StatusNoMember
}

// duplicate reports whether a non-critical event's key was seen recently.
func (r *Reconciler) duplicate(ctx context.Context, eventType stripe.EventType, key string, result *Result) bool {
	if isCriticalEvent(eventType) || r.dedup == nil || key == "" {
		return false
	}
	if !r.dedup.SeenRecently(ctx, key) {
		return false
	}
	r.metrics.observeDuplicate()
	result.Transition = TransitionDuplicate
	result.Status = StatusSkippedDuplicate
	return true
}

func (r *Reconciler) markSeen(ctx context.Context, key string) {
	if r.dedup != nil && key != "" {
		r.dedup.Mark(ctx, key)
	}
}

func (r *Reconciler) handleCheckout(ctx context.Context, event stripe.Event, result *Result) error {
	details, err := ParseCheckout(event.Data.Raw)
	if err != nil {
		if errors.Is(err, ErrMissingMetadata) {
			r.unresolved(result, err.Error())
			return nil
		}
		return err
	}
	result.UserID = details.UserID
	result.BotName = details.BotName

	now := r.now().UTC()
	member := &models.Member{
		UserID:               details.UserID,
		BotName:              details.BotName,
		Username:             details.Username,
		Email:                details.Email,
		StripeCustomerID:     models.StringPtr(details.CustomerID),
		StripeSubscriptionID: models.StringPtr(details.SubscriptionID),
		IsLifetime:           details.Plan.IsLifetime(),
		Expiry:               details.Plan.ExpiryFrom(now),
		Active:               true,
	}
	if err := r.members.UpsertMember(ctx, member); err != nil {
		return err
	}

	entry := &models.ActionLog{
		UserID:    details.UserID,
		BotName:   details.BotName,
		Action:    models.PaymentAction(details.Plan),
		Amount:    details.Amount,
		Timestamp: now,
	}
	if err := r.ledger.AppendLog(ctx, entry); err != nil {
		r.metrics.observeSideEffectFailure("ledger")
		logging.Errorf("Failed to log checkout payment - user: %d, bot: %s, event: %s, error: %v",
			details.UserID, details.BotName, event.ID, err)
	}

	gw := r.gateways.Get(details.BotName)
	if gw != nil && !gw.Tenant.OffersPlan(details.Plan) {
		logging.Warnf("Tenant %s received a %s checkout but has no price configured for it", details.BotName, details.Plan)
	}

	notification := newNotification(NotificationNewSubscription, gw, member, now)
	notification.Plan = details.Plan
	notification.Amount = details.Amount

	r.dispatch(event, func(ctx context.Context) {
		r.grantAccess(ctx, gw, member, event)
		r.notify(ctx, notification)
	})

	result.Transition = TransitionNewSubscription
	result.Status = StatusSuccess
	return nil
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, event stripe.Event, result *Result) error {
	invoice, err := ParseInvoice(event.Data.Raw)
	if err != nil {
		return err
	}
	if invoice.BillingReason == billingReasonSubscriptionCreate {
		logging.Debugf("Ignoring initial invoice %s, covered by checkout", invoice.InvoiceID)
		*result = r.ignore(*result)
		return nil
	}

	member, err := r.findMember(ctx, invoice.SubscriptionID, invoice.CustomerID)
	if err != nil {
		return err
	}
	if member == nil {
		r.unresolved(result, fmt.Sprintf("no member for subscription %q / customer %q", invoice.SubscriptionID, invoice.CustomerID))
		return nil
	}
	result.UserID = member.UserID
	result.BotName = member.BotName

	now := r.now().UTC()
	entry := &models.ActionLog{
		UserID:    member.UserID,
		BotName:   member.BotName,
		Action:    models.ActionPaymentRenewal,
		Amount:    invoice.Amount,
		Timestamp: now,
	}
	if err := r.ledger.AppendLog(ctx, entry); err != nil {
		r.metrics.observeSideEffectFailure("ledger")
		logging.Errorf("Failed to log renewal - user: %d, bot: %s, event: %s, error: %v",
			member.UserID, member.BotName, event.ID, err)
	}

	if !member.IsLifetime {
		until := renewedExpiry(invoice, member, now)
		if _, err := r.members.ExtendExpiry(ctx, member.UserID, member.BotName, until); err != nil {
			r.metrics.observeSideEffectFailure("expiry")
			logging.Errorf("Failed to extend expiry - user: %d, bot: %s, event: %s, error: %v",
				member.UserID, member.BotName, event.ID, err)
		}
	}

	notification := newNotification(NotificationRenewal, r.gateways.Get(member.BotName), member, now)
	notification.Amount = invoice.Amount
	r.dispatch(event, func(ctx context.Context) {
		r.notify(ctx, notification)
	})

	result.Transition = TransitionRenewal
	result.Status = StatusSuccess
	return nil
}

// renewedExpiry is the paid-through time after a renewal invoice: the invoice
// line period end, or one monthly cycle past the later of now and the stored
// expiry when the invoice carries no period.
func renewedExpiry(invoice InvoiceDetails, member *models.Member, now time.Time) time.Time {
	if invoice.PeriodEnd > 0 {
		return time.Unix(invoice.PeriodEnd, 0).UTC()
	}
	base := now
	if member.Expiry != nil && member.Expiry.After(base) {
		base = *member.Expiry
	}
	return *models.PlanMonthly.ExpiryFrom(base)
}

func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, event stripe.Event, result *Result) error {
	sub, err := ParseSubscription(event.Data.Raw)
	if err != nil {
		return err
	}
	key, ok := ResolveSubscriptionID(event.Type, event.Data.Raw)
	if !ok {
		key = sub.CustomerID
	}
	if key == "" {
		r.unresolved(result, "subscription without id or customer")
		return nil
	}
	if r.duplicate(ctx, event.Type, key, result) {
		return nil
	}

	changed := ChangedFields(event.Data.PreviousAttributes)
	if !IsSignificantChange(changed) {
		result.Transition = TransitionUpdatedMinor
		result.Status = StatusMinorUpdate
		return nil
	}

	member, err := r.findMember(ctx, sub.SubscriptionID, sub.CustomerID)
	if err != nil {
		return err
	}
	if member == nil {
		r.unresolved(result, fmt.Sprintf("no member for subscription %q", sub.SubscriptionID))
		return nil
	}
	result.UserID = member.UserID
	result.BotName = member.BotName

	r.markSeen(ctx, key)

	label := "update"
	if _, ok := changed["current_period_end"]; ok {
		label = "renewal"
	}
	notification := newNotification(NotificationSubscriptionUpdate, r.gateways.Get(member.BotName), member, r.now().UTC())
	notification.Label = label
	r.dispatch(event, func(ctx context.Context) {
		r.notify(ctx, notification)
	})

	result.Transition = TransitionUpdatedSignificant
	result.Status = StatusSuccess
	return nil
}

// handleSubscriptionCreated records the subscription id on a member that
// was created from a checkout session without one.
func (r *Reconciler) handleSubscriptionCreated(ctx context.Context, event stripe.Event, result *Result) error {
	sub, err := ParseSubscription(event.Data.Raw)
	if err != nil {
		return err
	}
	if sub.SubscriptionID == "" {
		r.unresolved(result, "subscription without id")
		return nil
	}
	if r.duplicate(ctx, event.Type, sub.SubscriptionID, result) {
		return nil
	}

	member, err := r.findMember(ctx, sub.SubscriptionID, sub.CustomerID)
	if err != nil {
		return err
	}
	if member == nil {
		r.unresolved(result, fmt.Sprintf("no member for customer %q", sub.CustomerID))
		return nil
	}
	result.UserID = member.UserID
	result.BotName = member.BotName

	if member.SubscriptionID() != sub.SubscriptionID {
		if _, err := r.members.LinkSubscription(ctx, member.UserID, member.BotName, sub.SubscriptionID); err != nil {
			return err
		}
	}
	r.markSeen(ctx, sub.SubscriptionID)

	result.Transition = TransitionSubscriptionLinked
	result.Status = StatusLinked
	return nil
}

// findMember looks up by subscription id first, then by the customer's most
// recent member. A nil member with a nil error means no match.
func (r *Reconciler) findMember(ctx context.Context, subscriptionID, customerID string) (*models.Member, error) {
	if subscriptionID != "" {
		member, err := r.members.FindMemberBySubscriptionID(ctx, subscriptionID)
		if err == nil {
			return member, nil
		}
		if !errors.Is(err, database.ErrMemberNotFound) {
			return nil, err
		}
	}
	if customerID != "" {
		member, err := r.members.FindLatestMemberByCustomerID(ctx, customerID)
		if err == nil {
			return member, nil
		}
		if !errors.Is(err, database.ErrMemberNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// dispatch runs fn after the acknowledgment path, detached from the request
// context and bounded by the side effect timeout.
func (r *Reconciler) dispatch(event stripe.Event, fn func(ctx context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				r.metrics.observeSideEffectFailure("panic")
				logging.Errorf("Panic in side effect for %s (%s): %v", event.ID, event.Type, rec)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), r.sideEffectTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (r *Reconciler) grantAccess(ctx context.Context, gw *Gateway, member *models.Member, event stripe.Event) {
	if gw == nil || gw.Issuer == nil {
		r.metrics.observeSideEffectFailure("issue_entitlement")
		logging.Errorf("No channel gateway for bot %s, cannot issue invite - user: %d, event: %s",
			member.BotName, member.UserID, event.ID)
		return
	}

	link, validUntil, err := gw.Issuer.IssueEntitlement(ctx)
	if err != nil {
		r.metrics.observeSideEffectFailure("issue_entitlement")
		logging.Errorf("Failed to issue invite - user: %d, bot: %s, event: %s, error: %v",
			member.UserID, member.BotName, event.ID, err)
		return
	}

	if gw.Messenger == nil {
		return
	}
	text := fmt.Sprintf("✅ Payment received, welcome to %s!\n\n"+
		"Your personal invite link (single use, valid until %s):\n%s",
		gw.Tenant.Name(), validUntil, link)
	if err := gw.Messenger.SendMessage(ctx, member.UserID, text); err != nil {
		r.metrics.observeSideEffectFailure("send_invite")
		logging.Errorf("Failed to send invite - user: %d, bot: %s, event: %s, error: %v",
			member.UserID, member.BotName, event.ID, err)
	}
}

func (r *Reconciler) notify(ctx context.Context, n Notification) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, n); err != nil {
		r.metrics.observeSideEffectFailure("notify")
		logging.Errorf("Failed to notify %s - user: %d, bot: %s, error: %v", n.Kind, n.UserID, n.BotName, err)
	}
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"membership-api/internal/models"
	"membership-api/pkg/logging"

	"github.com/shopspring/decimal"
)

// NotificationKind names the business event an operator is told about.
type NotificationKind string

const (
	NotificationNewSubscription    NotificationKind = "new_subscription"
	NotificationRenewal            NotificationKind = "renewal"
	NotificationSubscriptionUpdate NotificationKind = "subscription_update"
)

// Notification is one operator-facing message about a member.
type Notification struct {
	Kind       NotificationKind
	BotName    string
	TenantName string
	UserID     int64
	Username   string
	Email      string
	Plan       models.Plan
	Amount     decimal.Decimal
	// Label is "renewal" or "update" for subscription updates.
	Label      string
	OccurredAt time.Time
}

// Notifier delivers a notification over one channel.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Text renders the notification for chat and plain-text email.
func (n Notification) Text() string {
	user := fmt.Sprintf("%d", n.UserID)
	if n.Username != "" && n.Username != models.UnknownValue {
		user = fmt.Sprintf("@%s (%d)", n.Username, n.UserID)
	}

	var b strings.Builder
	switch n.Kind {
	case NotificationNewSubscription:
		fmt.Fprintf(&b, "💰 New %s subscription\n", n.Plan)
	case NotificationRenewal:
		b.WriteString("🔄 Subscription renewed\n")
	default:
		fmt.Fprintf(&b, "ℹ️ Subscription %s\n", n.Label)
	}
	fmt.Fprintf(&b, "Bot: %s\n", n.TenantName)
	fmt.Fprintf(&b, "User: %s", user)
	if n.Email != "" && n.Email != models.UnknownValue {
		fmt.Fprintf(&b, "\nEmail: %s", n.Email)
	}
	if n.Amount.IsPositive() {
		fmt.Fprintf(&b, "\nAmount: $%s", n.Amount.StringFixed(2))
	}
	return b.String()
}

// Subject is a one-line summary used for email subjects.
func (n Notification) Subject() string {
	switch n.Kind {
	case NotificationNewSubscription:
		return fmt.Sprintf("[%s] New %s subscription", n.TenantName, n.Plan)
	case NotificationRenewal:
		return fmt.Sprintf("[%s] Subscription renewed", n.TenantName)
	default:
		return fmt.Sprintf("[%s] Subscription %s", n.TenantName, n.Label)
	}
}

// newNotification fills the member-derived fields of a notification.
func newNotification(kind NotificationKind, gw *Gateway, member *models.Member, now time.Time) Notification {
	n := Notification{
		Kind:       kind,
		BotName:    member.BotName,
		TenantName: member.BotName,
		UserID:     member.UserID,
		Username:   member.Username,
		Email:      member.Email,
		OccurredAt: now,
	}
	if gw != nil {
		n.TenantName = gw.Tenant.Name()
	}
	return n
}

// TelegramNotifier sends notifications to the operator and, when configured,
// the tenant's promoter through the tenant's own bot.
type TelegramNotifier struct {
	gateways    Gateways
	adminChatID int64
}

// NewTelegramNotifier creates a notifier that messages adminChatID.
func NewTelegramNotifier(gateways Gateways, adminChatID int64) *TelegramNotifier {
	return &TelegramNotifier{gateways: gateways, adminChatID: adminChatID}
}

func (t *TelegramNotifier) Notify(ctx context.Context, n Notification) error {
	gw := t.gateways.Get(n.BotName)
	if gw == nil || gw.Messenger == nil {
		return fmt.Errorf("no messenger for bot %s", n.BotName)
	}

	var errs []error
	text := n.Text()
	if t.adminChatID != 0 {
		if err := gw.Messenger.SendMessage(ctx, t.adminChatID, text); err != nil {
			errs = append(errs, err)
		}
	}
	if promoter := gw.Tenant.PromoterChatID; promoter != 0 && promoter != t.adminChatID {
		if err := gw.Messenger.SendMessage(ctx, promoter, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FanOut delivers every notification to all channels. A failing channel is
// logged and does not stop the others.
type FanOut struct {
	channels []namedNotifier
	metrics  *Metrics
}

type namedNotifier struct {
	name     string
	notifier Notifier
}

// NewFanOut creates an empty fan-out.
func NewFanOut(metrics *Metrics) *FanOut {
	return &FanOut{metrics: metrics}
}

// Add registers a channel under a name used in logs and metrics.
func (f *FanOut) Add(name string, n Notifier) *FanOut {
	if n != nil {
		f.channels = append(f.channels, namedNotifier{name: name, notifier: n})
	}
	return f
}

// Len returns the number of registered channels.
func (f *FanOut) Len() int {
	return len(f.channels)
}

func (f *FanOut) Notify(ctx context.Context, n Notification) error {
	for _, ch := range f.channels {
		err := ch.notifier.Notify(ctx, n)
		f.metrics.observeNotification(ch.name, err)
		if err != nil {
			logging.Errorf("Notification via %s failed - kind: %s, bot: %s, user: %d, error: %v",
				ch.name, n.Kind, n.BotName, n.UserID, err)
		}
	}
	return nil
}

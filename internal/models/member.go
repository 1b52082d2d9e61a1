package models

import (
	"strings"
	"time"
)

// UnknownValue marks display metadata the payment provider did not supply.
const UnknownValue = "unknown"

// Language is the member's presentation preference.
type Language string

const (
	LanguageEN Language = "EN"
	LanguageAR Language = "AR"
	LanguageES Language = "ES"
	LanguageCN Language = "CN"
)

// ParseLanguage maps free-form input onto a supported language, defaulting to EN.
func ParseLanguage(s string) Language {
	switch Language(strings.ToUpper(strings.TrimSpace(s))) {
	case LanguageAR:
		return LanguageAR
	case LanguageES:
		return LanguageES
	case LanguageCN:
		return LanguageCN
	default:
		return LanguageEN
	}
}

// Plan is a purchasable access plan.
type Plan string

const (
	PlanWeekly   Plan = "weekly"
	PlanMonthly  Plan = "monthly"
	PlanLifetime Plan = "lifetime"
)

// ParsePlan validates a plan name from checkout metadata.
func ParsePlan(s string) (Plan, bool) {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanWeekly, PlanMonthly, PlanLifetime:
		return p, true
	}
	return "", false
}

// IsLifetime reports whether the plan never expires.
func (p Plan) IsLifetime() bool {
	return p == PlanLifetime
}

// ExpiryFrom returns the access expiry for a purchase made at now,
// nil for lifetime plans.
func (p Plan) ExpiryFrom(now time.Time) *time.Time {
	var d time.Duration
	switch p {
	case PlanWeekly:
		d = 7 * 24 * time.Hour
	case PlanMonthly:
		d = 30 * 24 * time.Hour
	default:
		return nil
	}
	expiry := now.UTC().Add(d)
	return &expiry
}

// Member is one user's entitlement for one bot. (user_id, bot_name) is unique.
type Member struct {
	ID                   uint       `json:"id" gorm:"primaryKey"`
	UserID               int64      `json:"user_id" gorm:"not null;uniqueIndex:idx_members_user_bot,priority:1"`
	BotName              string     `json:"bot_name" gorm:"size:64;not null;uniqueIndex:idx_members_user_bot,priority:2;index"`
	Username             string     `json:"username" gorm:"size:255"`
	Email                string     `json:"email" gorm:"size:255"`
	StripeCustomerID     *string    `json:"stripe_customer_id,omitempty" gorm:"size:100;index"`
	StripeSubscriptionID *string    `json:"stripe_subscription_id,omitempty" gorm:"size:100;index"`
	IsLifetime           bool       `json:"is_lifetime" gorm:"not null"`
	Expiry               *time.Time `json:"expiry,omitempty" gorm:"index"`
	Active               bool       `json:"active" gorm:"not null;index"`
	Language             Language   `json:"language" gorm:"size:8;not null;default:'EN'"`
	CreatedAt            time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt            time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Member) TableName() string {
	return "members"
}

// HasAccess reports whether the member is entitled at the given instant.
func (m *Member) HasAccess(now time.Time) bool {
	if !m.Active {
		return false
	}
	if m.IsLifetime {
		return true
	}
	return m.Expiry != nil && m.Expiry.After(now)
}

// SubscriptionID returns the stored Stripe subscription id or "".
func (m *Member) SubscriptionID() string {
	if m.StripeSubscriptionID == nil {
		return ""
	}
	return *m.StripeSubscriptionID
}

// DisplayName is what operator messages show for the member.
func (m *Member) DisplayName() string {
	if m.Username != "" && m.Username != UnknownValue {
		return "@" + m.Username
	}
	return strconv64(m.UserID)
}

// StringPtr returns nil for empty strings so COALESCE merges keep old values.
func StringPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// OrUnknown substitutes the sentinel for empty display metadata.
func OrUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return UnknownValue
	}
	return strings.TrimSpace(s)
}

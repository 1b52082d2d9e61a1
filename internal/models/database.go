package models

import (
	"time"

	"gorm.io/gorm"
)

// BaseModel provides common fields for all database models
type BaseModel struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at" gorm:"index"`
}

// Tenant is one branded bot deployment. Everything that differs between bots
// (tokens, channel, prices, payment links) lives here as data.
type Tenant struct {
	BaseModel
	BotName     string `json:"bot_name" gorm:"uniqueIndex;size:64;not null"`
	DisplayName string `json:"display_name" gorm:"size:255"`
	BotToken    string `json:"-" gorm:"size:255"`
	IsActive    bool   `json:"is_active" gorm:"default:true"`

	// Gated channel and the optional promoter who gets copied on payments
	ChannelID      int64 `json:"channel_id"`
	PromoterChatID int64 `json:"promoter_chat_id"`

	// Stripe price ids per plan; an empty price disables the plan
	PriceWeekly   string `json:"price_weekly" gorm:"size:100"`
	PriceMonthly  string `json:"price_monthly" gorm:"size:100"`
	PriceLifetime string `json:"price_lifetime" gorm:"size:100"`

	// Alternative payment methods
	PayPalMonthlyURL  string `json:"paypal_monthly_url" gorm:"size:500"`
	PayPalLifetimeURL string `json:"paypal_lifetime_url" gorm:"size:500"`
	CryptoAddress     string `json:"crypto_address" gorm:"size:255"`

	WelcomeAssetURL string `json:"welcome_asset_url" gorm:"size:500"`
	PortalReturnURL string `json:"portal_return_url" gorm:"size:500"`

	// Tenant backend callback for membership events
	WebhookCallbackURL string `json:"webhook_callback_url" gorm:"type:varchar(500)"`
	WebhookSecret      string `json:"-" gorm:"type:varchar(255)"`
}

// TableName overrides the singular naming strategy
func (Tenant) TableName() string {
	return "tenants"
}

// OffersPlan reports whether the tenant sells the given plan.
func (t *Tenant) OffersPlan(plan Plan) bool {
	switch plan {
	case PlanWeekly:
		return t.PriceWeekly != ""
	case PlanMonthly:
		return t.PriceMonthly != "" || t.PayPalMonthlyURL != ""
	case PlanLifetime:
		return t.PriceLifetime != "" || t.PayPalLifetimeURL != ""
	}
	return false
}

// Name returns the display name, falling back to the bot name.
func (t *Tenant) Name() string {
	if t.DisplayName != "" {
		return t.DisplayName
	}
	return t.BotName
}

package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ActionStart          = "start"
	ActionPaymentPrefix  = "payment_stripe_"
	ActionPaymentRenewal = "payment_stripe_renewal"
)

// PaymentAction is the ledger tag for a first-time purchase of plan.
func PaymentAction(plan Plan) string {
	return ActionPaymentPrefix + string(plan)
}

// IsRenewalAction reports whether a ledger tag records a recurring charge.
func IsRenewalAction(action string) bool {
	return strings.HasPrefix(action, ActionPaymentRenewal)
}

// ActionLog is an append-only ledger row. Rows are never updated or deleted.
type ActionLog struct {
	ID        uint            `json:"id" gorm:"primaryKey"`
	UserID    int64           `json:"user_id" gorm:"not null;index"`
	BotName   string          `json:"bot_name" gorm:"size:64;not null;index"`
	Action    string          `json:"action" gorm:"size:64;not null;index"`
	Amount    decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null;default:0"`
	Timestamp time.Time       `json:"timestamp" gorm:"not null;index;autoCreateTime"`
}

func (ActionLog) TableName() string {
	return "action_logs"
}

// CentsToAmount converts a Stripe minor-unit amount into a decimal.
func CentsToAmount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

func strconv64(v int64) string {
	return strconv.FormatInt(v, 10)
}

// Transaction is a payment ledger row joined with member display data.
type Transaction struct {
	Timestamp   time.Time       `json:"timestamp"`
	Amount      decimal.Decimal `json:"amount"`
	Action      string          `json:"action"`
	PaymentType string          `json:"payment_type"`
	Email       string          `json:"email"`
	UserID      int64           `json:"telegram_user_id"`
	Username    string          `json:"telegram_username"`
	BotName     string          `json:"bot_name"`
}

// DailyStats summarises one bot's ledger since a cut-off.
type DailyStats struct {
	UniqueUsers int64           `json:"unique_users"`
	Revenue     decimal.Decimal `json:"revenue"`
}

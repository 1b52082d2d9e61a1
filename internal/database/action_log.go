package database

import (
	"context"
	"fmt"
	"time"

	"membership-api/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ActionLogRepository appends to and reads from the action ledger.
// There is intentionally no update or delete method.
type ActionLogRepository struct {
	db *gorm.DB
}

// NewActionLogRepository creates an action log repository backed by GORM.
func NewActionLogRepository(db *gorm.DB) *ActionLogRepository {
	return &ActionLogRepository{db: db}
}

// AppendLog records one user action or payment.
func (r *ActionLogRepository) AppendLog(ctx context.Context, entry *models.ActionLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append %s log for %d/%s: %w", entry.Action, entry.UserID, entry.BotName, err)
	}
	return nil
}

// DailyStats counts distinct users and sums payment revenue for a bot since
// the given instant.
func (r *ActionLogRepository) DailyStats(ctx context.Context, botName string, since time.Time) (models.DailyStats, error) {
	var stats models.DailyStats

	err := r.db.WithContext(ctx).
		Model(&models.ActionLog{}).
		Where("bot_name = ? AND timestamp >= ?", botName, since).
		Distinct("user_id").
		Count(&stats.UniqueUsers).Error
	if err != nil {
		return stats, fmt.Errorf("failed to count users: %w", err)
	}

	var revenue struct {
		Total decimal.NullDecimal
	}
	err = r.db.WithContext(ctx).
		Model(&models.ActionLog{}).
		Select("SUM(amount) AS total").
		Where("bot_name = ? AND timestamp >= ? AND action LIKE ?", botName, since, models.ActionPaymentPrefix+"%").
		Scan(&revenue).Error
	if err != nil {
		return stats, fmt.Errorf("failed to sum revenue: %w", err)
	}
	stats.Revenue = decimal.Zero
	if revenue.Total.Valid {
		stats.Revenue = revenue.Total.Decimal
	}

	return stats, nil
}

type transactionRow struct {
	Timestamp time.Time
	Amount    decimal.Decimal
	Action    string
	UserID    int64
	BotName   string
	Email     *string
	Username  *string
}

// ListTransactions returns payment rows, newest first, joined with the
// member's display data. An empty botName lists all bots.
func (r *ActionLogRepository) ListTransactions(ctx context.Context, botName string, limit int) ([]models.Transaction, error) {
	q := r.db.WithContext(ctx).
		Table("action_logs AS l").
		Select("l.timestamp, l.amount, l.action, l.user_id, l.bot_name, m.email, m.username").
		Joins("LEFT JOIN members m ON m.user_id = l.user_id AND m.bot_name = l.bot_name").
		Where("l.action LIKE ?", models.ActionPaymentPrefix+"%")
	if botName != "" {
		q = q.Where("l.bot_name = ?", botName)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}

	var rows []transactionRow
	if err := q.Order("l.timestamp DESC").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	transactions := make([]models.Transaction, 0, len(rows))
	for _, row := range rows {
		tx := models.Transaction{
			Timestamp:   row.Timestamp,
			Amount:      row.Amount,
			Action:      row.Action,
			PaymentType: "New",
			UserID:      row.UserID,
			BotName:     row.BotName,
		}
		if models.IsRenewalAction(row.Action) {
			tx.PaymentType = "Renewal"
		}
		if row.Email != nil && *row.Email != models.UnknownValue {
			tx.Email = *row.Email
		}
		if row.Username != nil {
			tx.Username = *row.Username
		}
		transactions = append(transactions, tx)
	}
	return transactions, nil
}

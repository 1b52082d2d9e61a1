package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"membership-api/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMemberNotFound is returned when no member row matches a lookup.
var ErrMemberNotFound = errors.New("member not found")

// MemberRepository is the durable store for (user_id, bot_name) entitlements.
type MemberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a member repository backed by GORM.
func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// GetMember loads one member by its composite key.
func (r *MemberRepository) GetMember(ctx context.Context, userID int64, botName string) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND bot_name = ?", userID, botName).
		First(&member).Error
	return found(&member, err)
}

// UpsertMember inserts the member or merges it into the existing row in one
// statement. The merge never downgrades a lifetime member, never clears a
// stored Stripe reference with an empty one, never replaces known display
// data with the "unknown" sentinel, and re-activates the member.
func (r *MemberRepository) UpsertMember(ctx context.Context, member *models.Member) error {
	member.Username = models.OrUnknown(member.Username)
	member.Email = models.OrUnknown(member.Email)
	if member.Language == "" {
		member.Language = models.LanguageEN
	}
	if member.IsLifetime {
		member.Expiry = nil
	}
	member.Active = true

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "bot_name"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"username":               gorm.Expr("CASE WHEN excluded.username = ? THEN members.username ELSE excluded.username END", models.UnknownValue),
			"email":                  gorm.Expr("CASE WHEN excluded.email = ? THEN members.email ELSE excluded.email END", models.UnknownValue),
			"stripe_customer_id":     gorm.Expr("COALESCE(excluded.stripe_customer_id, members.stripe_customer_id)"),
			"stripe_subscription_id": gorm.Expr("COALESCE(excluded.stripe_subscription_id, members.stripe_subscription_id)"),
			"is_lifetime":            gorm.Expr("members.is_lifetime OR excluded.is_lifetime"),
			"expiry":                 gorm.Expr("CASE WHEN members.is_lifetime OR excluded.is_lifetime THEN NULL ELSE excluded.expiry END"),
			"active":                 true,
			"updated_at":             gorm.Expr("excluded.updated_at"),
		}),
	}).Create(member).Error
	if err != nil {
		return fmt.Errorf("failed to upsert member %d/%s: %w", member.UserID, member.BotName, err)
	}

	// Reload so the caller sees the merged row, not what it asked for.
	return r.db.WithContext(ctx).
		Where("user_id = ? AND bot_name = ?", member.UserID, member.BotName).
		First(member).Error
}

// FindMemberBySubscriptionID resolves a Stripe subscription to its member.
func (r *MemberRepository) FindMemberBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", subscriptionID).
		Order("updated_at DESC").
		First(&member).Error
	return found(&member, err)
}

// FindLatestMemberByCustomerID returns the most recently touched member for a
// Stripe customer. A customer can hold several subscriptions over time.
func (r *MemberRepository) FindLatestMemberByCustomerID(ctx context.Context, customerID string) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", customerID).
		Order("updated_at DESC").
		Order("id DESC").
		First(&member).Error
	return found(&member, err)
}

// LinkSubscription attaches a subscription id to a member that has none yet.
// Entitlement fields are untouched. It reports whether a row changed.
func (r *MemberRepository) LinkSubscription(ctx context.Context, userID int64, botName, subscriptionID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("user_id = ? AND bot_name = ?", userID, botName).
		Where("stripe_subscription_id IS NULL OR stripe_subscription_id = ''").
		Updates(map[string]interface{}{
			"stripe_subscription_id": subscriptionID,
			"updated_at":             time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to link subscription %s to %d/%s: %w", subscriptionID, userID, botName, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ExtendExpiry moves a recurring member's expiry forward to until. It only
// writes the expiry column: lifetime members and expiries already at or past
// until are left alone, and the active flag is not touched.
func (r *MemberRepository) ExtendExpiry(ctx context.Context, userID int64, botName string, until time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("user_id = ? AND bot_name = ? AND is_lifetime = ?", userID, botName, false).
		Where("expiry IS NULL OR expiry < ?", until.UTC()).
		Updates(map[string]interface{}{
			"expiry":     until.UTC(),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to extend expiry of %d/%s: %w", userID, botName, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// ListMembers lists a bot's members, optionally only active ones.
func (r *MemberRepository) ListMembers(ctx context.Context, botName string, activeOnly bool) ([]models.Member, error) {
	var members []models.Member
	q := r.db.WithContext(ctx).Where("bot_name = ?", botName)
	if activeOnly {
		q = q.Where("active = ?", true)
	}
	err := q.Order("created_at DESC").Find(&members).Error
	return members, err
}

// ListExpiringBetween returns active, non-lifetime members of a bot whose
// expiry falls in (from, to].
func (r *MemberRepository) ListExpiringBetween(ctx context.Context, botName string, from, to time.Time) ([]models.Member, error) {
	var members []models.Member
	err := r.db.WithContext(ctx).
		Where("bot_name = ? AND active = ? AND is_lifetime = ?", botName, true, false).
		Where("expiry > ? AND expiry <= ?", from, to).
		Order("expiry ASC").
		Find(&members).Error
	return members, err
}

// ListLapsed returns active, non-lifetime members whose expiry is before now.
func (r *MemberRepository) ListLapsed(ctx context.Context, botName string, now time.Time) ([]models.Member, error) {
	var members []models.Member
	err := r.db.WithContext(ctx).
		Where("bot_name = ? AND active = ? AND is_lifetime = ?", botName, true, false).
		Where("expiry IS NOT NULL AND expiry < ?", now).
		Find(&members).Error
	return members, err
}

// Deactivate revokes a member's entitlement. It is the only path that sets
// active to false.
func (r *MemberRepository) Deactivate(ctx context.Context, userID int64, botName string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("user_id = ? AND bot_name = ?", userID, botName).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("failed to deactivate member %d/%s: %w", userID, botName, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func found(member *models.Member, err error) (*models.Member, error) {
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return member, nil
}

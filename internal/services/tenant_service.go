package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"membership-api/internal/models"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrTenantNotFound is returned when no tenant matches a bot name.
var ErrTenantNotFound = errors.New("tenant not found")

// TenantService provides tenant management operations
type TenantService struct {
	db *gorm.DB
}

// NewTenantService creates a new tenant service
func NewTenantService(db *gorm.DB) *TenantService {
	return &TenantService{db: db}
}

// GetTenant gets an active tenant by bot name
func (s *TenantService) GetTenant(ctx context.Context, botName string) (*models.Tenant, error) {
	var tenant models.Tenant
	result := s.db.WithContext(ctx).Where("bot_name = ? AND is_active = ?", normalizeBotName(botName), true).First(&tenant)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, result.Error
	}
	return &tenant, nil
}

// GetAllTenants gets all active tenants
func (s *TenantService) GetAllTenants(ctx context.Context) ([]models.Tenant, error) {
	var tenants []models.Tenant
	result := s.db.WithContext(ctx).Where("is_active = ?", true).Order("bot_name").Find(&tenants)
	if result.Error != nil {
		return nil, result.Error
	}
	return tenants, nil
}

// CreateTenant creates a new tenant
func (s *TenantService) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	tenant.BotName = normalizeBotName(tenant.BotName)
	if tenant.BotName == "" {
		return fmt.Errorf("bot_name is required")
	}

	var existing models.Tenant
	result := s.db.WithContext(ctx).Unscoped().Where("bot_name = ?", tenant.BotName).First(&existing)
	if result.Error == nil {
		return fmt.Errorf("tenant %s already exists", tenant.BotName)
	}

	tenant.IsActive = true
	if err := s.db.WithContext(ctx).Create(tenant).Error; err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// UpdateTenant updates an existing tenant
func (s *TenantService) UpdateTenant(ctx context.Context, botName string, updates map[string]interface{}) error {
	delete(updates, "bot_name")
	delete(updates, "id")

	result := s.db.WithContext(ctx).Model(&models.Tenant{}).Where("bot_name = ?", normalizeBotName(botName)).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update tenant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// DeleteTenant soft deletes a tenant. Its members and ledger rows are kept.
func (s *TenantService) DeleteTenant(ctx context.Context, botName string) error {
	result := s.db.WithContext(ctx).Where("bot_name = ?", normalizeBotName(botName)).Delete(&models.Tenant{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete tenant: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrTenantNotFound
	}
	return nil
}

// GetTenantStats gets membership and revenue statistics for a tenant
func (s *TenantService) GetTenantStats(ctx context.Context, botName string, now time.Time) (map[string]interface{}, error) {
	botName = normalizeBotName(botName)
	stats := make(map[string]interface{})
	db := s.db.WithContext(ctx)

	var totalMembers, activeMembers, lifetimeMembers int64
	if err := db.Model(&models.Member{}).Where("bot_name = ?", botName).Count(&totalMembers).Error; err != nil {
		return nil, err
	}
	db.Model(&models.Member{}).Where("bot_name = ? AND active = ?", botName, true).Count(&activeMembers)
	db.Model(&models.Member{}).Where("bot_name = ? AND is_lifetime = ?", botName, true).Count(&lifetimeMembers)
	stats["members_total"] = totalMembers
	stats["members_active"] = activeMembers
	stats["members_lifetime"] = lifetimeMembers

	today := now.UTC().Truncate(24 * time.Hour)
	monthStart := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)

	stats["revenue_today"] = s.revenueSince(ctx, botName, today).StringFixed(2)
	stats["revenue_this_month"] = s.revenueSince(ctx, botName, monthStart).StringFixed(2)

	return stats, nil
}

func (s *TenantService) revenueSince(ctx context.Context, botName string, since time.Time) decimal.Decimal {
	var row struct {
		Total decimal.NullDecimal
	}
	s.db.WithContext(ctx).Model(&models.ActionLog{}).
		Select("SUM(amount) AS total").
		Where("bot_name = ? AND timestamp >= ? AND action LIKE ?", botName, since, models.ActionPaymentPrefix+"%").
		Scan(&row)
	if !row.Total.Valid {
		return decimal.Zero
	}
	return row.Total.Decimal
}

func normalizeBotName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

package database

import (
	"context"
	"testing"
	"time"

	"membership-api/internal/config"
	"membership-api/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDailyStats(t *testing.T) {
	ctx := context.Background()
	repo := NewActionLogRepository(newTestDB(t))

	midnight := time.Now().UTC().Truncate(24 * time.Hour)
	entries := []models.ActionLog{
		{UserID: 1, BotName: "demo", Action: models.ActionStart, Timestamp: midnight.Add(time.Hour)},
		{UserID: 1, BotName: "demo", Action: models.PaymentAction(models.PlanMonthly), Amount: models.CentsToAmount(2000), Timestamp: midnight.Add(2 * time.Hour)},
		{UserID: 2, BotName: "demo", Action: models.ActionPaymentRenewal, Amount: models.CentsToAmount(1999), Timestamp: midnight.Add(3 * time.Hour)},
		{UserID: 3, BotName: "demo", Action: models.PaymentAction(models.PlanWeekly), Amount: models.CentsToAmount(500), Timestamp: midnight.Add(-time.Hour)},
		{UserID: 4, BotName: "other", Action: models.PaymentAction(models.PlanLifetime), Amount: models.CentsToAmount(9900), Timestamp: midnight.Add(time.Hour)},
	}
	for i := range entries {
		require.NoError(t, repo.AppendLog(ctx, &entries[i]))
	}

	stats, err := repo.DailyStats(ctx, "demo", midnight)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.UniqueUsers)
	assert.True(t, decimal.RequireFromString("39.99").Equal(stats.Revenue), "got %s", stats.Revenue)

	empty, err := repo.DailyStats(ctx, "nobody", midnight)
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.UniqueUsers)
	assert.True(t, empty.Revenue.IsZero())
}

func TestAppendLogDefaultsTimestamp(t *testing.T) {
	ctx := context.Background()
	repo := NewActionLogRepository(newTestDB(t))

	entry := &models.ActionLog{UserID: 1, BotName: "demo", Action: models.ActionStart}
	require.NoError(t, repo.AppendLog(ctx, entry))
	assert.False(t, entry.Timestamp.IsZero())
	assert.NotZero(t, entry.ID)
}

func TestListTransactions(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	members := NewMemberRepository(db)
	repo := NewActionLogRepository(db)

	require.NoError(t, members.UpsertMember(ctx, &models.Member{UserID: 1, BotName: "demo", Username: "alice", Email: "alice@example.com"}))
	require.NoError(t, members.UpsertMember(ctx, &models.Member{UserID: 2, BotName: "demo"}))

	base := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.AppendLog(ctx, &models.ActionLog{UserID: 1, BotName: "demo", Action: models.PaymentAction(models.PlanMonthly), Amount: models.CentsToAmount(2000), Timestamp: base}))
	require.NoError(t, repo.AppendLog(ctx, &models.ActionLog{UserID: 2, BotName: "demo", Action: models.ActionPaymentRenewal, Amount: models.CentsToAmount(2000), Timestamp: base.Add(time.Minute)}))
	require.NoError(t, repo.AppendLog(ctx, &models.ActionLog{UserID: 1, BotName: "demo", Action: models.ActionStart, Timestamp: base.Add(2 * time.Minute)}))

	txs, err := repo.ListTransactions(ctx, "demo", 10)
	require.NoError(t, err)
	require.Len(t, txs, 2)

	assert.Equal(t, int64(2), txs[0].UserID)
	assert.Equal(t, "Renewal", txs[0].PaymentType)
	assert.Empty(t, txs[0].Email, "unknown email is not exported")

	assert.Equal(t, int64(1), txs[1].UserID)
	assert.Equal(t, "New", txs[1].PaymentType)
	assert.Equal(t, "alice@example.com", txs[1].Email)
	assert.Equal(t, "alice", txs[1].Username)

	all, err := repo.ListTransactions(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSeedTenantsUpdatesExisting(t *testing.T) {
	db := newTestDB(t)

	declared := []config.TenantConfig{{BotName: "demo", DisplayName: "Demo", BotToken: "123:abc", ChannelID: -100}}
	require.NoError(t, SeedTenants(db, declared))

	declared[0].DisplayName = "Demo Premium"
	declared[0].PriceMonthly = "price_monthly"
	require.NoError(t, SeedTenants(db, declared))

	var tenants []models.Tenant
	require.NoError(t, db.Find(&tenants).Error)
	require.Len(t, tenants, 1)
	assert.Equal(t, "Demo Premium", tenants[0].DisplayName)
	assert.Equal(t, "price_monthly", tenants[0].PriceMonthly)
	assert.Equal(t, int64(-100), tenants[0].ChannelID)
	assert.True(t, tenants[0].IsActive)
}

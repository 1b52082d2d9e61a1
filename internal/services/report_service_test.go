package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"membership-api/internal/database"
	"membership-api/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportFixture struct {
	members   *database.MemberRepository
	ledger    *database.ActionLogRepository
	messenger *fakeMessenger
	gateways  Gateways
	service   *ReportService
	now       time.Time
}

func newReportFixture(t *testing.T, adminChatID int64) *reportFixture {
	t.Helper()
	db := newTestDB(t)
	f := &reportFixture{
		members:   database.NewMemberRepository(db),
		ledger:    database.NewActionLogRepository(db),
		messenger: &fakeMessenger{},
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.gateways = Gateways{
		"demo": {
			Tenant:    models.Tenant{BotName: "demo", DisplayName: "Demo Club"},
			Messenger: f.messenger,
			Channel:   f.messenger,
		},
	}
	f.service = NewReportService(f.members, f.ledger, f.gateways, adminChatID, 3)
	f.service.now = func() time.Time { return f.now }
	return f
}

func (f *reportFixture) seed(t *testing.T, userID int64, username string, expiry time.Time) {
	t.Helper()
	require.NoError(t, f.members.UpsertMember(context.Background(), &models.Member{
		UserID: userID, BotName: "demo", Username: username, Expiry: &expiry,
	}))
}

func TestDailyReport(t *testing.T) {
	f := newReportFixture(t, 111)
	ctx := context.Background()

	f.seed(t, 1, "alice", f.now.Add(49*time.Hour))
	f.seed(t, 2, "", f.now.Add(6*time.Hour))
	f.seed(t, 3, "carol", f.now.Add(10*24*time.Hour))
	require.NoError(t, f.ledger.AppendLog(ctx, &models.ActionLog{
		UserID: 1, BotName: "demo", Action: models.PaymentAction(models.PlanMonthly),
		Amount: models.CentsToAmount(2000), Timestamp: f.now.Add(-2 * time.Hour),
	}))

	report, err := f.service.DailyReport(ctx, f.gateways["demo"])
	require.NoError(t, err)

	assert.Contains(t, report, "Daily Report - May 01 (Demo Club)")
	assert.Contains(t, report, "• @alice - 3 days left")
	assert.Contains(t, report, "• 2 - expires today")
	assert.NotContains(t, report, "carol")
	assert.Contains(t, report, "Unique users: 1")
	assert.Contains(t, report, "Revenue today: $20.00")
	assert.Less(t, strings.Index(report, "• 2 -"), strings.Index(report, "• @alice"), "soonest expiry first")
}

func TestDailyReportWithoutExpirations(t *testing.T) {
	f := newReportFixture(t, 111)

	report, err := f.service.DailyReport(context.Background(), f.gateways["demo"])
	require.NoError(t, err)
	assert.Contains(t, report, "No upcoming expirations")
	assert.Contains(t, report, "Revenue today: $0.00")
}

func TestDaysLeftRoundsUp(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.True(t, sameDay(now.Add(11*time.Hour), now))
	assert.False(t, sameDay(now.Add(13*time.Hour), now), "23 hours left crosses midnight")
	assert.Equal(t, 1, daysLeft(now.Add(13*time.Hour), now))
	assert.Equal(t, 2, daysLeft(now.Add(25*time.Hour), now))
	assert.Equal(t, 3, daysLeft(now.Add(49*time.Hour), now))
	assert.Equal(t, 2, daysLeft(now.Add(48*time.Hour), now))
}

func TestSendDailyReports(t *testing.T) {
	f := newReportFixture(t, 111)
	require.NoError(t, f.service.SendDailyReports(context.Background()))

	messages := f.messenger.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, int64(111), messages[0].chatID)
	assert.Contains(t, messages[0].text, "Daily Report")

	unconfigured := newReportFixture(t, 0)
	assert.Error(t, unconfigured.service.SendDailyReports(context.Background()))
}

func TestSweepExpired(t *testing.T) {
	f := newReportFixture(t, 111)
	ctx := context.Background()

	f.seed(t, 1, "alice", f.now.Add(-time.Hour))
	f.seed(t, 2, "bob", f.now.Add(time.Hour))
	require.NoError(t, f.members.UpsertMember(ctx, &models.Member{UserID: 3, BotName: "demo", IsLifetime: true}))

	swept, err := f.service.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	alice, err := f.members.GetMember(ctx, 1, "demo")
	require.NoError(t, err)
	assert.False(t, alice.Active)

	bob, err := f.members.GetMember(ctx, 2, "demo")
	require.NoError(t, err)
	assert.True(t, bob.Active)

	assert.Equal(t, []int64{1}, f.messenger.removed)

	swept, err = f.service.SweepExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, swept)
}

func TestRevoke(t *testing.T) {
	f := newReportFixture(t, 111)
	ctx := context.Background()
	f.seed(t, 1, "alice", f.now.Add(24*time.Hour))

	require.NoError(t, f.service.Revoke(ctx, 1, "demo"))
	assert.Equal(t, []int64{1}, f.messenger.removed)

	assert.ErrorIs(t, f.service.Revoke(ctx, 99, "demo"), database.ErrMemberNotFound)
}

func TestUntilNextRun(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, 30*time.Minute, untilNextRun(now, 9))
	assert.Equal(t, 23*time.Hour+30*time.Minute, untilNextRun(now, 8))
	assert.Equal(t, 24*time.Hour, untilNextRun(time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC), 9))
}

package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"membership-api/internal/database"
	"membership-api/pkg/logging"
)

// ReportService builds the operator's daily report and revokes lapsed members.
type ReportService struct {
	members     *database.MemberRepository
	ledger      *database.ActionLogRepository
	gateways    Gateways
	adminChatID int64
	warnDays    int
	now         func() time.Time
}

// NewReportService creates a report service.
func NewReportService(members *database.MemberRepository, ledger *database.ActionLogRepository, gateways Gateways, adminChatID int64, warnDays int) *ReportService {
	if warnDays <= 0 {
		warnDays = 3
	}
	return &ReportService{
		members:     members,
		ledger:      ledger,
		gateways:    gateways,
		adminChatID: adminChatID,
		warnDays:    warnDays,
		now:         time.Now,
	}
}

// DailyReport renders a bot's report: members expiring within the warning
// window, unique users since midnight UTC and today's revenue. Members whose
// expiry falls on today's UTC date "expire today"; the rest show the days
// left rounded up, so 25 hours left reads as 2 days.
func (s *ReportService) DailyReport(ctx context.Context, gw *Gateway) (string, error) {
	now := s.now().UTC()
	midnight := now.Truncate(24 * time.Hour)
	botName := gw.Tenant.BotName

	expiring, err := s.members.ListExpiringBetween(ctx, botName, now, now.Add(time.Duration(s.warnDays)*24*time.Hour))
	if err != nil {
		return "", fmt.Errorf("failed to list expiring members: %w", err)
	}
	stats, err := s.ledger.DailyStats(ctx, botName, midnight)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 Daily Report - %s (%s)\n\n", now.Format("Jan 02"), gw.Tenant.Name())

	if len(expiring) == 0 {
		b.WriteString("✅ No upcoming expirations\n")
	} else {
		b.WriteString("🚨 Expiring Soon\n")
		for i := range expiring {
			m := &expiring[i]
			if sameDay(*m.Expiry, now) {
				fmt.Fprintf(&b, "• %s - expires today\n", m.DisplayName())
			} else {
				fmt.Fprintf(&b, "• %s - %d days left\n", m.DisplayName(), daysLeft(*m.Expiry, now))
			}
		}
	}

	fmt.Fprintf(&b, "\n👥 Unique users: %d\n", stats.UniqueUsers)
	fmt.Fprintf(&b, "💰 Revenue today: $%s", stats.Revenue.StringFixed(2))
	return b.String(), nil
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func daysLeft(expiry, now time.Time) int {
	return int(math.Ceil(expiry.Sub(now).Hours() / 24))
}

// SendDailyReports sends every tenant's report to the operator.
func (s *ReportService) SendDailyReports(ctx context.Context) error {
	if s.adminChatID == 0 {
		return errors.New("admin user id is not configured")
	}

	var errs []error
	for botName, gw := range s.gateways {
		report, err := s.DailyReport(ctx, gw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", botName, err))
			continue
		}
		if gw.Messenger == nil {
			logging.Warnf("Skipping daily report for %s, bot not connected", botName)
			continue
		}
		if err := gw.Messenger.SendMessage(ctx, s.adminChatID, report); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", botName, err))
		}
	}
	return errors.Join(errs...)
}

// SweepExpired deactivates members whose expiry has passed and removes them
// from the channel. It returns how many members were deactivated.
func (s *ReportService) SweepExpired(ctx context.Context) (int, error) {
	now := s.now().UTC()
	swept := 0

	var errs []error
	for botName, gw := range s.gateways {
		lapsed, err := s.members.ListLapsed(ctx, botName, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", botName, err))
			continue
		}
		for _, m := range lapsed {
			if err := s.members.Deactivate(ctx, m.UserID, botName); err != nil {
				errs = append(errs, err)
				continue
			}
			swept++
			logging.Infof("Deactivated lapsed member %d/%s (expired %s)", m.UserID, botName, m.Expiry.Format(time.RFC3339))

			if gw.Channel == nil {
				continue
			}
			if err := gw.Channel.RemoveFromChannel(ctx, m.UserID); err != nil {
				logging.Errorf("Failed to remove %d from %s channel: %v", m.UserID, botName, err)
			}
		}
	}
	return swept, errors.Join(errs...)
}

// Revoke deactivates one member and removes them from the channel.
func (s *ReportService) Revoke(ctx context.Context, userID int64, botName string) error {
	if err := s.members.Deactivate(ctx, userID, botName); err != nil {
		return err
	}
	if gw := s.gateways.Get(botName); gw != nil && gw.Channel != nil {
		if err := gw.Channel.RemoveFromChannel(ctx, userID); err != nil {
			logging.Errorf("Failed to remove %d from %s channel: %v", userID, botName, err)
		}
	}
	return nil
}

// RunDaily runs the sweep and the reports once a day at hourUTC until ctx
// is cancelled.
func (s *ReportService) RunDaily(ctx context.Context, hourUTC int) {
	for {
		wait := untilNextRun(s.now().UTC(), hourUTC)
		logging.Infof("Next daily report in %s", wait.Round(time.Minute))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		runCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		if n, err := s.SweepExpired(runCtx); err != nil {
			logging.Errorf("Expiry sweep finished with errors (%d deactivated): %v", n, err)
		} else {
			logging.Infof("Expiry sweep deactivated %d members", n)
		}
		if err := s.SendDailyReports(runCtx); err != nil {
			logging.Errorf("Daily report failed: %v", err)
		}
		cancel()
	}
}

// untilNextRun returns the delay until the next hourUTC:00.
func untilNextRun(now time.Time, hourUTC int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hourUTC, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}

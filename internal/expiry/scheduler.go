// Package expiry периодически сжигает просроченные баллы и напоминает о скором сгорании.
package expiry

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/alert"
	"github.com/mmeshcher/keyloyalty/internal/ledger"
	"github.com/mmeshcher/keyloyalty/internal/model"
)

// Store ищет пользователей по сроку действия баллов.
type Store interface {
	ListExpiredCustomers(ctx context.Context, now time.Time) ([]model.CustomerLoyalty, error)
	ListCustomersExpiringBetween(ctx context.Context, from, to time.Time) ([]model.CustomerLoyalty, error)
}

// Ledger обнуляет просроченный баланс.
type Ledger interface {
	Expire(ctx context.Context, userID string) (int64, ledger.Change, error)
}

// Accounts возвращает счета пользователя для адресации уведомлений.
type Accounts interface {
	AccountsFor(ctx context.Context, userID string) ([]string, error)
}

// Alerts создаёт уведомления.
type Alerts interface {
	Raise(ctx context.Context, userID, accountNumber string, typ model.AlertType, pts int64, message string) model.Alert
}

// SweepStats содержит итоги одного прохода.
type SweepStats struct {
	Expired       int
	PointsExpired int64
	Reminded      int
	Failed        int
}

// Scheduler выполняет проходы сгорания баллов.
type Scheduler struct {
	store        Store
	ledger       Ledger
	accounts     Accounts
	alerts       Alerts
	interval     time.Duration
	reminderDays []int
	logger       *zap.Logger
	now          func() time.Time
}

// NewScheduler создаёт Scheduler.
func NewScheduler(store Store, l Ledger, accounts Accounts, alerts Alerts, interval time.Duration, reminderDays []int, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:        store,
		ledger:       l,
		accounts:     accounts,
		alerts:       alerts,
		interval:     interval,
		reminderDays: reminderDays,
		logger:       logger,
		now:          time.Now,
	}
}

// Run выполняет проход сразу и затем с интервалом до отмены ctx.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("points expiry scheduler started", zap.Duration("interval", s.interval))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Sweep(context.WithoutCancel(ctx))

		select {
		case <-ctx.Done():
			s.logger.Info("points expiry scheduler stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep сжигает просроченные баллы и рассылает напоминания.
// Ошибка по одному пользователю не прерывает проход.
func (s *Scheduler) Sweep(ctx context.Context) SweepStats {
	var stats SweepStats
	now := s.now().UTC()

	s.expire(ctx, now, &stats)
	s.remind(ctx, now, &stats)

	if stats.Expired > 0 || stats.Reminded > 0 || stats.Failed > 0 {
		s.logger.Info("expiry sweep finished",
			zap.Int("expired_customers", stats.Expired),
			zap.Int64("points_expired", stats.PointsExpired),
			zap.Int("reminded", stats.Reminded),
			zap.Int("failed", stats.Failed),
		)
	}
	return stats
}

func (s *Scheduler) expire(ctx context.Context, now time.Time, stats *SweepStats) {
	customers, err := s.store.ListExpiredCustomers(ctx, now)
	if err != nil {
		stats.Failed++
		s.logger.Error("list expired customers failed", zap.Error(err))
		return
	}

	for _, c := range customers {
		expired, _, err := s.ledger.Expire(ctx, c.UserID)
		if err != nil {
			stats.Failed++
			s.logger.Error("expire points failed", zap.String("user_id", c.UserID), zap.Error(err))
			continue
		}
		if expired == 0 {
			continue
		}

		stats.Expired++
		stats.PointsExpired += expired
		s.logger.Info("loyalty points expired",
			zap.String("user_id", c.UserID),
			zap.Int64("points", expired),
		)
		s.alerts.Raise(ctx, c.UserID, s.accountFor(ctx, c.UserID), model.AlertExpired, expired, alert.ExpiredMessage(expired))
	}
}

func (s *Scheduler) remind(ctx context.Context, now time.Time, stats *SweepStats) {
	today := now.Truncate(24 * time.Hour)

	for _, days := range s.reminderDays {
		from := today.AddDate(0, 0, days)
		customers, err := s.store.ListCustomersExpiringBetween(ctx, from, from.AddDate(0, 0, 1))
		if err != nil {
			stats.Failed++
			s.logger.Error("list expiring customers failed", zap.Int("days", days), zap.Error(err))
			continue
		}

		for _, c := range customers {
			stats.Reminded++
			s.alerts.Raise(ctx, c.UserID, s.accountFor(ctx, c.UserID), model.AlertExpiryReminder, c.TotalPoints, alert.ReminderMessage(c.TotalPoints, days))
		}
	}
}

func (s *Scheduler) accountFor(ctx context.Context, userID string) string {
	if s.accounts == nil {
		return userID
	}
	accounts, err := s.accounts.AccountsFor(ctx, userID)
	if err != nil || len(accounts) == 0 {
		return userID
	}
	return accounts[0]
}

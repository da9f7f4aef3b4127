// Package alert создаёт, сохраняет и рассылает уведомления о событиях лояльности.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

// Store сохраняет уведомления.
type Store interface {
	InsertAlert(ctx context.Context, a model.Alert) error
}

// Publisher рассылает уведомления во внешние системы.
type Publisher interface {
	Publish(ctx context.Context, a model.Alert) error
}

// Service создаёт уведомления. Ошибки записи и рассылки только логируются.
type Service struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// NewService создаёт Service; publisher может быть nil.
func NewService(store Store, publisher Publisher, logger *zap.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// Raise создаёт уведомление для пользователя.
func (s *Service) Raise(ctx context.Context, userID, accountNumber string, typ model.AlertType, pts int64, message string) model.Alert {
	a := model.Alert{
		ID:            uuid.New(),
		UserID:        userID,
		AccountNumber: accountNumber,
		Type:          typ,
		Message:       message,
		Points:        pts,
		CreatedDate:   s.now().UTC(),
	}

	if err := s.store.InsertAlert(ctx, a); err != nil {
		s.logger.Warn("alert not stored",
			zap.String("user_id", userID),
			zap.String("alert_type", string(typ)),
			zap.Error(err),
		)
	}

	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, a); err != nil {
			s.logger.Warn("alert not published",
				zap.String("user_id", userID),
				zap.String("alert_type", string(typ)),
				zap.Error(err),
			)
		}
	}

	s.logger.Info("alert raised",
		zap.String("user_id", userID),
		zap.String("alert_type", string(typ)),
		zap.Int64("points", pts),
	)

	return a
}

// EarnedMessage формирует текст уведомления о начислении.
func EarnedMessage(pts int64, t model.TransactionType) string {
	return fmt.Sprintf("You earned %d loyalty points on your %s transaction", pts, label(t))
}

// TierUpgradeMessage формирует текст уведомления о повышении уровня.
func TierUpgradeMessage(tier model.Tier) string {
	return fmt.Sprintf("Congratulations! You have been upgraded to %s tier", tier)
}

// ExpiredMessage формирует текст уведомления о сгорании баллов.
func ExpiredMessage(pts int64) string {
	return fmt.Sprintf("%d loyalty points have expired", pts)
}

// ReminderMessage формирует текст напоминания о скором сгорании баллов.
func ReminderMessage(pts int64, days int) string {
	if days == 1 {
		return fmt.Sprintf("%d loyalty points will expire tomorrow", pts)
	}
	return fmt.Sprintf("%d loyalty points will expire in %d days", pts, days)
}

// RedeemedMessage формирует текст уведомления о погашении.
func RedeemedMessage(pts int64, t model.TransactionType) string {
	return fmt.Sprintf("You redeemed %d loyalty points for %s", pts, label(t))
}

func label(t model.TransactionType) string {
	switch t {
	case model.TransactionAirtime:
		return "airtime"
	case model.TransactionBillPayment:
		return "bill payment"
	default:
		return "transfer"
	}
}

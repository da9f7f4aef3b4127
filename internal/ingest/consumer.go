package ingest

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/alert"
	"github.com/mmeshcher/keyloyalty/internal/fraud"
	"github.com/mmeshcher/keyloyalty/internal/ledger"
	"github.com/mmeshcher/keyloyalty/internal/model"
	"github.com/mmeshcher/keyloyalty/internal/points"
	"github.com/mmeshcher/keyloyalty/internal/validation"
)

// Queue выдаёт события в порядке публикации.
type Queue interface {
	Next(ctx context.Context) (model.LoyaltyEvent, bool)
}

// Resolver сопоставляет счёт пользователю.
type Resolver interface {
	Resolve(ctx context.Context, accountOrUsername string) (string, error)
}

// Ledger начисляет баллы.
type Ledger interface {
	Earn(ctx context.Context, userID string, delta int64) (ledger.Change, error)
}

// Alerts создаёт уведомления.
type Alerts interface {
	Raise(ctx context.Context, userID, accountNumber string, typ model.AlertType, pts int64, message string) model.Alert
}

// Scorer оценивает начисления.
type Scorer interface {
	ScoreEarning(userID string, amount decimal.Decimal) fraud.Assessment
}

// Consumer забирает события из очереди и начисляет баллы.
type Consumer struct {
	queue    Queue
	resolver Resolver
	ledger   Ledger
	alerts   Alerts
	scorer   Scorer
	logger   *zap.Logger
}

// NewConsumer создаёт Consumer; scorer может быть nil.
func NewConsumer(queue Queue, resolver Resolver, l Ledger, alerts Alerts, scorer Scorer, logger *zap.Logger) *Consumer {
	return &Consumer{
		queue:    queue,
		resolver: resolver,
		ledger:   l,
		alerts:   alerts,
		scorer:   scorer,
		logger:   logger,
	}
}

// Run обрабатывает события до отмены ctx или закрытия очереди.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("loyalty event consumer started")

	for {
		ev, ok := c.queue.Next(ctx)
		if !ok {
			c.logger.Info("loyalty event consumer stopped")
			return nil
		}

		if err := c.Handle(context.WithoutCancel(ctx), ev); err != nil {
			c.logger.Error("loyalty event not applied",
				zap.String("transaction_id", ev.Base().TransactionID),
				zap.Error(err),
			)
		}
	}
}

// Handle начисляет баллы за одно событие.
// Событие с несопоставленным счётом отбрасывается без повтора.
func (c *Consumer) Handle(ctx context.Context, ev model.LoyaltyEvent) error {
	base := ev.Base()

	if !validation.IsValidAccountNumber(base.AccountNumber) {
		c.logger.Warn("loyalty event dropped, invalid account",
			zap.String("transaction_id", base.TransactionID),
			zap.String("account", base.AccountNumber),
		)
		return nil
	}

	userID, err := c.resolver.Resolve(ctx, base.AccountNumber)
	if err != nil {
		c.logger.Warn("loyalty event dropped, account not resolved",
			zap.String("transaction_id", base.TransactionID),
			zap.String("account", base.AccountNumber),
			zap.Error(err),
		)
		return nil
	}

	earned := points.ForTransaction(ev.Type(), base.Amount)
	if earned == 0 {
		c.logger.Debug("transaction below earning floor",
			zap.String("transaction_id", base.TransactionID),
			zap.String("amount", base.Amount.String()),
		)
		return nil
	}

	if c.scorer != nil {
		c.scorer.ScoreEarning(userID, base.Amount)
	}

	change, err := c.ledger.Earn(ctx, userID, earned)
	if err != nil {
		return fmt.Errorf("earn points for %s: %w", base.TransactionID, err)
	}

	c.logger.Info("loyalty points earned",
		zap.String("transaction_id", base.TransactionID),
		zap.String("user_id", userID),
		zap.String("type", string(ev.Type())),
		zap.Int64("points", earned),
		zap.Int64("total_points", change.After.TotalPoints),
		zap.Stringer("tier", change.After.Tier),
	)

	c.alerts.Raise(ctx, userID, base.AccountNumber, model.AlertEarning, earned, alert.EarnedMessage(earned, ev.Type()))
	if change.TierUpgraded() {
		c.alerts.Raise(ctx, userID, base.AccountNumber, model.AlertTierUpgrade, change.After.TotalPoints, alert.TierUpgradeMessage(change.After.Tier))
	}

	return nil
}

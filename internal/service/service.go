// Package service реализует прикладные операции сервиса лояльности.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/alert"
	"github.com/mmeshcher/keyloyalty/internal/ledger"
	"github.com/mmeshcher/keyloyalty/internal/model"
	"github.com/mmeshcher/keyloyalty/internal/points"
	"github.com/mmeshcher/keyloyalty/internal/repository"
	"github.com/mmeshcher/keyloyalty/internal/translog"
	"github.com/mmeshcher/keyloyalty/internal/validation"
)

var (
	// ErrInvalidAccount возвращается для некорректного номера счёта.
	ErrInvalidAccount = errors.New("invalid account number")
	// ErrInvalidPoints возвращается для недопустимого числа баллов.
	ErrInvalidPoints = errors.New("invalid points value")
	// ErrRetentionTooShort возвращается, если срок хранения отметок не превышает окно опроса.
	ErrRetentionTooShort = errors.New("dedup retention must exceed poll window")
)

const (
	recentWindow = 24 * time.Hour
	recentLimit  = 10
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	GetRedemption(ctx context.Context, transactionID string) (*model.PendingRedemption, error)
	ListAlerts(ctx context.Context, userID string, limit int) ([]model.Alert, error)
	PruneProcessed(ctx context.Context, olderThan time.Time) (int64, error)
}

// Ledger изменяет баланс баллов.
type Ledger interface {
	Get(ctx context.Context, userID string) (model.CustomerLoyalty, error)
	Earn(ctx context.Context, userID string, delta int64) (ledger.Change, error)
	Set(ctx context.Context, userID string, total int64) (ledger.Change, error)
}

// Resolver сопоставляет счета и пользователей.
type Resolver interface {
	Resolve(ctx context.Context, accountOrUsername string) (string, error)
	AccountsFor(ctx context.Context, userID string) ([]string, error)
}

// Redeemer выполняет и завершает погашения.
type Redeemer interface {
	Redeem(ctx context.Context, accountNumber string, pts int64, typ model.TransactionType) (model.RedemptionResult, error)
	Confirm(ctx context.Context, transactionID string) (*model.PendingRedemption, error)
	Rollback(ctx context.Context, transactionID, reason string) (model.CustomerLoyalty, error)
	ListPending(ctx context.Context, olderThan time.Duration) ([]model.PendingRedemption, error)
}

// TransactionLog читает внешний журнал операций.
type TransactionLog interface {
	RecentForAccounts(ctx context.Context, accounts []string, since time.Time, limit int) ([]model.TransactionRecord, error)
	FindCredit(ctx context.Context, reference, accountNumber string) (*model.TransactionRecord, error)
}

// Alerts создаёт уведомления.
type Alerts interface {
	Raise(ctx context.Context, userID, accountNumber string, typ model.AlertType, pts int64, message string) model.Alert
}

// Deps содержит зависимости Service.
type Deps struct {
	Repo       Repository
	Ledger     Ledger
	Resolver   Resolver
	Redeemer   Redeemer
	Log        TransactionLog
	Alerts     Alerts
	Catalog    []model.RedemptionOption
	PollWindow time.Duration
	Logger     *zap.Logger
}

// Service содержит прикладную логику сервиса лояльности.
type Service struct {
	d   Deps
	now func() time.Time
}

// NewService создаёт сервис; пустой каталог заменяется встроенным.
func NewService(d Deps) *Service {
	if len(d.Catalog) == 0 {
		d.Catalog = DefaultRedemptionOptions()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Service{d: d, now: time.Now}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.d.Repo != nil {
		return s.d.Repo.Close()
	}
	return nil
}

// Dashboard возвращает сводку лояльности по номеру счёта.
func (s *Service) Dashboard(ctx context.Context, accountNumber string) (*model.Dashboard, error) {
	accountNumber = validation.NormalizeIdentifier(accountNumber)
	if !validation.IsValidAccountNumber(accountNumber) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAccount, accountNumber)
	}
	return s.DashboardByUser(ctx, accountNumber)
}

// DashboardByUser возвращает сводку лояльности по счёту или имени пользователя.
func (s *Service) DashboardByUser(ctx context.Context, userOrAccount string) (*model.Dashboard, error) {
	userID, err := s.d.Resolver.Resolve(ctx, userOrAccount)
	if err != nil {
		return nil, err
	}

	c, err := s.d.Ledger.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load customer: %w", err)
	}

	accounts, err := s.d.Resolver.AccountsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	return &model.Dashboard{
		UserID:           userID,
		AccountNumbers:   accounts,
		TotalPoints:      c.TotalPoints,
		Tier:             c.Tier,
		PointsToNextTier: points.ToNextTier(c.TotalPoints),
		PointsExpiryDate: c.PointsExpiryDate,
		EarningRules:     points.EarningTable(),
		Tiers:            points.TierTable(c.TotalPoints),
	}, nil
}

// RedemptionOptions возвращает каталог способов погашения.
func (s *Service) RedemptionOptions() []model.RedemptionOption {
	out := make([]model.RedemptionOption, len(s.d.Catalog))
	copy(out, s.d.Catalog)
	return out
}

// Redeem запускает погашение баллов.
func (s *Service) Redeem(ctx context.Context, accountNumber string, pts int64, redemptionType string) (model.RedemptionResult, error) {
	return s.d.Redeemer.Redeem(ctx, accountNumber, pts, model.ParseTransactionType(redemptionType))
}

// AssignPoints начисляет баллы вручную. При положительной сумме операции баллы
// рассчитываются по правилам начисления, иначе применяется pts как есть.
// Тип CLEAR_POINTS обнуляет баланс.
func (s *Service) AssignPoints(ctx context.Context, userOrAccount string, pts int64, transactionType string, amount decimal.Decimal) (model.CustomerLoyalty, error) {
	userID, err := s.d.Resolver.Resolve(ctx, userOrAccount)
	if err != nil {
		return model.CustomerLoyalty{}, err
	}

	t := model.ParseTransactionType(transactionType)
	if t == model.TransactionClearPoints {
		change, err := s.d.Ledger.Set(ctx, userID, 0)
		if err != nil {
			return model.CustomerLoyalty{}, err
		}
		s.d.Logger.Info("loyalty points cleared",
			zap.String("user_id", userID),
			zap.Int64("previous_points", change.Before.TotalPoints),
		)
		return change.After, nil
	}

	delta := pts
	if amount.IsPositive() {
		delta = points.ForTransaction(t, amount)
	}
	if delta == 0 {
		return s.d.Ledger.Get(ctx, userID)
	}

	change, err := s.d.Ledger.Earn(ctx, userID, delta)
	if err != nil {
		return model.CustomerLoyalty{}, err
	}

	s.d.Logger.Info("loyalty points assigned",
		zap.String("user_id", userID),
		zap.String("type", string(t)),
		zap.Int64("points", delta),
		zap.Int64("total_points", change.After.TotalPoints),
	)

	if s.d.Alerts != nil && delta > 0 {
		account := s.primaryAccount(ctx, userID)
		s.d.Alerts.Raise(ctx, userID, account, model.AlertEarning, delta, alert.EarnedMessage(delta, t))
		if change.TierUpgraded() {
			s.d.Alerts.Raise(ctx, userID, account, model.AlertTierUpgrade, change.After.TotalPoints, alert.TierUpgradeMessage(change.After.Tier))
		}
	}

	return change.After, nil
}

// ResetPoints устанавливает баланс в абсолютное значение.
func (s *Service) ResetPoints(ctx context.Context, userOrAccount string, pts int64) (model.CustomerLoyalty, error) {
	if pts < 0 {
		return model.CustomerLoyalty{}, fmt.Errorf("%w: %d", ErrInvalidPoints, pts)
	}

	userID, err := s.d.Resolver.Resolve(ctx, userOrAccount)
	if err != nil {
		return model.CustomerLoyalty{}, err
	}

	change, err := s.d.Ledger.Set(ctx, userID, pts)
	if err != nil {
		return model.CustomerLoyalty{}, err
	}

	s.d.Logger.Info("loyalty points reset",
		zap.String("user_id", userID),
		zap.Int64("previous_points", change.Before.TotalPoints),
		zap.Int64("total_points", change.After.TotalPoints),
	)
	return change.After, nil
}

// RedemptionStatus возвращает состояние погашения и найденное в журнале зачисление.
func (s *Service) RedemptionStatus(ctx context.Context, userOrAccount, transactionID string) (*model.CreditStatus, error) {
	userID, err := s.d.Resolver.Resolve(ctx, userOrAccount)
	if err != nil {
		return nil, err
	}

	p, err := s.d.Repo.GetRedemption(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, fmt.Errorf("%w: %s", repository.ErrRedemptionNotFound, transactionID)
	}

	status := &model.CreditStatus{TransactionID: transactionID, Status: p.Status}

	credit, err := s.d.Log.FindCredit(ctx, transactionID, p.AccountNumber)
	switch {
	case err == nil:
		status.Credited = true
		status.Credit = credit
	case errors.Is(err, translog.ErrNotFound):
	default:
		return nil, fmt.Errorf("lookup credit: %w", err)
	}

	return status, nil
}

// Confirm подтверждает незавершённое погашение.
func (s *Service) Confirm(ctx context.Context, transactionID string) (*model.PendingRedemption, error) {
	return s.d.Redeemer.Confirm(ctx, transactionID)
}

// Rollback отменяет незавершённое погашение.
func (s *Service) Rollback(ctx context.Context, transactionID, reason string) (model.CustomerLoyalty, error) {
	return s.d.Redeemer.Rollback(ctx, transactionID, reason)
}

// PendingRedemptions возвращает незавершённые погашения старше olderThan.
func (s *Service) PendingRedemptions(ctx context.Context, olderThan time.Duration) ([]model.PendingRedemption, error) {
	return s.d.Redeemer.ListPending(ctx, olderThan)
}

// RecentTransactions возвращает операции пользователя за последние сутки.
func (s *Service) RecentTransactions(ctx context.Context, userOrAccount string) ([]model.TransactionRecord, error) {
	userID, err := s.d.Resolver.Resolve(ctx, userOrAccount)
	if err != nil {
		return nil, err
	}

	accounts, err := s.d.Resolver.AccountsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return []model.TransactionRecord{}, nil
	}

	return s.d.Log.RecentForAccounts(ctx, accounts, s.now().Add(-recentWindow), recentLimit)
}

// Alerts возвращает последние уведомления пользователя.
func (s *Service) Alerts(ctx context.Context, userOrAccount string, limit int) ([]model.Alert, error) {
	userID, err := s.d.Resolver.Resolve(ctx, userOrAccount)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.d.Repo.ListAlerts(ctx, userID, limit)
}

// PruneProcessed удаляет отметки обработки старше retention.
// Срок хранения обязан превышать окно опроса, иначе операции будут начислены повторно.
func (s *Service) PruneProcessed(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= s.d.PollWindow {
		return 0, fmt.Errorf("%w: %s <= %s", ErrRetentionTooShort, retention, s.d.PollWindow)
	}
	n, err := s.d.Repo.PruneProcessed(ctx, s.now().Add(-retention))
	if err != nil {
		return 0, err
	}
	s.d.Logger.Info("processed transactions pruned", zap.Int64("rows", n), zap.Duration("retention", retention))
	return n, nil
}

func (s *Service) primaryAccount(ctx context.Context, userID string) string {
	accounts, err := s.d.Resolver.AccountsFor(ctx, userID)
	if err != nil || len(accounts) == 0 {
		return userID
	}
	return accounts[0]
}

// Package redemption координирует погашение баллов: списание, внешнее зачисление,
// подтверждение или компенсацию.
//
// Долговременной памятью саги служит запись трекера погашения. Она создаётся сразу после
// списания и меняется ровно один раз при завершении, поэтому незавершённые саги
// после перезапуска находятся запросом ListPending и закрываются оператором.
package redemption

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/alert"
	"github.com/mmeshcher/keyloyalty/internal/fraud"
	"github.com/mmeshcher/keyloyalty/internal/ledger"
	"github.com/mmeshcher/keyloyalty/internal/model"
	"github.com/mmeshcher/keyloyalty/internal/notify"
	"github.com/mmeshcher/keyloyalty/internal/points"
	"github.com/mmeshcher/keyloyalty/internal/repository"
	"github.com/mmeshcher/keyloyalty/internal/settlement"
	"github.com/mmeshcher/keyloyalty/internal/validation"
)

var (
	// ErrInvalidAccount возвращается для некорректного номера счёта.
	ErrInvalidAccount = errors.New("invalid account number")
	// ErrInvalidPoints возвращается, если число баллов не положительно.
	ErrInvalidPoints = errors.New("points to redeem must be positive")
	// ErrInvalidType возвращается для типа, недоступного для погашения.
	ErrInvalidType = errors.New("unsupported redemption type")
	// ErrAlreadyFinalized возвращается при повторном завершении погашения.
	ErrAlreadyFinalized = repository.ErrRedemptionFinalized
)

const (
	msgInsufficient = "Insufficient points for redemption"
	msgFailed       = "Redemption processing failed. Points have been restored."
)

// Ledger изменяет баланс баллов.
type Ledger interface {
	Get(ctx context.Context, userID string) (model.CustomerLoyalty, error)
	Debit(ctx context.Context, userID string, amount int64) (ledger.Change, error)
	Credit(ctx context.Context, userID string, amount int64) (ledger.Change, error)
}

// Tracker хранит записи саг погашения.
type Tracker interface {
	CreateRedemption(ctx context.Context, p model.PendingRedemption) error
	GetRedemption(ctx context.Context, transactionID string) (*model.PendingRedemption, error)
	FinalizeRedemption(ctx context.Context, transactionID string, status model.RedemptionStatus, reason string) error
	ReopenRedemption(ctx context.Context, transactionID string) error
	ListPendingRedemptions(ctx context.Context, createdBefore time.Time) ([]model.PendingRedemption, error)
}

// Settler зачисляет средства на счёт клиента.
type Settler interface {
	CreditAccount(ctx context.Context, accountNumber string, amount decimal.Decimal, reference string) (settlement.Credit, error)
}

// Recorder записывает проводки по погашению.
type Recorder interface {
	Record(ctx context.Context, p model.PendingRedemption) error
}

// Resolver сопоставляет счёт пользователю.
type Resolver interface {
	Resolve(ctx context.Context, accountOrUsername string) (string, error)
}

// Alerts создаёт уведомления.
type Alerts interface {
	Raise(ctx context.Context, userID, accountNumber string, typ model.AlertType, pts int64, message string) model.Alert
}

// Notifier отправляет email и SMS без ожидания результата.
type Notifier interface {
	Notify(ctx context.Context, req notify.Request)
}

// Scorer оценивает запрос на погашение.
type Scorer interface {
	ScoreRedemption(ctx context.Context, userID string, pts int64) fraud.Assessment
}

// Deps содержит зависимости Coordinator.
type Deps struct {
	Ledger   Ledger
	Tracker  Tracker
	Settler  Settler
	Recorder Recorder
	Resolver Resolver
	Alerts   Alerts
	Notifier Notifier
	Scorer   Scorer
	Logger   *zap.Logger
}

// Coordinator выполняет саги погашения.
type Coordinator struct {
	Deps
	now   func() time.Time
	newID func() string
}

// NewCoordinator создаёт Coordinator; Notifier и Scorer необязательны.
func NewCoordinator(d Deps) *Coordinator {
	return &Coordinator{
		Deps: d,
		now:  time.Now,
		newID: func() string {
			return "RED-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:20])
		},
	}
}

// Redeem списывает баллы и выполняет зачисление по выбранному каналу.
// Недостаток баллов даёт неуспешный результат без ошибки и без изменения баланса.
// Сбой зачисления компенсируется возвратом баллов, результат при этом неуспешный.
func (c *Coordinator) Redeem(ctx context.Context, accountNumber string, pts int64, typ model.TransactionType) (model.RedemptionResult, error) {
	accountNumber = validation.NormalizeIdentifier(accountNumber)
	if !validation.IsValidAccountNumber(accountNumber) {
		return model.RedemptionResult{}, fmt.Errorf("%w: %q", ErrInvalidAccount, accountNumber)
	}
	if pts <= 0 {
		return model.RedemptionResult{}, fmt.Errorf("%w: %d", ErrInvalidPoints, pts)
	}
	if typ == "" {
		typ = model.TransactionTransfer
	}
	if typ != model.TransactionTransfer && typ != model.TransactionAirtime && typ != model.TransactionBillPayment {
		return model.RedemptionResult{}, fmt.Errorf("%w: %s", ErrInvalidType, typ)
	}

	userID, err := c.Resolver.Resolve(ctx, accountNumber)
	if err != nil {
		return model.RedemptionResult{}, fmt.Errorf("resolve account: %w", err)
	}

	if c.Scorer != nil {
		c.Scorer.ScoreRedemption(ctx, userID, pts)
	}

	s := newSaga()
	s.id = c.newID()
	log := c.Logger.With(
		zap.String("transaction_id", s.id),
		zap.String("user_id", userID),
		zap.String("account", accountNumber),
		zap.String("type", string(typ)),
		zap.Int64("points", pts),
	)

	debit, err := c.Ledger.Debit(ctx, userID, pts)
	if err != nil {
		if errors.Is(err, ledger.ErrInsufficientPoints) {
			return c.insufficient(ctx, userID)
		}
		return model.RedemptionResult{}, fmt.Errorf("debit points: %w", err)
	}

	// После списания сага доводится до конца независимо от отмены запроса.
	ctx = context.WithoutCancel(ctx)

	p := model.PendingRedemption{
		TransactionID:   s.id,
		AccountNumber:   accountNumber,
		UserID:          userID,
		PointsUsed:      pts,
		AmountUsed:      points.Value(pts),
		TransactionType: typ,
		OriginalPoints:  debit.Before.TotalPoints,
		Status:          model.RedemptionPending,
		CreatedDate:     c.now().UTC(),
	}

	if err := c.Tracker.CreateRedemption(ctx, p); err != nil {
		if _, undoErr := c.Ledger.Credit(ctx, userID, pts); undoErr != nil {
			log.Error("debit not undone, manual reconciliation required", zap.Error(undoErr))
		}
		return model.RedemptionResult{}, fmt.Errorf("create redemption tracker: %w", err)
	}

	if err := s.advance(StatePointsDebited); err != nil {
		return model.RedemptionResult{}, err
	}
	log.Info("redemption points debited", zap.Int64("original_points", p.OriginalPoints))

	if p.Earmarked() {
		return c.earmark(ctx, p, debit.After), nil
	}

	if err := s.advance(StateSettlementAttempted); err != nil {
		return model.RedemptionResult{}, err
	}

	credit, settleErr := c.Settler.CreditAccount(ctx, accountNumber, p.AmountUsed, p.TransactionID)
	if settleErr != nil {
		log.Warn("settlement failed, compensating", zap.Error(settleErr))

		restored, err := c.compensate(ctx, p, settleErr.Error())
		if err != nil {
			log.Error("compensation failed, manual reconciliation required", zap.Error(err))
			return model.RedemptionResult{}, fmt.Errorf("compensate redemption %s: %w", p.TransactionID, err)
		}
		if err := s.advance(StateRolledBack); err != nil {
			return model.RedemptionResult{}, err
		}

		c.notify(ctx, p, false, msgFailed)
		return model.RedemptionResult{
			Success:         false,
			Message:         msgFailed,
			TransactionID:   p.TransactionID,
			RemainingPoints: restored.TotalPoints,
			Tier:            restored.Tier,
			Status:          model.RedemptionRolledBack,
		}, nil
	}

	if err := s.advance(StateConfirmed); err != nil {
		return model.RedemptionResult{}, err
	}

	if err := c.Tracker.FinalizeRedemption(ctx, p.TransactionID, model.RedemptionConfirmed, ""); err != nil {
		log.Error("tracker not confirmed after settlement", zap.Error(err))
	}

	// Зачисление уже выполнено, ошибка учёта не отменяет погашение.
	if err := c.Recorder.Record(ctx, p); err != nil {
		log.Error("accounting failed, manual reconciliation required", zap.Error(err))
	}

	message := fmt.Sprintf("%s has been credited to your account", formatNaira(p.AmountUsed))
	log.Info("redemption confirmed", zap.String("settlement_reference", credit.Reference))

	c.Alerts.Raise(ctx, userID, accountNumber, model.AlertRedemption, pts, alert.RedeemedMessage(pts, typ))
	c.notify(ctx, p, true, message)

	return model.RedemptionResult{
		Success:             true,
		Message:             message,
		TransactionID:       p.TransactionID,
		PointsRedeemed:      pts,
		AmountCredited:      p.AmountUsed,
		RemainingPoints:     debit.After.TotalPoints,
		Tier:                debit.After.Tier,
		Status:              model.RedemptionConfirmed,
		SettlementReference: credit.Reference,
	}, nil
}

// Confirm подтверждает погашение, выполненное вызывающей стороной вне сервиса.
// Баланс не меняется; для зарезервированных погашений записываются проводки.
func (c *Coordinator) Confirm(ctx context.Context, transactionID string) (*model.PendingRedemption, error) {
	p, err := c.Tracker.GetRedemption(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if p.Status != model.RedemptionPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, transactionID, p.Status)
	}

	if err := c.Tracker.FinalizeRedemption(ctx, transactionID, model.RedemptionConfirmed, ""); err != nil {
		return nil, fmt.Errorf("confirm redemption: %w", err)
	}
	p.Status = model.RedemptionConfirmed

	if p.Earmarked() {
		if err := c.Recorder.Record(ctx, *p); err != nil {
			c.Logger.Error("accounting failed, manual reconciliation required",
				zap.String("transaction_id", transactionID),
				zap.Error(err),
			)
		}
	}

	c.Logger.Info("redemption confirmed by caller", zap.String("transaction_id", transactionID))
	c.notify(ctx, *p, true, fmt.Sprintf("Your %s redemption of %s is complete", strings.ToLower(string(p.TransactionType)), formatNaira(p.AmountUsed)))

	return p, nil
}

// Rollback отменяет незавершённое погашение и возвращает списанные баллы.
// Возврат относительный: баланс увеличивается ровно на списанное число баллов,
// поэтому изменения баланса после списания сохраняются.
func (c *Coordinator) Rollback(ctx context.Context, transactionID, reason string) (model.CustomerLoyalty, error) {
	p, err := c.Tracker.GetRedemption(ctx, transactionID)
	if err != nil {
		return model.CustomerLoyalty{}, err
	}
	if p.Status != model.RedemptionPending {
		return model.CustomerLoyalty{}, fmt.Errorf("%w: %s is %s", ErrAlreadyFinalized, transactionID, p.Status)
	}
	if reason == "" {
		reason = "rolled back by caller"
	}
	ctx = context.WithoutCancel(ctx)

	restored, err := c.compensate(ctx, *p, reason)
	if err != nil {
		return model.CustomerLoyalty{}, err
	}

	c.Logger.Info("redemption rolled back",
		zap.String("transaction_id", transactionID),
		zap.String("reason", reason),
		zap.Int64("total_points", restored.TotalPoints),
	)
	c.notify(ctx, *p, false, msgFailed)

	return restored, nil
}

// ListPending возвращает незавершённые саги старше olderThan.
func (c *Coordinator) ListPending(ctx context.Context, olderThan time.Duration) ([]model.PendingRedemption, error) {
	return c.Tracker.ListPendingRedemptions(ctx, c.now().Add(-olderThan))
}

// compensate помечает запись отменённой и возвращает баллы.
// Если запись уже завершена другим вызовом, баллы повторно не возвращаются.
// Если баллы вернуть не удалось, запись снова становится PENDING и доступна для Rollback.
func (c *Coordinator) compensate(ctx context.Context, p model.PendingRedemption, reason string) (model.CustomerLoyalty, error) {
	finalizeErr := c.Tracker.FinalizeRedemption(ctx, p.TransactionID, model.RedemptionRolledBack, reason)
	if errors.Is(finalizeErr, ErrAlreadyFinalized) {
		return model.CustomerLoyalty{}, finalizeErr
	}

	change, err := c.Ledger.Credit(ctx, p.UserID, p.PointsUsed)
	if err != nil {
		if finalizeErr == nil {
			if reopenErr := c.Tracker.ReopenRedemption(ctx, p.TransactionID); reopenErr != nil {
				c.Logger.Error("points not restored and tracker not reopened, manual reconciliation required",
					zap.String("transaction_id", p.TransactionID),
					zap.Error(reopenErr),
				)
			}
		}
		return model.CustomerLoyalty{}, fmt.Errorf("restore points: %w", err)
	}

	if finalizeErr != nil {
		c.Logger.Error("points restored but tracker not rolled back",
			zap.String("transaction_id", p.TransactionID),
			zap.Error(finalizeErr),
		)
	}

	return change.After, nil
}

func (c *Coordinator) earmark(ctx context.Context, p model.PendingRedemption, after model.CustomerLoyalty) model.RedemptionResult {
	usage := "airtime purchase"
	if p.TransactionType == model.TransactionBillPayment {
		usage = "bill payment"
	}
	message := fmt.Sprintf("%s available for %s", formatNaira(p.AmountUsed), usage)

	c.Logger.Info("redemption earmarked, awaiting confirmation",
		zap.String("transaction_id", p.TransactionID),
		zap.String("type", string(p.TransactionType)),
	)

	c.Alerts.Raise(ctx, p.UserID, p.AccountNumber, model.AlertRedemption, p.PointsUsed, alert.RedeemedMessage(p.PointsUsed, p.TransactionType))
	c.notify(ctx, p, true, message)

	return model.RedemptionResult{
		Success:         true,
		Message:         message,
		TransactionID:   p.TransactionID,
		PointsRedeemed:  p.PointsUsed,
		AmountCredited:  p.AmountUsed,
		RemainingPoints: after.TotalPoints,
		Tier:            after.Tier,
		Status:          model.RedemptionPending,
	}
}

func (c *Coordinator) insufficient(ctx context.Context, userID string) (model.RedemptionResult, error) {
	current, err := c.Ledger.Get(ctx, userID)
	if err != nil {
		return model.RedemptionResult{}, fmt.Errorf("load customer: %w", err)
	}
	return model.RedemptionResult{
		Success:         false,
		Message:         msgInsufficient,
		RemainingPoints: current.TotalPoints,
		Tier:            current.Tier,
	}, nil
}

func (c *Coordinator) notify(ctx context.Context, p model.PendingRedemption, success bool, message string) {
	if c.Notifier == nil {
		return
	}
	subject := "Loyalty Points Redemption Successful"
	if !success {
		subject = "Loyalty Points Redemption Failed"
	}
	c.Notifier.Notify(ctx, notify.Request{
		AccountNumber:   p.AccountNumber,
		TransactionType: string(p.TransactionType),
		Amount:          p.AmountUsed,
		PointsUsed:      p.PointsUsed,
		IsSuccess:       success,
		Subject:         subject,
		Message:         message,
	})
}

// formatNaira форматирует сумму с разделителями тысяч и двумя знаками после точки.
func formatNaira(amount decimal.Decimal) string {
	s := amount.Abs().StringFixed(2)
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, ch := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(ch)
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return sign + "₦" + b.String() + "." + frac
}

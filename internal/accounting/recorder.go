// Package accounting записывает проводки двойной записи по погашениям баллов.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/model"
	"github.com/mmeshcher/keyloyalty/internal/repository"
)

// ErrUnbalanced возвращается, если сумма дебетов не равна сумме кредитов.
var ErrUnbalanced = errors.New("accounting entries are not balanced")

// MaxAttempts задаёт число попыток записи проводок при временных ошибках.
const MaxAttempts = 3

// Store записывает набор проводок атомарно.
type Store interface {
	InsertAccountingEntries(ctx context.Context, entries []model.AccountingEntry) error
}

// GL содержит счета главной книги для проводок по погашению.
type GL struct {
	Liability string
	Expense   string
	Cash      string
	Airtime   string
	Bills     string
}

// Recorder строит и записывает проводки с повторами при временных ошибках.
type Recorder struct {
	store      Store
	gl         GL
	logger     *zap.Logger
	now        func() time.Time
	newBackoff func() retry.Backoff
}

// NewRecorder создаёт Recorder.
func NewRecorder(store Store, gl GL, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:  store,
		gl:     gl,
		logger: logger,
		now:    time.Now,
		newBackoff: func() retry.Backoff {
			return retry.WithMaxRetries(MaxAttempts-1, retry.NewExponential(time.Second))
		},
	}
}

// Record записывает проводки по погашению: все или ни одной.
func (r *Recorder) Record(ctx context.Context, p model.PendingRedemption) error {
	entries, err := BuildEntries(r.gl, p, r.now().UTC())
	if err != nil {
		return err
	}

	attempt := 0
	err = retry.Do(ctx, r.newBackoff(), func(ctx context.Context) error {
		attempt++
		err := r.store.InsertAccountingEntries(ctx, entries)
		if err == nil {
			return nil
		}
		if repository.IsTransient(err) {
			r.logger.Warn("accounting write failed, retrying",
				zap.String("transaction_id", p.TransactionID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("record accounting for %s after %d attempt(s): %w", p.TransactionID, attempt, err)
	}

	r.logger.Info("accounting entries recorded",
		zap.String("transaction_id", p.TransactionID),
		zap.Int("entries", len(entries)),
		zap.String("amount", p.AmountUsed.StringFixed(2)),
	)
	return nil
}

// BuildEntries строит сбалансированный набор проводок по погашению.
// Расход погашения закрывается списанием обязательства по баллам, а кредитуется
// касса, запас эфирного времени или кредиторская задолженность по счетам.
func BuildEntries(gl GL, p model.PendingRedemption, now time.Time) ([]model.AccountingEntry, error) {
	amount := p.AmountUsed
	if !amount.IsPositive() {
		return nil, fmt.Errorf("redemption %s has non-positive amount %s", p.TransactionID, amount)
	}

	valueAccount, valueLabel := gl.Cash, "cash"
	switch p.TransactionType {
	case model.TransactionAirtime:
		valueAccount, valueLabel = gl.Airtime, "airtime stock"
	case model.TransactionBillPayment:
		valueAccount, valueLabel = gl.Bills, "bills payable"
	}

	entry := func(account string, debit, credit decimal.Decimal, description string) model.AccountingEntry {
		return model.AccountingEntry{
			GLAccount:     account,
			DebitAmount:   debit,
			CreditAmount:  credit,
			Description:   description,
			TransactionID: p.TransactionID,
			AccountNumber: p.AccountNumber,
			CreatedDate:   now,
		}
	}

	entries := []model.AccountingEntry{
		entry(gl.Expense, amount, decimal.Zero, fmt.Sprintf("Loyalty redemption expense - %d points", p.PointsUsed)),
		entry(valueAccount, decimal.Zero, amount, "Loyalty redemption paid from "+valueLabel),
		entry(gl.Liability, amount, decimal.Zero, "Loyalty points liability reduction"),
		entry(gl.Expense, decimal.Zero, amount, "Loyalty redemption expense offset by liability"),
	}

	if !Balanced(entries) {
		return nil, ErrUnbalanced
	}

	return entries, nil
}

// Balanced проверяет равенство сумм дебетов и кредитов.
func Balanced(entries []model.AccountingEntry) bool {
	debit, credit := decimal.Zero, decimal.Zero
	for _, e := range entries {
		debit = debit.Add(e.DebitAmount)
		credit = credit.Add(e.CreditAmount)
	}
	return debit.Equal(credit)
}

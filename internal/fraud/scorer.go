// Package fraud оценивает подозрительность операций с баллами.
// Оценка только логируется и никогда не блокирует операцию.
package fraud

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	largeRedemptionPoints = 10000
	dailyRedemptionLimit  = 5
)

var (
	roundAmountStep = decimal.NewFromInt(1000)
	roundAmountMin  = decimal.NewFromInt(10000)
)

// Risk описывает уровень риска операции.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// Assessment содержит результат оценки операции.
type Assessment struct {
	Suspicious bool
	Risk       Risk
	Flags      []string
}

// Store предоставляет историю погашений пользователя.
type Store interface {
	CountRedemptionsSince(ctx context.Context, userID string, since time.Time) (int, error)
}

// Scorer выполняет эвристическую оценку операций.
type Scorer struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewScorer создаёт Scorer.
func NewScorer(store Store, logger *zap.Logger) *Scorer {
	return &Scorer{store: store, logger: logger, now: time.Now}
}

// ScoreRedemption оценивает запрос на погашение баллов.
func (s *Scorer) ScoreRedemption(ctx context.Context, userID string, pts int64) Assessment {
	var a Assessment

	if pts > largeRedemptionPoints {
		a.flag(RiskHigh, fmt.Sprintf("large redemption: %d points", pts))
	}

	count, err := s.store.CountRedemptionsSince(ctx, userID, s.now().Add(-24*time.Hour))
	if err != nil {
		s.logger.Warn("fraud history unavailable", zap.String("user_id", userID), zap.Error(err))
	} else if count >= dailyRedemptionLimit {
		a.flag(RiskMedium, fmt.Sprintf("high redemption velocity: %d in 24h", count))
	}

	s.report(userID, "redemption", a)
	return a
}

// ScoreEarning оценивает операцию, за которую начисляются баллы.
func (s *Scorer) ScoreEarning(userID string, amount decimal.Decimal) Assessment {
	var a Assessment

	if amount.GreaterThanOrEqual(roundAmountMin) && amount.Mod(roundAmountStep).IsZero() {
		a.flag(RiskLow, "round transaction amount: "+amount.StringFixed(2))
	}

	s.report(userID, "earning", a)
	return a
}

func (a *Assessment) flag(risk Risk, reason string) {
	a.Suspicious = true
	a.Flags = append(a.Flags, reason)
	if rank(risk) > rank(a.Risk) {
		a.Risk = risk
	}
}

func (s *Scorer) report(userID, operation string, a Assessment) {
	if !a.Suspicious {
		return
	}
	s.logger.Warn("suspicious loyalty activity",
		zap.String("user_id", userID),
		zap.String("operation", operation),
		zap.String("risk", string(a.Risk)),
		zap.String("reason", strings.Join(a.Flags, "; ")),
	)
}

func rank(r Risk) int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// Package points реализует чистые правила начисления баллов и расчёта уровней.
package points

import (
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

// MinEligibleAmount задаёт сумму операции, ниже которой баллы не начисляются.
var MinEligibleAmount = decimal.NewFromInt(100)

// PointValue задаёт стоимость одного балла в валюте при погашении.
var PointValue = decimal.NewFromInt(1)

type threshold struct {
	tier  model.Tier
	min   int64
	label string
}

// thresholds упорядочены по возрастанию нижней границы.
var thresholds = []threshold{
	{model.TierBronze, 0, "0 - 500"},
	{model.TierSilver, 501, "501 - 3,000"},
	{model.TierGold, 3001, "3,001 - 6,000"},
	{model.TierPlatinum, 6001, "6,001 - 10,000"},
	{model.TierDiamond, 10001, "10,001 - 50,000"},
}

var earning = []model.EarningRule{
	{TransactionType: model.TransactionAirtime, Label: "Airtime / Data", Points: 1},
	{TransactionType: model.TransactionTransfer, Label: "Transfer", Points: 2},
	{TransactionType: model.TransactionBillPayment, Label: "Bill Payment", Points: 3},
}

// ForTransaction возвращает число баллов за операцию указанного типа и суммы.
func ForTransaction(t model.TransactionType, amount decimal.Decimal) int64 {
	if amount.LessThan(MinEligibleAmount) {
		return 0
	}
	for _, rule := range earning {
		if rule.TransactionType == t {
			return rule.Points
		}
	}
	return 0
}

// TierFor вычисляет уровень по количеству баллов.
func TierFor(total int64) model.Tier {
	tier := model.TierBronze
	for _, th := range thresholds {
		if total >= th.min {
			tier = th.tier
		}
	}
	return tier
}

// Apply добавляет delta к балансу, не опуская его ниже нуля, и возвращает новый баланс и уровень.
func Apply(current, delta int64) (int64, model.Tier) {
	total := current + delta
	if total < 0 {
		total = 0
	}
	return total, TierFor(total)
}

// ToNextTier возвращает число баллов до следующего уровня; для высшего уровня 0.
func ToNextTier(total int64) int64 {
	for _, th := range thresholds {
		if total < th.min {
			return th.min - total
		}
	}
	return 0
}

// Value переводит баллы в денежную сумму.
func Value(pts int64) decimal.Decimal {
	return decimal.NewFromInt(pts).Mul(PointValue)
}

// EarningTable возвращает таблицу начисления баллов.
func EarningTable() []model.EarningRule {
	out := make([]model.EarningRule, len(earning))
	copy(out, earning)
	return out
}

// TierTable возвращает таблицу уровней с отметкой текущего.
func TierTable(total int64) []model.TierInfo {
	current := TierFor(total)
	out := make([]model.TierInfo, 0, len(thresholds))
	for _, th := range thresholds {
		out = append(out, model.TierInfo{
			Tier:      th.tier,
			Range:     th.label,
			MinPoints: th.min,
			IsActive:  th.tier == current,
		})
	}
	return out
}

package points

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

func TestTierFor_Boundaries(t *testing.T) {
	tests := []struct {
		total int64
		want  model.Tier
	}{
		{0, model.TierBronze},
		{500, model.TierBronze},
		{501, model.TierSilver},
		{3000, model.TierSilver},
		{3001, model.TierGold},
		{6000, model.TierGold},
		{6001, model.TierPlatinum},
		{10000, model.TierPlatinum},
		{10001, model.TierDiamond},
		{1_000_000, model.TierDiamond},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, TierFor(tt.total), "total=%d", tt.total)
	}
}

func TestTierFor_Monotonic(t *testing.T) {
	prev := TierFor(0)
	for p := int64(1); p <= 12000; p++ {
		cur := TierFor(p)
		if cur < prev {
			t.Fatalf("tier decreased at %d: %v -> %v", p, prev, cur)
		}
		prev = cur
	}
}

func TestForTransaction(t *testing.T) {
	tests := []struct {
		name   string
		typ    model.TransactionType
		amount int64
		want   int64
	}{
		{"airtime", model.TransactionAirtime, 500, 1},
		{"transfer", model.TransactionTransfer, 5000, 2},
		{"bill payment", model.TransactionBillPayment, 1500, 3},
		{"floor is inclusive", model.TransactionBillPayment, 100, 3},
		{"below floor", model.TransactionBillPayment, 50, 0},
		{"clear points earns nothing", model.TransactionClearPoints, 5000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ForTransaction(tt.typ, decimal.NewFromInt(tt.amount)))
		})
	}
}

func TestBillPaymentScenario(t *testing.T) {
	total := int64(450)

	total, tier := Apply(total, ForTransaction(model.TransactionBillPayment, decimal.NewFromInt(1500)))
	assert.Equal(t, int64(453), total)
	assert.Equal(t, model.TierBronze, tier)

	total, _ = Apply(total, ForTransaction(model.TransactionBillPayment, decimal.NewFromInt(200)))
	assert.Equal(t, int64(456), total)

	total, _ = Apply(total, ForTransaction(model.TransactionBillPayment, decimal.NewFromInt(50)))
	assert.Equal(t, int64(456), total)
}

func TestApply_ClampsAtZero(t *testing.T) {
	total, tier := Apply(100, -250)
	assert.Equal(t, int64(0), total)
	assert.Equal(t, model.TierBronze, tier)
}

func TestToNextTier(t *testing.T) {
	assert.Equal(t, int64(501), ToNextTier(0))
	assert.Equal(t, int64(1), ToNextTier(500))
	assert.Equal(t, int64(2500), ToNextTier(501))
	assert.Equal(t, int64(0), ToNextTier(10001))
}

func TestTierTable_MarksCurrent(t *testing.T) {
	table := TierTable(3500)
	assert.Len(t, table, 5)
	for _, row := range table {
		assert.Equal(t, row.Tier == model.TierGold, row.IsActive, row.Tier.String())
	}
}

func TestValue_OneToOne(t *testing.T) {
	assert.True(t, Value(500).Equal(decimal.NewFromInt(500)))
}

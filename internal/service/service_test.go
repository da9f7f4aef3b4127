package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmeshcher/keyloyalty/internal/ledger"
	"github.com/mmeshcher/keyloyalty/internal/model"
	"github.com/mmeshcher/keyloyalty/internal/repository"
	"github.com/mmeshcher/keyloyalty/internal/resolver"
	"github.com/mmeshcher/keyloyalty/internal/translog"
)

type stubRepo struct {
	redemption    *model.PendingRedemption
	redemptionErr error

	alerts []model.Alert

	prunedBefore time.Time
	pruned       int64
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) GetRedemption(ctx context.Context, transactionID string) (*model.PendingRedemption, error) {
	if s.redemptionErr != nil {
		return nil, s.redemptionErr
	}
	if s.redemption == nil || s.redemption.TransactionID != transactionID {
		return nil, repository.ErrRedemptionNotFound
	}
	return s.redemption, nil
}

func (s *stubRepo) ListAlerts(ctx context.Context, userID string, limit int) ([]model.Alert, error) {
	return s.alerts, nil
}

func (s *stubRepo) PruneProcessed(ctx context.Context, olderThan time.Time) (int64, error) {
	s.prunedBefore = olderThan
	return s.pruned, nil
}

type memCustomers struct {
	mu        sync.Mutex
	customers map[string]model.CustomerLoyalty
}

func (m *memCustomers) GetCustomer(ctx context.Context, userID string) (*model.CustomerLoyalty, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[userID]
	if !ok {
		return nil, repository.ErrCustomerNotFound
	}
	return &c, nil
}

func (m *memCustomers) UpsertCustomer(ctx context.Context, c model.CustomerLoyalty) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.customers[c.UserID] = c
	return nil
}

type links struct{}

func (links) UserIDByAccount(ctx context.Context, account string) (string, error) {
	if account == "1001234567" || account == "1007654321" {
		return "user-1", nil
	}
	return "", repository.ErrAccountNotLinked
}

func (links) UserIDByUsername(ctx context.Context, username string) (string, error) {
	if strings.EqualFold(username, "ada") {
		return "user-1", nil
	}
	return "", repository.ErrAccountNotLinked
}

func (links) AccountsByUser(ctx context.Context, userID string) ([]string, error) {
	if userID == "user-1" {
		return []string{"1001234567", "1007654321"}, nil
	}
	return nil, nil
}

type stubRedeemer struct {
	gotType model.TransactionType
}

func (r *stubRedeemer) Redeem(ctx context.Context, account string, pts int64, typ model.TransactionType) (model.RedemptionResult, error) {
	r.gotType = typ
	return model.RedemptionResult{Success: true, PointsRedeemed: pts}, nil
}

func (r *stubRedeemer) Confirm(ctx context.Context, id string) (*model.PendingRedemption, error) {
	return nil, nil
}

func (r *stubRedeemer) Rollback(ctx context.Context, id, reason string) (model.CustomerLoyalty, error) {
	return model.CustomerLoyalty{}, nil
}

func (r *stubRedeemer) ListPending(ctx context.Context, olderThan time.Duration) ([]model.PendingRedemption, error) {
	return nil, nil
}

type stubLog struct {
	credit      *model.TransactionRecord
	accounts    []string
	since       time.Time
	limit       int
	transaction []model.TransactionRecord
}

func (l *stubLog) RecentForAccounts(ctx context.Context, accounts []string, since time.Time, limit int) ([]model.TransactionRecord, error) {
	l.accounts, l.since, l.limit = accounts, since, limit
	return l.transaction, nil
}

func (l *stubLog) FindCredit(ctx context.Context, reference, account string) (*model.TransactionRecord, error) {
	if l.credit == nil {
		return nil, translog.ErrNotFound
	}
	return l.credit, nil
}

type stubAlerts struct {
	types []model.AlertType
}

func (a *stubAlerts) Raise(ctx context.Context, userID, account string, typ model.AlertType, pts int64, msg string) model.Alert {
	a.types = append(a.types, typ)
	return model.Alert{Type: typ}
}

func newTestService(balance int64) (*Service, *memCustomers, *stubRepo, *stubLog, *stubAlerts) {
	store := &memCustomers{customers: map[string]model.CustomerLoyalty{
		"user-1": {UserID: "user-1", TotalPoints: balance, Tier: model.TierBronze},
	}}
	repo := &stubRepo{}
	log := &stubLog{}
	alerts := &stubAlerts{}
	svc := NewService(Deps{
		Repo:       repo,
		Ledger:     ledger.New(store),
		Resolver:   resolver.New(links{}),
		Redeemer:   &stubRedeemer{},
		Log:        log,
		Alerts:     alerts,
		PollWindow: 30 * time.Minute,
	})
	return svc, store, repo, log, alerts
}

func TestDashboard_InvalidAccount(t *testing.T) {
	svc, _, _, _, _ := newTestService(0)

	_, err := svc.Dashboard(context.Background(), "12ab")
	if !errors.Is(err, ErrInvalidAccount) {
		t.Fatalf("expected ErrInvalidAccount, got %v", err)
	}
}

func TestDashboardByUser_Username(t *testing.T) {
	svc, _, _, _, _ := newTestService(2800)

	d, err := svc.DashboardByUser(context.Background(), "ADA")
	if err != nil {
		t.Fatalf("DashboardByUser error: %v", err)
	}
	if d.UserID != "user-1" || len(d.AccountNumbers) != 2 {
		t.Fatalf("unexpected dashboard identity: %+v", d)
	}
	if d.TotalPoints != 2800 || d.PointsToNextTier != 201 {
		t.Fatalf("unexpected points: total=%d next=%d", d.TotalPoints, d.PointsToNextTier)
	}
	if len(d.Tiers) != 5 || len(d.EarningRules) != 3 {
		t.Fatalf("unexpected tables: tiers=%d rules=%d", len(d.Tiers), len(d.EarningRules))
	}
}

func TestDashboardByUser_UnknownUsername(t *testing.T) {
	svc, _, _, _, _ := newTestService(0)

	_, err := svc.DashboardByUser(context.Background(), "nobody")
	if !errors.Is(err, resolver.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestAssignPoints_FromAmount(t *testing.T) {
	svc, store, _, _, alerts := newTestService(499)
	ctx := context.Background()

	c, err := svc.AssignPoints(ctx, "1001234567", 0, "BILL_PAYMENT", decimal.NewFromInt(1500))
	if err != nil {
		t.Fatalf("AssignPoints error: %v", err)
	}
	if c.TotalPoints != 502 || c.Tier != model.TierSilver {
		t.Fatalf("unexpected customer: %+v", c)
	}
	if len(alerts.types) != 2 || alerts.types[1] != model.AlertTierUpgrade {
		t.Fatalf("unexpected alerts: %v", alerts.types)
	}

	c, err = svc.AssignPoints(ctx, "1001234567", 50, "AIRTIME", decimal.NewFromInt(99))
	if err != nil {
		t.Fatalf("AssignPoints error: %v", err)
	}
	if c.TotalPoints != 502 {
		t.Fatalf("amount below floor must not change balance, got %d", c.TotalPoints)
	}
	if store.customers["user-1"].TotalPoints != 502 {
		t.Fatalf("stored balance changed: %d", store.customers["user-1"].TotalPoints)
	}
}

func TestAssignPoints_RawAndClear(t *testing.T) {
	svc, _, _, _, _ := newTestService(100)
	ctx := context.Background()

	c, err := svc.AssignPoints(ctx, "ada", 40, "TRANSFER", decimal.Zero)
	if err != nil {
		t.Fatalf("AssignPoints error: %v", err)
	}
	if c.TotalPoints != 140 {
		t.Fatalf("TotalPoints = %d, want 140", c.TotalPoints)
	}

	c, err = svc.AssignPoints(ctx, "ada", 0, "CLEAR_POINTS", decimal.Zero)
	if err != nil {
		t.Fatalf("AssignPoints error: %v", err)
	}
	if c.TotalPoints != 0 || c.Tier != model.TierBronze {
		t.Fatalf("unexpected customer after clear: %+v", c)
	}
}

func TestResetPoints(t *testing.T) {
	svc, _, _, _, _ := newTestService(100)

	if _, err := svc.ResetPoints(context.Background(), "ada", -1); !errors.Is(err, ErrInvalidPoints) {
		t.Fatalf("expected ErrInvalidPoints, got %v", err)
	}

	c, err := svc.ResetPoints(context.Background(), "ada", 6500)
	if err != nil {
		t.Fatalf("ResetPoints error: %v", err)
	}
	if c.TotalPoints != 6500 || c.Tier != model.TierPlatinum {
		t.Fatalf("unexpected customer: %+v", c)
	}
}

func TestRedeem_ParsesType(t *testing.T) {
	redeemer := &stubRedeemer{}
	svc := NewService(Deps{Redeemer: redeemer})

	if _, err := svc.Redeem(context.Background(), "1001234567", 10, "Data Purchase"); err != nil {
		t.Fatalf("Redeem error: %v", err)
	}
	if redeemer.gotType != model.TransactionAirtime {
		t.Fatalf("type = %s, want AIRTIME", redeemer.gotType)
	}
}

func TestRedemptionStatus(t *testing.T) {
	svc, _, repo, log, _ := newTestService(0)
	ctx := context.Background()
	repo.redemption = &model.PendingRedemption{
		TransactionID: "RED-1",
		UserID:        "user-1",
		AccountNumber: "1001234567",
		Status:        model.RedemptionConfirmed,
	}

	st, err := svc.RedemptionStatus(ctx, "ada", "RED-1")
	if err != nil {
		t.Fatalf("RedemptionStatus error: %v", err)
	}
	if st.Credited || st.Status != model.RedemptionConfirmed {
		t.Fatalf("unexpected status: %+v", st)
	}

	log.credit = &model.TransactionRecord{RequestID: "RED-1", Amount: decimal.NewFromInt(500)}
	st, err = svc.RedemptionStatus(ctx, "ada", "RED-1")
	if err != nil {
		t.Fatalf("RedemptionStatus error: %v", err)
	}
	if !st.Credited || st.Credit == nil {
		t.Fatalf("expected credit, got %+v", st)
	}

	if _, err := svc.RedemptionStatus(ctx, "2009999999", "RED-1"); !errors.Is(err, repository.ErrRedemptionNotFound) {
		t.Fatalf("foreign redemption must be hidden, got %v", err)
	}
}

func TestRecentTransactions_UsesAllAccounts(t *testing.T) {
	svc, _, _, log, _ := newTestService(0)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if _, err := svc.RecentTransactions(context.Background(), "ada"); err != nil {
		t.Fatalf("RecentTransactions error: %v", err)
	}
	if len(log.accounts) != 2 || log.limit != 10 {
		t.Fatalf("unexpected query: accounts=%v limit=%d", log.accounts, log.limit)
	}
	if !log.since.Equal(now.Add(-24 * time.Hour)) {
		t.Fatalf("since = %v", log.since)
	}
}

func TestPruneProcessed_RetentionMustExceedWindow(t *testing.T) {
	svc, _, repo, _, _ := newTestService(0)
	repo.pruned = 7

	if _, err := svc.PruneProcessed(context.Background(), 10*time.Minute); !errors.Is(err, ErrRetentionTooShort) {
		t.Fatalf("expected ErrRetentionTooShort, got %v", err)
	}

	n, err := svc.PruneProcessed(context.Background(), 720*time.Hour)
	if err != nil {
		t.Fatalf("PruneProcessed error: %v", err)
	}
	if n != 7 || repo.prunedBefore.IsZero() {
		t.Fatalf("unexpected prune: n=%d before=%v", n, repo.prunedBefore)
	}
}

func TestLoadCatalog(t *testing.T) {
	opts, err := LoadCatalog("")
	if err != nil || len(opts) != 4 {
		t.Fatalf("default catalog: %v, %d options", err, len(opts))
	}

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := []byte(`options:
  - id: cash
    name: Cash Out
    type: transfer
    min_points: 100
  - id: power
    name: Electricity
    type: bill payment
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	opts, err = LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog error: %v", err)
	}
	if len(opts) != 2 || opts[0].MinPoints != 100 || opts[1].Type != model.TransactionBillPayment || opts[1].MinPoints != 1 {
		t.Fatalf("unexpected options: %+v", opts)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("options:\n  - id: x\n    name: X\n    type: clear_points\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCatalog(bad); err == nil {
		t.Fatalf("expected error for clear_points option")
	}
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/keyloyalty/internal/logbuf"
	"github.com/mmeshcher/keyloyalty/internal/middleware"
	"github.com/mmeshcher/keyloyalty/internal/model"
	"github.com/mmeshcher/keyloyalty/internal/redemption"
	"github.com/mmeshcher/keyloyalty/internal/repository"
	"github.com/mmeshcher/keyloyalty/internal/resolver"
	"github.com/mmeshcher/keyloyalty/internal/service"
)

const testAPIKey = "test-key"

type stubService struct {
	dashboardResp *model.Dashboard
	dashboardErr  error

	redeemResp model.RedemptionResult
	redeemErr  error
	redeemReq  redeemRequest

	assignAmount decimal.Decimal

	confirmErr  error
	rollbackErr error
	gotReason   string

	pendingOlderThan time.Duration
}

func (s *stubService) Dashboard(ctx context.Context, account string) (*model.Dashboard, error) {
	return s.dashboardResp, s.dashboardErr
}

func (s *stubService) DashboardByUser(ctx context.Context, user string) (*model.Dashboard, error) {
	return s.dashboardResp, s.dashboardErr
}

func (s *stubService) RedemptionOptions() []model.RedemptionOption {
	return service.DefaultRedemptionOptions()
}

func (s *stubService) Redeem(ctx context.Context, account string, pts int64, typ string) (model.RedemptionResult, error) {
	s.redeemReq = redeemRequest{AccountNumber: account, Points: pts, RedemptionType: typ}
	return s.redeemResp, s.redeemErr
}

func (s *stubService) AssignPoints(ctx context.Context, user string, pts int64, typ string, amount decimal.Decimal) (model.CustomerLoyalty, error) {
	s.assignAmount = amount
	return model.CustomerLoyalty{UserID: user, TotalPoints: pts}, nil
}

func (s *stubService) ResetPoints(ctx context.Context, user string, pts int64) (model.CustomerLoyalty, error) {
	if pts < 0 {
		return model.CustomerLoyalty{}, fmt.Errorf("%w: %d", service.ErrInvalidPoints, pts)
	}
	return model.CustomerLoyalty{UserID: user, TotalPoints: pts}, nil
}

func (s *stubService) RedemptionStatus(ctx context.Context, user, id string) (*model.CreditStatus, error) {
	return &model.CreditStatus{TransactionID: id, Status: model.RedemptionPending}, nil
}

func (s *stubService) Confirm(ctx context.Context, id string) (*model.PendingRedemption, error) {
	if s.confirmErr != nil {
		return nil, s.confirmErr
	}
	return &model.PendingRedemption{TransactionID: id, Status: model.RedemptionConfirmed}, nil
}

func (s *stubService) Rollback(ctx context.Context, id, reason string) (model.CustomerLoyalty, error) {
	s.gotReason = reason
	return model.CustomerLoyalty{TotalPoints: 600}, s.rollbackErr
}

func (s *stubService) PendingRedemptions(ctx context.Context, olderThan time.Duration) ([]model.PendingRedemption, error) {
	s.pendingOlderThan = olderThan
	return nil, nil
}

func (s *stubService) RecentTransactions(ctx context.Context, user string) ([]model.TransactionRecord, error) {
	return nil, nil
}

func (s *stubService) Alerts(ctx context.Context, user string, limit int) ([]model.Alert, error) {
	return nil, nil
}

func newTestHandler(t *testing.T, svc Service, logs LogSource) *Handler {
	t.Helper()

	logger, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}

	auth := middleware.NewAuthMiddleware(testAPIKey)

	return NewHandler(svc, logs, logger, auth, nil)
}

func serve(h *Handler, method, path string, body []byte) *http.Response {
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.Header.Set("X-API-Key", testAPIKey)

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)
	return rec.Result()
}

func TestHealth_NoAuth(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestDashboard_RequiresAPIKey(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/loyalty/dashboard/1001234567", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestDashboard_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid account", fmt.Errorf("%w: %q", service.ErrInvalidAccount, "12"), http.StatusBadRequest},
		{"unknown user", resolver.ErrAccountNotFound, http.StatusNotFound},
		{"storage failure", context.DeadlineExceeded, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, &stubService{dashboardErr: tt.err}, nil)

			res := serve(h, http.MethodGet, "/api/loyalty/dashboard/1001234567", nil)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
		})
	}
}

func TestDashboard_JSONResponse(t *testing.T) {
	svc := &stubService{dashboardResp: &model.Dashboard{UserID: "user-1", TotalPoints: 450, Tier: model.TierBronze}}
	h := newTestHandler(t, svc, nil)

	res := serve(h, http.MethodGet, "/api/loyalty/dashboard/user/ada", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if ct := res.Header.Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type = %q, want application/json", ct)
	}

	var got map[string]any
	if err := json.NewDecoder(res.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["tier"] != "Bronze" || got["totalPoints"] != float64(450) {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestRedeem_StatusByOutcome(t *testing.T) {
	tests := []struct {
		name string
		resp model.RedemptionResult
		want int
	}{
		{"success", model.RedemptionResult{Success: true, Status: model.RedemptionConfirmed}, http.StatusOK},
		{"insufficient", model.RedemptionResult{Success: false, RemainingPoints: 300}, http.StatusPaymentRequired},
		{"rolled back", model.RedemptionResult{Success: false, Status: model.RedemptionRolledBack}, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &stubService{redeemResp: tt.resp}
			h := newTestHandler(t, svc, nil)

			body, _ := json.Marshal(redeemRequest{AccountNumber: "1001234567", Points: 500, RedemptionType: "TRANSFER"})
			res := serve(h, http.MethodPost, "/api/loyalty/redeem", body)
			defer res.Body.Close()

			if res.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", res.StatusCode, tt.want)
			}
			if svc.redeemReq.Points != 500 || svc.redeemReq.AccountNumber != "1001234567" {
				t.Fatalf("unexpected request passed to service: %+v", svc.redeemReq)
			}
		})
	}
}

func TestRedeem_BadBody(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	res := serve(h, http.MethodPost, "/api/loyalty/redeem", []byte("{"))
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestRedeem_InvalidType(t *testing.T) {
	svc := &stubService{redeemErr: fmt.Errorf("%w: CLEAR_POINTS", redemption.ErrInvalidType)}
	h := newTestHandler(t, svc, nil)

	body, _ := json.Marshal(redeemRequest{AccountNumber: "1001234567", Points: 5, RedemptionType: "CLEAR_POINTS"})
	res := serve(h, http.MethodPost, "/api/loyalty/redeem", body)
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestAssignPoints_DecimalAmount(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, nil)

	res := serve(h, http.MethodPost, "/api/loyalty/assign-points",
		[]byte(`{"userOrAccount":"ada","points":0,"transactionType":"AIRTIME","amount":"1500.50"}`))
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if !svc.assignAmount.Equal(decimal.RequireFromString("1500.50")) {
		t.Fatalf("amount = %s", svc.assignAmount)
	}
}

func TestResetPoints_Negative(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	res := serve(h, http.MethodPost, "/api/loyalty/reset-points", []byte(`{"userOrAccount":"ada","points":-5}`))
	defer res.Body.Close()

	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestConfirm_ConflictWhenFinalized(t *testing.T) {
	svc := &stubService{confirmErr: fmt.Errorf("%w: RED-1 is CONFIRMED", redemption.ErrAlreadyFinalized)}
	h := newTestHandler(t, svc, nil)

	res := serve(h, http.MethodPost, "/api/loyalty/redemptions/RED-1/confirm", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusConflict)
	}
}

func TestRollback_PassesReason(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, nil)

	res := serve(h, http.MethodPost, "/api/loyalty/redemptions/RED-1/rollback", []byte(`{"reason":"biller down"}`))
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.gotReason != "biller down" {
		t.Fatalf("reason = %q", svc.gotReason)
	}
}

func TestRollback_NotFound(t *testing.T) {
	svc := &stubService{rollbackErr: repository.ErrRedemptionNotFound}
	h := newTestHandler(t, svc, nil)

	res := serve(h, http.MethodPost, "/api/loyalty/redemptions/RED-404/rollback", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

func TestPendingRedemptions_OlderThan(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, nil)

	res := serve(h, http.MethodGet, "/api/loyalty/redemptions/pending?olderThan=1h", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if svc.pendingOlderThan != time.Hour {
		t.Fatalf("olderThan = %s, want 1h", svc.pendingOlderThan)
	}

	bad := serve(h, http.MethodGet, "/api/loyalty/redemptions/pending?olderThan=soon", nil)
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", bad.StatusCode, http.StatusBadRequest)
	}
}

func TestLogs_ReturnsRecentEntries(t *testing.T) {
	buf := logbuf.New(10)
	buf.Add(logbuf.Entry{Level: "info", Message: "loyalty event published"})
	buf.Add(logbuf.Entry{Level: "error", Message: "transaction log query failed"})
	h := newTestHandler(t, &stubService{}, buf)

	res := serve(h, http.MethodGet, "/api/logs?limit=1", nil)
	defer res.Body.Close()

	var entries []logbuf.Entry
	if err := json.NewDecoder(res.Body).Decode(&entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Message != "transaction log query failed" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newTestHandler(t, &stubService{}, nil)

	res := serve(h, http.MethodGet, "/api/unknown", nil)
	defer res.Body.Close()

	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
}

package handler

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mmeshcher/keyloyalty/internal/model"
)

func gzipBody(t *testing.T, s string) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return &buf
}

func gunzip(t *testing.T, r io.Reader) []byte {
	t.Helper()

	zr, err := gzip.NewReader(r)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer zr.Close()

	body, err := io.ReadAll(zr)
	if err != nil {
		t.Fatalf("read gzip body: %v", err)
	}
	return body
}

func TestRedeem_GzipRequestBody(t *testing.T) {
	svc := &stubService{redeemResp: model.RedemptionResult{Success: true, RemainingPoints: 100, Status: model.RedemptionConfirmed}}
	h := newTestHandler(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/loyalty/redeem",
		gzipBody(t, `{"accountNumber":"1001234567","points":500,"redemptionType":"TRANSFER"}`))
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Encoding", "gzip")

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("Content-Encoding") != "" {
		t.Errorf("response must not be compressed without Accept-Encoding")
	}

	want := redeemRequest{AccountNumber: "1001234567", Points: 500, RedemptionType: "TRANSFER"}
	if svc.redeemReq != want {
		t.Fatalf("service got %+v, want %+v", svc.redeemReq, want)
	}
}

func TestRedeem_BrokenGzipBody(t *testing.T) {
	svc := &stubService{}
	h := newTestHandler(t, svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/loyalty/redeem", bytes.NewBufferString(`{"points":500}`))
	req.Header.Set("X-API-Key", testAPIKey)
	req.Header.Set("Content-Encoding", "gzip")

	rec := httptest.NewRecorder()
	h.SetupRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	if svc.redeemReq.Points != 0 {
		t.Fatalf("service must not be called, got %+v", svc.redeemReq)
	}
}

func TestGzipResponses(t *testing.T) {
	tests := []struct {
		name       string
		svc        *stubService
		method     string
		path       string
		body       string
		wantStatus int
		wantField  string
	}{
		{
			name:       "dashboard",
			svc:        &stubService{dashboardResp: &model.Dashboard{UserID: "user-1", TotalPoints: 2800, Tier: model.TierGold}},
			method:     http.MethodGet,
			path:       "/api/loyalty/dashboard/1001234567",
			wantStatus: http.StatusOK,
			wantField:  "totalPoints",
		},
		{
			name:       "insufficient points keeps status",
			svc:        &stubService{redeemResp: model.RedemptionResult{Success: false, Message: "Insufficient points for redemption", RemainingPoints: 300}},
			method:     http.MethodPost,
			path:       "/api/loyalty/redeem",
			body:       `{"accountNumber":"1001234567","points":500}`,
			wantStatus: http.StatusPaymentRequired,
			wantField:  "remainingPoints",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(t, tt.svc, nil)

			var body io.Reader
			if tt.body != "" {
				body = bytes.NewBufferString(tt.body)
			}
			req := httptest.NewRequest(tt.method, tt.path, body)
			req.Header.Set("X-API-Key", testAPIKey)
			req.Header.Set("Accept-Encoding", "gzip")

			rec := httptest.NewRecorder()
			h.SetupRouter().ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if rec.Header().Get("Content-Encoding") != "gzip" {
				t.Fatalf("Content-Encoding = %q, want gzip", rec.Header().Get("Content-Encoding"))
			}

			var got map[string]any
			if err := json.Unmarshal(gunzip(t, rec.Body), &got); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if _, ok := got[tt.wantField]; !ok {
				t.Errorf("response has no %q: %v", tt.wantField, got)
			}
		})
	}
}

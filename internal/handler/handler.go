// Package handler содержит HTTP-обработчики API сервиса лояльности.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
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

// Service определяет контракт прикладной логики, используемой HTTP-обработчиками.
type Service interface {
	Dashboard(ctx context.Context, accountNumber string) (*model.Dashboard, error)
	DashboardByUser(ctx context.Context, userOrAccount string) (*model.Dashboard, error)
	RedemptionOptions() []model.RedemptionOption
	Redeem(ctx context.Context, accountNumber string, pts int64, redemptionType string) (model.RedemptionResult, error)
	AssignPoints(ctx context.Context, userOrAccount string, pts int64, transactionType string, amount decimal.Decimal) (model.CustomerLoyalty, error)
	ResetPoints(ctx context.Context, userOrAccount string, pts int64) (model.CustomerLoyalty, error)
	RedemptionStatus(ctx context.Context, userOrAccount, transactionID string) (*model.CreditStatus, error)
	Confirm(ctx context.Context, transactionID string) (*model.PendingRedemption, error)
	Rollback(ctx context.Context, transactionID, reason string) (model.CustomerLoyalty, error)
	PendingRedemptions(ctx context.Context, olderThan time.Duration) ([]model.PendingRedemption, error)
	RecentTransactions(ctx context.Context, userOrAccount string) ([]model.TransactionRecord, error)
	Alerts(ctx context.Context, userOrAccount string, limit int) ([]model.Alert, error)
}

// LogSource отдаёт последние записи журнала.
type LogSource interface {
	Recent(limit int) []logbuf.Entry
}

// Handler реализует HTTP-обработчики API сервиса лояльности.
type Handler struct {
	service        Service
	logs           LogSource
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	allowedOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов; logs может быть nil.
func NewHandler(s Service, logs LogSource, logger *zap.Logger, auth *middleware.AuthMiddleware, allowedOrigins []string) *Handler {
	return &Handler{
		service:        s,
		logs:           logs,
		logger:         logger,
		authMiddleware: auth,
		allowedOrigins: allowedOrigins,
	}
}

// Health сообщает, что сервис запущен.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Dashboard возвращает сводку лояльности по номеру счёта.
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Dashboard(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		h.writeError(w, "dashboard error", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// DashboardByUser возвращает сводку лояльности по имени пользователя или счёту.
func (h *Handler) DashboardByUser(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.DashboardByUser(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		h.writeError(w, "dashboard by user error", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RedemptionOptions возвращает каталог способов погашения.
func (h *Handler) RedemptionOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.RedemptionOptions())
}

type redeemRequest struct {
	AccountNumber  string `json:"accountNumber"`
	Points         int64  `json:"points"`
	RedemptionType string `json:"redemptionType"`
}

// Redeem погашает баллы. Недостаток баллов отдаётся как 402, отменённое погашение как 502;
// в обоих случаях тело содержит результат с актуальным балансом.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	res, err := h.service.Redeem(r.Context(), req.AccountNumber, req.Points, req.RedemptionType)
	if err != nil {
		h.writeError(w, "redeem error", err)
		return
	}

	status := http.StatusOK
	switch {
	case res.Success:
	case res.Status == model.RedemptionRolledBack:
		status = http.StatusBadGateway
	default:
		status = http.StatusPaymentRequired
	}
	writeJSON(w, status, res)
}

type assignRequest struct {
	UserOrAccount   string          `json:"userOrAccount"`
	Points          int64           `json:"points"`
	TransactionType string          `json:"transactionType"`
	Amount          decimal.Decimal `json:"amount"`
}

// AssignPoints начисляет баллы вручную.
func (h *Handler) AssignPoints(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserOrAccount == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.AssignPoints(r.Context(), req.UserOrAccount, req.Points, req.TransactionType, req.Amount)
	if err != nil {
		h.writeError(w, "assign points error", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

type resetRequest struct {
	UserOrAccount string `json:"userOrAccount"`
	Points        int64  `json:"points"`
}

// ResetPoints устанавливает баланс в абсолютное значение.
func (h *Handler) ResetPoints(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserOrAccount == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	c, err := h.service.ResetPoints(r.Context(), req.UserOrAccount, req.Points)
	if err != nil {
		h.writeError(w, "reset points error", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// RedemptionStatus возвращает состояние погашения; владелец задаётся параметром user.
func (h *Handler) RedemptionStatus(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	st, err := h.service.RedemptionStatus(r.Context(), user, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "redemption status error", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ConfirmRedemption подтверждает незавершённое погашение.
func (h *Handler) ConfirmRedemption(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.Confirm(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "confirm redemption error", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type rollbackRequest struct {
	Reason string `json:"reason"`
}

// RollbackRedemption отменяет незавершённое погашение. Тело запроса необязательно.
func (h *Handler) RollbackRedemption(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	c, err := h.service.Rollback(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.writeError(w, "rollback redemption error", err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// PendingRedemptions возвращает незавершённые погашения старше olderThan (по умолчанию 15m).
func (h *Handler) PendingRedemptions(w http.ResponseWriter, r *http.Request) {
	olderThan := 15 * time.Minute
	if v := r.URL.Query().Get("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		olderThan = d
	}

	pending, err := h.service.PendingRedemptions(r.Context(), olderThan)
	if err != nil {
		h.writeError(w, "pending redemptions error", err)
		return
	}
	if pending == nil {
		pending = []model.PendingRedemption{}
	}
	writeJSON(w, http.StatusOK, pending)
}

// RecentTransactions возвращает операции пользователя за последние сутки.
func (h *Handler) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	records, err := h.service.RecentTransactions(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		h.writeError(w, "recent transactions error", err)
		return
	}
	if records == nil {
		records = []model.TransactionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// Alerts возвращает последние уведомления пользователя.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	alerts, err := h.service.Alerts(r.Context(), chi.URLParam(r, "user"), limit)
	if err != nil {
		h.writeError(w, "alerts error", err)
		return
	}
	if alerts == nil {
		alerts = []model.Alert{}
	}
	writeJSON(w, http.StatusOK, alerts)
}

// Logs возвращает последние записи журнала сервиса.
func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	if h.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries := h.logs.Recent(limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidAccount),
		errors.Is(err, service.ErrInvalidPoints),
		errors.Is(err, service.ErrRetentionTooShort),
		errors.Is(err, redemption.ErrInvalidAccount),
		errors.Is(err, redemption.ErrInvalidPoints),
		errors.Is(err, redemption.ErrInvalidType):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, resolver.ErrAccountNotFound),
		errors.Is(err, repository.ErrRedemptionNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, redemption.ErrAlreadyFinalized):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	default:
		h.logger.Error(msg, zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	custommiddleware "github.com/mmeshcher/keyloyalty/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса лояльности.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		MaxAge:         300,
	}))
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Get("/api/health", h.Health)

	r.Group(func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Route("/api/loyalty", func(r chi.Router) {
			r.Get("/dashboard/{account}", h.Dashboard)
			r.Get("/dashboard/user/{user}", h.DashboardByUser)
			r.Get("/redemption-options", h.RedemptionOptions)
			r.Post("/redeem", h.Redeem)

			r.Post("/assign-points", h.AssignPoints)
			r.Post("/reset-points", h.ResetPoints)

			r.Get("/redemptions/pending", h.PendingRedemptions)
			r.Get("/redemptions/{id}/status", h.RedemptionStatus)
			r.Post("/redemptions/{id}/confirm", h.ConfirmRedemption)
			r.Post("/redemptions/{id}/rollback", h.RollbackRedemption)

			r.Get("/transactions/{user}", h.RecentTransactions)
			r.Get("/alerts/{user}", h.Alerts)
		})

		r.Get("/api/logs", h.Logs)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}

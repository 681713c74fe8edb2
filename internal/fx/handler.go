package fx

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pampa-erp/pampa/internal/platform/httpx"
	"github.com/pampa-erp/pampa/internal/rbac"
)

// Handler serves the exchange-rate table.
type Handler struct {
	service *Service
	logger  *slog.Logger
	rbac    rbac.Middleware
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbacMW}
}

// MountRoutes attaches rate routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleAccountant, rbac.RoleTreasury)).Post("/", h.create)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	rates, err := h.service.List(r.Context(), r.URL.Query().Get("currency"))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"ledger_currency": h.service.LedgerCurrency(), "data": rates})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateRateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	rate, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rate)
}

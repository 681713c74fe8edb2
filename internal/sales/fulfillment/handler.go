package fulfillment

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pampa-erp/pampa/internal/platform/httpx"
	"github.com/pampa-erp/pampa/internal/rbac"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbacMW}
}

// MountQuoteRoutes registers invoice generation under /quotes.
func (h *Handler) MountQuoteRoutes(r chi.Router) {
	r.With(h.rbac.RequireRole(rbac.RoleSales)).Post("/{id}/invoices", h.generate)
}

// MountInvoiceRoutes registers routes relative to /invoices.
func (h *Handler) MountInvoiceRoutes(r chi.Router) {
	r.Get("/{id}", h.show)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleSales, rbac.RoleAccountant))
		r.Post("/{id}/authorize", h.authorize)
		r.Post("/{id}/cancel", h.cancel)
	})
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req GenerateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	inv, err := h.service.GenerateInvoice(r.Context(), id, req, httpx.IdempotencyKey(r))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	h.invoice(w, r, func(id int64) (invoices.Invoice, error) { return h.service.GetInvoice(r.Context(), id) })
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	var req AuthorizeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.invoice(w, r, func(id int64) (invoices.Invoice, error) { return h.service.Authorize(r.Context(), id, req) })
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	var req CancelRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.invoice(w, r, func(id int64) (invoices.Invoice, error) { return h.service.CancelInvoice(r.Context(), id, req) })
}

func (h *Handler) invoice(w http.ResponseWriter, r *http.Request, fn func(int64) (invoices.Invoice, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	inv, err := fn(id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

package quotations

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/pampa-erp/pampa/internal/platform/httpx"
	"github.com/pampa-erp/pampa/internal/rbac"
	"github.com/pampa-erp/pampa/internal/shared"
)

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbacMW}
}

// MountRoutes registers quote routes relative to /quotes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/kanban", h.kanban)
	r.Get("/{id}", h.show)
	r.Get("/{id}/fulfillment", h.fulfillment)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireRole(rbac.RoleSales))
		r.Post("/", h.create)
		r.Post("/{id}/send", h.send)
		r.Post("/{id}/accept", h.accept)
		r.Post("/{id}/reject", h.reject)
	})
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := ListQuotesRequest{Status: Status(strings.ToUpper(q.Get("status"))), Page: shared.ParsePageRequest(q)}
	if raw := q.Get("customer_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.RespondError(w, r, h.logger, shared.NewValidationError("customer_id", "must be numeric"))
			return
		}
		req.CustomerID = &id
	}
	items, pagination, err := h.service.List(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": pagination})
}

func (h *Handler) kanban(w http.ResponseWriter, r *http.Request) {
	board, err := h.service.Kanban(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, board)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

func (h *Handler) fulfillment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	f, err := h.service.Fulfillment(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateQuoteRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, q)
}

func (h *Handler) send(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id int64) (Quote, error) { return h.service.Send(r.Context(), id) })
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id int64) (Quote, error) { return h.service.Accept(r.Context(), id) })
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	h.transition(w, r, func(id int64) (Quote, error) { return h.service.Reject(r.Context(), id, req) })
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(int64) (Quote, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q, err := fn(id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, q)
}

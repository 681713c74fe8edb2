package journals

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pampa-erp/pampa/internal/platform/httpx"
	"github.com/pampa-erp/pampa/internal/rbac"
	"github.com/pampa-erp/pampa/internal/shared"
)

// Handler serves journal entries and ledger projections.
type Handler struct {
	service *Service
	logger  *slog.Logger
	rbac    rbac.Middleware
	now     func() time.Time
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, rbacMW rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbacMW, now: time.Now}
}

// MountRoutes attaches journal, ledger and balance routes under the accounting prefix.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/journals", func(r chi.Router) {
		r.Get("/", h.list)
		r.Get("/{id}", h.get)
		r.Group(func(r chi.Router) {
			r.Use(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleAccountant))
			r.Post("/", h.create)
			r.Put("/{id}", h.update)
			r.Delete("/{id}", h.delete)
			r.Post("/{id}/confirm", h.confirm)
			r.Post("/{id}/reverse", h.reverse)
		})
	})
	r.Get("/ledger/{accountID}", h.ledger)
	r.Get("/balances", h.balances)
	r.With(h.rbac.RequireRole(rbac.RoleAdmin, rbac.RoleAccountant)).Get("/integrity", h.integrity)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Status:       Status(q.Get("status")),
		SourceModule: q.Get("source_module"),
		Page:         shared.ParsePageRequest(q),
	}
	var err error
	if filter.From, err = parseDateParam(q.Get("from"), "from"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if filter.To, err = parseDateParam(q.Get("to"), "to"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entries, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": entries, "pagination": page})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req EntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	in, err := req.ToInput(shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entry, err := h.service.Post(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req EntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	in, err := req.ToInput(shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entry, err := h.service.UpdateDraft(r.Context(), id, in)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) confirm(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entry, err := h.service.Confirm(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	var req ReverseRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	in := ReverseInput{EntryID: id, Reason: req.Reason, Actor: shared.ActorFromContext(r.Context())}
	if in.Date, err = parseDateParam(req.Date, "date"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	entry, err := h.service.Reverse(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) ledger(w http.ResponseWriter, r *http.Request) {
	accountID, err := httpx.IDParam(r, "accountID")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	q := r.URL.Query()
	today := shared.Day(h.now())
	from := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := today
	if p, err := parseDateParam(q.Get("from"), "from"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	} else if p != nil {
		from = *p
	}
	if p, err := parseDateParam(q.Get("to"), "to"); err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	} else if p != nil {
		to = *p
	}
	ledger, err := h.service.AccountLedger(r.Context(), accountID, from, to)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ledger)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	asOf := shared.Day(h.now())
	p, err := parseDateParam(r.URL.Query().Get("as_of"), "as_of")
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	if p != nil {
		asOf = *p
	}
	rows, err := h.service.Balances(r.Context(), asOf)
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"as_of": asOf.Format(time.DateOnly), "data": rows})
}

func (h *Handler) integrity(w http.ResponseWriter, r *http.Request) {
	out, err := h.service.Imbalances(r.Context())
	if err != nil {
		httpx.RespondError(w, r, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balanced": len(out) == 0, "imbalances": out})
}

func parseDateParam(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, shared.NewValidationError(field, "must be YYYY-MM-DD")
	}
	return &t, nil
}

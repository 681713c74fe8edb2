package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/observability"
	"github.com/pampa-erp/pampa/internal/platform/httpx"
	"github.com/pampa-erp/pampa/internal/procurement"
	"github.com/pampa-erp/pampa/internal/rbac"
	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/sales/fulfillment"
	"github.com/pampa-erp/pampa/internal/sales/quotations"
	"github.com/pampa-erp/pampa/internal/treasury"
	"github.com/pampa-erp/pampa/jobs"
)

// Pinger reports whether a backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
	DB      Pinger

	RBACMiddleware     rbac.Middleware
	AccountsHandler    *accounts.Handler
	JournalsHandler    *journals.Handler
	QuotesHandler      *quotations.Handler
	FulfillmentHandler *fulfillment.Handler
	ProcurementHandler *procurement.Handler
	TreasuryHandler    *treasury.Handler
	InventoryHandler   *inventory.Handler
	RatesHandler       *fx.Handler
	CustomersHandler   *customers.Handler
	JobHandler         *jobs.Handler
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", healthz(params.DB, params.Logger))
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(params.RBACMiddleware.Authenticate)

		r.Route("/accounting", func(r chi.Router) {
			mount(r, "/accounts", params.AccountsHandler, (*accounts.Handler).MountRoutes)
			if params.JournalsHandler != nil {
				params.JournalsHandler.MountRoutes(r)
			}
		})
		r.Route("/quotes", func(r chi.Router) {
			if params.QuotesHandler != nil {
				params.QuotesHandler.MountRoutes(r)
			}
			if params.FulfillmentHandler != nil {
				params.FulfillmentHandler.MountQuoteRoutes(r)
			}
		})
		mount(r, "/invoices", params.FulfillmentHandler, (*fulfillment.Handler).MountInvoiceRoutes)
		mount(r, "/purchases", params.ProcurementHandler, (*procurement.Handler).MountRoutes)
		mount(r, "/suppliers", params.ProcurementHandler, (*procurement.Handler).MountSupplierRoutes)
		mount(r, "/receipts", params.TreasuryHandler, (*treasury.Handler).MountRoutes)
		mount(r, "/stock", params.InventoryHandler, (*inventory.Handler).MountRoutes)
		mount(r, "/exchange-rates", params.RatesHandler, (*fx.Handler).MountRoutes)
		if params.CustomersHandler != nil {
			params.CustomersHandler.MountRoutes(r)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "")
	})
	return r
}

func mount[H any](r chi.Router, prefix string, h *H, fn func(*H, chi.Router)) {
	if h == nil {
		return
	}
	r.Route(prefix, func(r chi.Router) { fn(h, r) })
}

func healthz(db Pinger, logger *slog.Logger) http.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				logger.Error("health check: database ping failed", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

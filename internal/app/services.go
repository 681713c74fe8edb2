package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/pampa-erp/pampa/internal/accounting/accounts"
	"github.com/pampa-erp/pampa/internal/accounting/journals"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/integration"
	"github.com/pampa-erp/pampa/internal/inventory"
	"github.com/pampa-erp/pampa/internal/observability"
	"github.com/pampa-erp/pampa/internal/procurement"
	"github.com/pampa-erp/pampa/internal/rbac"
	"github.com/pampa-erp/pampa/internal/sales/customers"
	"github.com/pampa-erp/pampa/internal/sales/fulfillment"
	"github.com/pampa-erp/pampa/internal/sales/invoices"
	"github.com/pampa-erp/pampa/internal/sales/quotations"
	"github.com/pampa-erp/pampa/internal/shared"
	"github.com/pampa-erp/pampa/internal/treasury"
)

// Services holds the wired domain services shared by the API and the worker.
type Services struct {
	Registry    *accounts.Registry
	Accounts    *accounts.Service
	Journals    *journals.Service
	Inventory   *inventory.Service
	Rates       *fx.Service
	Customers   *customers.Service
	Quotes      *quotations.Service
	Fulfillment *fulfillment.Service
	Procurement *procurement.Service
	Treasury    *treasury.Service
	Idempotency *shared.IdempotencyStore

	// Platform is nil when no external platform is configured.
	Platform *integration.PlatformClient
	Staging  *integration.StagingRepository
}

// BuildServices resolves the chart registry and wires every service over pool.
// redisClient may be nil, in which case caches fall back to memory or are skipped.
func BuildServices(ctx context.Context, cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) (*Services, error) {
	codes, err := cfg.ChartCodes()
	if err != nil {
		return nil, err
	}
	accountRepo := accounts.NewRepository(pool)
	registry, err := accounts.ResolveRegistry(ctx, accountRepo, codes)
	if err != nil {
		return nil, fmt.Errorf("resolve chart of accounts: %w", err)
	}

	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	var lookup *accounts.CachedLookup
	if redisClient != nil {
		lookup = accounts.NewCachedLookup(accountRepo, redisClient, cfg.AccountCacheTTL)
	}

	ledger := journals.NewService(journals.NewRepository(pool), auditLogger, logger)
	ledger.WithMetrics(metrics)

	stock := inventory.NewService(inventory.NewRepository(pool), auditLogger, idempotency, logger)

	external := &http.Client{Timeout: cfg.ExternalTimeout}
	var taxpayers customers.TaxpayerLookup
	if cfg.TaxIDBaseURL != "" {
		taxpayers = integration.NewTaxIDClient(cfg.TaxIDBaseURL, external)
	}
	customerRepo := customers.NewRepository(pool)
	quotes := quotations.NewService(quotations.NewRepository(pool), customerRepo, logger)

	svc := &Services{
		Registry:  registry,
		Accounts:  accounts.NewService(accountRepo, lookup, logger),
		Journals:  ledger,
		Inventory: stock,
		Rates:     fx.NewService(fx.NewRepository(pool), cfg.LedgerCurrency, logger),
		Customers: customers.NewService(customerRepo, taxpayers, cfg.ExternalTimeout, logger),
		Quotes:    quotes,
		Fulfillment: fulfillment.NewService(fulfillment.Deps{
			Repo:        fulfillment.NewRepository(pool),
			Quotes:      quotes,
			Invoices:    invoices.NewRepository(pool),
			Customers:   customerRepo,
			Journals:    ledger,
			Inventory:   stock,
			Accounts:    registry,
			Idempotency: idempotency,
			Metrics:     metrics,
			Logger:      logger,
		}, fulfillment.Config{
			IssuerCondition: customers.TaxCondition(cfg.CompanyTaxCondition),
			LedgerCurrency:  cfg.LedgerCurrency,
			PointOfSale:     cfg.PointOfSale,
		}),
		Procurement: procurement.NewService(procurement.Deps{
			Repo:           procurement.NewRepository(pool),
			Journals:       ledger,
			Inventory:      stock,
			Accounts:       registry,
			Audit:          auditLogger,
			Idempotency:    idempotency,
			LedgerCurrency: cfg.LedgerCurrency,
			Logger:         logger,
		}),
		Treasury: treasury.NewService(treasury.Deps{
			Repo:        treasury.NewRepository(pool),
			Customers:   customerRepo,
			Journals:    ledger,
			Accounts:    registry,
			Idempotency: idempotency,
			Logger:      logger,
		}),
		Idempotency: idempotency,
		Staging:     integration.NewStagingRepository(pool),
	}

	if cfg.ExternalBaseURL != "" {
		var cache integration.SessionCache = integration.NewMemorySessionCache()
		if redisClient != nil {
			cache = integration.NewRedisSessionCache(redisClient)
		}
		sessions := integration.NewSessionProvider(integration.Credentials{
			BaseURL:  cfg.ExternalBaseURL,
			Username: cfg.ExternalUsername,
			Password: cfg.ExternalPassword,
		}, cache, external).WithLogger(logger)
		svc.Platform = integration.NewPlatformClient(cfg.ExternalBaseURL, sessions, external, integration.WithLogger(logger))
	}

	logger.Info("services ready", slog.Int("chart_keys", len(registry.Keys())), slog.String("ledger_currency", cfg.LedgerCurrency))
	return svc, nil
}

// MountHandlers fills the HTTP handlers of params from the services.
func (s *Services) MountHandlers(params *RouterParams) {
	logger, mw := params.Logger, params.RBACMiddleware
	params.AccountsHandler = accounts.NewHandler(logger, s.Accounts, mw)
	params.JournalsHandler = journals.NewHandler(logger, s.Journals, mw)
	params.QuotesHandler = quotations.NewHandler(logger, s.Quotes, mw)
	params.FulfillmentHandler = fulfillment.NewHandler(logger, s.Fulfillment, mw)
	params.ProcurementHandler = procurement.NewHandler(logger, s.Procurement, mw)
	params.TreasuryHandler = treasury.NewHandler(logger, s.Treasury, mw)
	params.InventoryHandler = inventory.NewHandler(logger, s.Inventory, mw)
	params.RatesHandler = fx.NewHandler(logger, s.Rates, mw)
	params.CustomersHandler = customers.NewHandler(logger, s.Customers, mw)
}

// NewRBAC returns the header based principal middleware.
func NewRBAC(logger *slog.Logger) rbac.Middleware {
	return rbac.Middleware{Logger: logger}
}

// AsynqRedis returns the queue connection options.
func (c *Config) AsynqRedis() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pampa-erp/pampa/cmd/pampa/cli"
	"github.com/pampa-erp/pampa/internal/app"
	"github.com/pampa-erp/pampa/internal/fx"
	"github.com/pampa-erp/pampa/internal/observability"
	"github.com/pampa-erp/pampa/internal/platform/cache"
	"github.com/pampa-erp/pampa/internal/platform/db"
	"github.com/pampa-erp/pampa/internal/platform/migrate"
	"github.com/pampa-erp/pampa/jobs"
)

const usage = `usage: pampa <command> [flags]

commands:
  serve                       run the HTTP API (default)
  migrate up|down|version     manage the database schema
  jobs trigger <task>         enqueue a background job now
  jobs stats                  show the default queue counters
  rates validate              report days without an exchange rate
`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, stop, cfg, logger)
	case "migrate":
		code = runMigrate(ctx, cfg, logger, args)
	case "jobs":
		code = runJobs(ctx, cfg, args)
	case "rates":
		code = runRates(ctx, cfg, logger, args)
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", command, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	if cfg.MigrateOnStart {
		if err := migrateUp(pool, logger); err != nil {
			logger.Error("migrate on start", slog.Any("error", err))
			return 1
		}
	}

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Warn("redis unavailable, account and session caches disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services, err := app.BuildServices(ctx, cfg, pool, redisClient, metrics, logger)
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		return 1
	}

	inspector := asynq.NewInspector(cfg.AsynqRedis())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	params := app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		DB:             pool,
		RBACMiddleware: app.NewRBAC(logger),
		JobHandler:     jobs.NewHandler(inspector, logger),
	}
	services.MountHandlers(&params)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      app.NewRouter(params),
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func migrateUp(pool *pgxpool.Pool, logger *slog.Logger) error {
	m, err := migrate.New(pool, logger)
	if err != nil {
		return err
	}
	return errors.Join(m.Up(), m.Close())
}

func runMigrate(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) != 1 {
		fmt.Fprint(os.Stderr, "usage: pampa migrate up|down|version\n")
		return 2
	}
	pool, err := db.New(ctx, cfg.PGDSN, 2)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	m, err := migrate.New(pool, logger)
	if err != nil {
		logger.Error("init migrator", slog.Any("error", err))
		return 1
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("migrator close", slog.Any("error", err))
		}
	}()

	switch args[0] {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	case "version":
		var (
			version uint
			dirty   bool
		)
		version, dirty, err = m.Version()
		if err == nil {
			fmt.Printf("version %d dirty=%t\n", version, dirty)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown migrate action %q\n", args[0])
		return 2
	}
	if err != nil {
		logger.Error("migrate "+args[0], slog.Any("error", err))
		return 1
	}
	return 0
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "usage: pampa jobs trigger <task>|stats\n")
		return 2
	}
	helper := cli.NewJobsCLI(cfg.AsynqRedis())
	defer helper.Close()

	switch args[0] {
	case "trigger":
		if len(args) != 2 {
			fmt.Fprint(os.Stderr, "usage: pampa jobs trigger <task>\n")
			return 2
		}
		info, err := helper.Trigger(ctx, args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
	case "stats":
		stats, err := helper.InspectQueue(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
		scheduled, err := helper.ListScheduled(ctx, 10)
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		for _, task := range scheduled {
			fmt.Printf(" - %s %s at %s\n", task.Type, task.ID, task.NextProcessAt.Format(time.RFC3339))
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown jobs action %q\n", args[0])
		return 2
	}
	return 0
}

func runRates(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "validate" {
		fmt.Fprint(os.Stderr, "usage: pampa rates validate --currency USD --from YYYY-MM-DD --to YYYY-MM-DD [--json]\n")
		return 2
	}
	fs := flag.NewFlagSet("rates validate", flag.ContinueOnError)
	var opts cli.RatesValidateOptions
	today := time.Now().UTC().Format("2006-01-02")
	fs.StringVar(&opts.Currency, "currency", "USD", "currency to check")
	fs.StringVar(&opts.From, "from", today, "first day of the window")
	fs.StringVar(&opts.To, "to", today, "last day of the window")
	fs.BoolVar(&opts.JSONOutput, "json", false, "print a JSON summary")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, 2)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	return cli.NewRatesCLI(fx.NewRepository(pool)).ValidateCommand(ctx, opts)
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/freightledger/ledger/internal/app"
	"github.com/freightledger/ledger/internal/billing"
	"github.com/freightledger/ledger/internal/finance"
	"github.com/freightledger/ledger/internal/money"
	"github.com/freightledger/ledger/internal/observability"
	"github.com/freightledger/ledger/internal/operations"
	"github.com/freightledger/ledger/internal/payouts"
	"github.com/freightledger/ledger/internal/platform/cache"
	"github.com/freightledger/ledger/internal/platform/db"
	"github.com/freightledger/ledger/internal/shared"
	"github.com/freightledger/ledger/jobs"
	"github.com/freightledger/ledger/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if cfg.PGAutoMigrate {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	var redisClient *redis.Client
	if client, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		logger.Warn("redis unavailable, finance cache disabled", slog.Any("error", err))
	} else {
		redisClient = client
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	audit := shared.NewAuditLogger(pool)
	formatter := money.NewFormatter(cfg.Locale, cfg.Currency)

	var financeCache *finance.Cache
	if redisClient != nil {
		financeCache = finance.NewCache(redisClient, cfg.SummaryCacheTTL)
	}
	financeService := finance.NewService(finance.NewRepository(pool), financeCache, cfg.ForecastHorizons, logger)

	notifier := shared.Notifiers{financeService}
	var jobHandler *jobs.Handler
	if redisClient != nil {
		redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
		jobClient, err := jobs.NewClient(redisOpts)
		if err != nil {
			logger.Error("init job client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			_ = jobClient.Close()
		}()
		notifier = append(notifier, jobClient)

		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			_ = inspector.Close()
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	pdfClient := report.NewClient(cfg.GotenbergURL)
	if err := pdfClient.Ping(ctx); err != nil {
		logger.Warn("gotenberg ping", slog.Any("error", err))
	}
	renderer, err := report.NewRenderer(pdfClient)
	if err != nil {
		logger.Error("init document renderer", slog.Any("error", err))
		os.Exit(1)
	}

	operationsService := operations.NewService(operations.NewRepository(pool), audit, notifier, logger)

	billingService := billing.NewService(billing.NewRepository(pool), audit, billing.Config{
		DefaultVATRate:         cfg.DefaultVATRate,
		DefaultDueDays:         cfg.DefaultDueDays,
		DefaultMaxInstallments: cfg.DefaultMaxInstallments,
	})
	billingService.WithNotifier(notifier)
	billingService.WithMetrics(metrics.Ledger())
	billingService.WithLogger(logger)
	billingService.WithDocuments(renderer, formatter)

	payoutsService := payouts.NewService(payouts.NewRepository(pool), audit)
	payoutsService.WithNotifier(notifier)
	payoutsService.WithMetrics(metrics.Ledger())
	payoutsService.WithLogger(logger)
	payoutsService.WithDocuments(renderer, formatter)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Metrics:           metrics,
		Pool:              pool,
		OperationsHandler: operations.NewHandler(logger, operationsService),
		BillingHandler:    billing.NewHandler(logger, billingService),
		PayoutsHandler:    payouts.NewHandler(logger, payoutsService),
		FinanceHandler:    finance.NewHandler(logger, financeService),
		JobHandler:        jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	}
}

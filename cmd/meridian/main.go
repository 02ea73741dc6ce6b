package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/creditnote"
	"github.com/meridian-erp/meridian-erp/internal/customer"
	"github.com/meridian-erp/meridian-erp/internal/deposit"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/platform/cache"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	b := bus.New(logger)

	customerSvc := customer.NewService(customer.NewRepository(pool), b, logger)
	customerSvc.Register()

	invoiceSvc := invoice.NewService(invoice.NewRepository(pool), customerSvc, b, logger)
	invoiceSvc.Register()

	depositSvc := deposit.NewService(deposit.NewRepository(pool), customerSvc, b, logger)
	depositSvc.Register()

	creditNoteSvc := creditnote.NewService(creditnote.NewRepository(pool), customerSvc,
		creditnote.NewCatalogPricer(pool), b, logger)
	creditNoteSvc.Register()

	store := billing.NewPgStore(pool)
	locks := shared.NewCustomerLocks(redisClient, cfg.SettleLockTTL)
	orch := billing.NewOrchestrator(store, locks, b, logger, cfg.SettleTimeout)
	billing.NewGraph(b, orch, store, locks, logger).Register()

	idem := shared.NewIdempotencyStore(pool)

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		InvoiceHandler:    invoice.NewHandler(logger, invoiceSvc, idem),
		DepositHandler:    deposit.NewHandler(logger, depositSvc, idem),
		CreditNoteHandler: creditnote.NewHandler(logger, creditNoteSvc, idem),
		CustomerHandler:   customer.NewHandler(logger, customerSvc),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server run", slog.Any("error", err))
		os.Exit(1)
	}
}

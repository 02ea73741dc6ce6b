package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-erp/meridian-erp/internal/app"
	"github.com/meridian-erp/meridian-erp/internal/billing"
	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/customer"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/notify"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Warn("asynq close", slog.Any("error", err))
		}
	}()

	// The worker drives scans through the same command bus and handler graph
	// as the HTTP binary: a due transition here settles exactly as it would
	// have settled there.
	b := bus.New(logger)

	customerSvc := customer.NewService(customer.NewRepository(pool), b, logger)
	customerSvc.Register()

	invoiceSvc := invoice.NewService(invoice.NewRepository(pool), customerSvc, b, logger)
	invoiceSvc.Register()

	store := billing.NewPgStore(pool)
	locks := shared.NewCustomerLocks(redisClient, cfg.SettleLockTTL)
	orch := billing.NewOrchestrator(store, locks, b, logger, cfg.SettleTimeout)
	billing.NewGraph(b, orch, store, locks, logger).Register()

	notifier := notify.NewAsynqDispatcher(asynqClient)
	scanner := billing.NewScanner(invoiceSvc, b, notifier, logger)

	dueScanTask, err := jobs.NewDueScanTask()
	if err != nil {
		logger.Error("build due scan task", slog.Any("error", err))
		os.Exit(1)
	}
	dueRemindTask, err := jobs.NewDueRemindTask()
	if err != nil {
		logger.Error("build due remind task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskDueScan, Handler: jobs.HandleDueScanTask(scanner, logger)},
			{Type: jobs.TaskDueRemind, Handler: jobs.HandleDueRemindTask(scanner, logger)},
			{Type: notify.TaskDueToday, Handler: notify.HandleDueTodayTask(logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DueScanCron, Task: dueScanTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.DueRemindCron, Task: dueRemindTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}

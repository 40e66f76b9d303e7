package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nivenlabs/subflow-backend/internal/bootstrap"
	"github.com/nivenlabs/subflow-backend/internal/cron"
	"github.com/nivenlabs/subflow-backend/pkg/config"
	"github.com/nivenlabs/subflow-backend/pkg/db"
	"github.com/nivenlabs/subflow-backend/pkg/logger"
	"github.com/nivenlabs/subflow-backend/pkg/metrics"
	"github.com/nivenlabs/subflow-backend/pkg/migrate"
	"github.com/nivenlabs/subflow-backend/pkg/redis"
)

const lockKeyFormat = "sf:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	stack, err := bootstrap.NewStack(cfg, logg, dbClient, prometheus.DefaultRegisterer)
	if err != nil {
		logg.Error(context.Background(), "failed to wire payment stack", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry()
	if err := registerJobs(registry, logg, dbClient, stack); err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func registerJobs(registry *cron.Registry, logg *logger.Logger, dbClient *db.Client, stack *bootstrap.Stack) error {
	reconcile, err := cron.NewOrderReconcileJob(cron.OrderReconcileJobParams{
		Logger:       logg,
		DB:           dbClient,
		BillingRepo:  stack.BillingRepo,
		Orchestrator: stack.Orchestrator,
	})
	if err != nil {
		return err
	}
	registry.Register(reconcile)

	provisioningRetry, err := cron.NewProvisioningRetryJob(cron.ProvisioningRetryJobParams{
		Logger:       logg,
		BillingRepo:  stack.BillingRepo,
		Orchestrator: stack.Orchestrator,
	})
	if err != nil {
		return err
	}
	registry.Register(provisioningRetry)

	webhookRetention, err := cron.NewWebhookRetentionJob(cron.WebhookRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		BillingRepo: stack.BillingRepo,
	})
	if err != nil {
		return err
	}
	registry.Register(webhookRetention)

	outboxRetention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: stack.OutboxRepo,
	})
	if err != nil {
		return err
	}
	registry.Register(outboxRetention)

	return nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

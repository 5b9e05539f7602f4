package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/internal/cron"
	"github.com/pixelmint-ai/pixelmint-backend/internal/entitlements"
	"github.com/pixelmint-ai/pixelmint-backend/internal/generation"
	"github.com/pixelmint-ai/pixelmint-backend/internal/generation/providers"
	"github.com/pixelmint-ai/pixelmint-backend/internal/tasks"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/config"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/metrics"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/migrate"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/outbox"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/redis"
)

const lockKeyFormat = "pm:cron-worker:lock:%s"

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

	outboxRepo := outbox.NewRepository(dbClient.DB())
	outboxService := outbox.NewService(outboxRepo, logg)

	creditsRepo := credits.NewRepository(dbClient.DB())
	creditsService, err := credits.NewService(creditsRepo, dbClient, outboxService, nil)
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	adapters, err := providers.FromConfig(cfg.Generation.ProviderOrder, cfg.Providers, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build provider adapters", err)
		os.Exit(1)
	}

	tasksRepo := tasks.NewRepository(dbClient.DB())

	// The worker only fails stale tasks and refunds their holds; artifact
	// relocation never happens here, so no GCS client is wired.
	generationService, err := generation.NewService(generation.ServiceParams{
		Ledger:            creditsService,
		Tasks:             tasksRepo,
		Adapters:          adapters,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
		SubmitTimeout:     cfg.Generation.SubmitTimeout,
		PollTimeout:       cfg.Generation.PollTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create generation service", err)
		os.Exit(1)
	}

	entitlementGrantJob, err := cron.NewEntitlementGrantJob(cron.EntitlementGrantJobParams{
		Logger:       logg,
		Entitlements: entitlements.NewRepository(dbClient.DB()),
		Credits:      creditsService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create entitlement grant job", err)
		os.Exit(1)
	}

	staleTaskJob, err := cron.NewStaleTaskJob(cron.StaleTaskJobParams{
		Logger:    logg,
		Tasks:     tasksRepo,
		Generator: generationService,
		MaxAge:    cfg.Generation.PendingMaxAge,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stale task job", err)
		os.Exit(1)
	}

	grantExpiryJob, err := cron.NewGrantExpiryJob(cron.GrantExpiryJobParams{
		Logger: logg,
		Grants: creditsRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create grant expiry job", err)
		os.Exit(1)
	}

	outboxRetentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outboxRepo,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(
		entitlementGrantJob,
		grantExpiryJob,
		staleTaskJob,
		outboxRetentionJob,
	)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
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

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}

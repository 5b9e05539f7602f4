package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/pixelmint-ai/pixelmint-backend/api/controllers"
	"github.com/pixelmint-ai/pixelmint-backend/api/routes"
	"github.com/pixelmint-ai/pixelmint-backend/internal/artifacts"
	"github.com/pixelmint-ai/pixelmint-backend/internal/credits"
	"github.com/pixelmint-ai/pixelmint-backend/internal/entitlements"
	"github.com/pixelmint-ai/pixelmint-backend/internal/generation"
	"github.com/pixelmint-ai/pixelmint-backend/internal/generation/providers"
	"github.com/pixelmint-ai/pixelmint-backend/internal/tasks"
	squarewebhook "github.com/pixelmint-ai/pixelmint-backend/internal/webhooks/square"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/auth/session"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/config"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/db"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/logger"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/metrics"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/migrate"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/outbox"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/redis"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/square"
	"github.com/pixelmint-ai/pixelmint-backend/pkg/storage/gcs"
)

const webhookGuardTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	generationMetrics := metrics.NewGenerationMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	creditsService, err := credits.NewService(
		credits.NewRepository(dbClient.DB()),
		dbClient,
		outboxService,
		generationMetrics,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create credits service", err)
		os.Exit(1)
	}

	entitlementsService, err := entitlements.NewService(entitlements.NewRepository(dbClient.DB()))
	if err != nil {
		logg.Error(context.Background(), "failed to create entitlements service", err)
		os.Exit(1)
	}

	adapters, err := providers.FromConfig(cfg.Generation.ProviderOrder, cfg.Providers, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to build provider adapters", err)
		os.Exit(1)
	}

	relocator, err := artifacts.NewRelocator(gcsClient, nil, cfg.GCS.BucketName, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create artifact relocator", err)
		os.Exit(1)
	}

	generationService, err := generation.NewService(generation.ServiceParams{
		Ledger:            creditsService,
		Tasks:             tasks.NewRepository(dbClient.DB()),
		Adapters:          adapters,
		Relocator:         relocator,
		Outbox:            outboxService,
		TransactionRunner: dbClient,
		Logger:            logg,
		Metrics:           generationMetrics,
		SubmitTimeout:     cfg.Generation.SubmitTimeout,
		PollTimeout:       cfg.Generation.PollTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create generation service", err)
		os.Exit(1)
	}

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create square client", err)
		os.Exit(1)
	}

	webhookGuard, err := squarewebhook.NewIdempotencyGuard(redisClient, webhookGuardTTL, "square-webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	webhookService, err := squarewebhook.NewService(squarewebhook.ServiceParams{
		Square:          squareClient,
		Credits:         creditsService,
		Guard:           webhookGuard,
		Logger:          logg,
		NotificationURL: cfg.Square.WebhookURL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create square webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	router := routes.NewRouter(routes.RouterParams{
		Config:   cfg,
		Logger:   logg,
		Sessions: sessionManager,
		Redis:    redisClient,
		Readiness: controllers.ReadinessChecks{
			DB:    dbClient,
			Redis: redisClient,
			GCS:   gcsClient,
		},
		Generation:    generationService,
		Credits:       creditsService,
		Entitlements:  entitlementsService,
		SquareWebhook: webhookService,
	})

	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

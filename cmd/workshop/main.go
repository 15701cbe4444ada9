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

	"github.com/odyssey-erp/odyssey-workshop/internal/app"
	"github.com/odyssey-erp/odyssey-workshop/internal/observability"
	"github.com/odyssey-erp/odyssey-workshop/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-workshop/internal/shared"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/events"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/orders"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/stock"
	"github.com/odyssey-erp/odyssey-workshop/internal/workshop/taxrate"
	"github.com/odyssey-erp/odyssey-workshop/jobs"
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

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	backend, err := app.OpenBackend(ctx, cfg, redisClient, logger)
	if err != nil {
		logger.Error("open gateway", slog.String("mode", cfg.GatewayMode), slog.Any("error", err))
		os.Exit(1)
	}
	defer backend.Close()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	var publisher orders.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher, err := events.NewKafkaPublisher(events.Config{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, logger)
		if err != nil {
			logger.Error("init event publisher", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := kafkaPublisher.Close(); err != nil {
				logger.Warn("event publisher close", slog.Any("error", err))
			}
		}()
		publisher = kafkaPublisher
	}

	metrics := observability.NewMetrics()

	composer := orders.NewComposer(orders.Config{
		Gateway:     backend.Gateway,
		Transactor:  backend.Transactor,
		Stock:       stock.NewService(backend.Gateway, backend.Locker, logger),
		Tax:         taxrate.NewCollapsing(taxrate.NewGatewayProvider(backend.Gateway)),
		Idempotency: shared.NewIdempotencyStore(redisClient, cfg.IdempotencyTTL),
		Reconciler:  jobClient,
		Events:      publisher,
		Metrics:     metrics,
		Logger:      logger,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:        logger,
		Config:        cfg,
		OrdersHandler: orders.NewHandler(logger, composer),
		JobHandler:    jobs.NewHandler(inspector, logger),
		Metrics:       metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("gateway", cfg.GatewayMode))
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

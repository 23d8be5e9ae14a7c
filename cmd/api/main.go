package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/backuprestore/internal/api"
	"example.com/backuprestore/internal/auth"
	"example.com/backuprestore/internal/bootstrap"
	"example.com/backuprestore/internal/config"
	"example.com/backuprestore/internal/importer"
	"example.com/backuprestore/internal/jobs"
	"example.com/backuprestore/internal/logging"
	"example.com/backuprestore/internal/outbox"
	httptransport "example.com/backuprestore/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := bootstrap.Open(ctx, cfg)
	if err != nil {
		logger.WithError(err).Fatal("failed to open stores")
	}
	defer stores.Close()

	scope, err := importer.ParseScope(cfg.Import.ResolverScope)
	if err != nil {
		logger.WithError(err).Fatal("invalid resolver scope")
	}
	imp := importer.New(stores.Training, logger, importer.WithResolver(importer.NewResolver(scope)))

	coordinator := jobs.NewCoordinator(jobs.Config{
		AsyncThreshold: cfg.Import.AsyncThresholdBytes,
		JobTimeout:     cfg.Import.JobTimeout,
		MaxConcurrent:  cfg.Import.MaxConcurrent,
		MaxPerUser:     cfg.Import.MaxPerUser,
	}, imp, stores.Jobs, logger)
	coordinator.Start(ctx)

	reaper := jobs.NewReaper(stores.Jobs, cfg.Import.StaleJobAfter, logger)
	if _, err := reaper.Sweep(ctx); err != nil {
		logger.WithError(err).Warn("startup stale job sweep failed")
	}
	if err := reaper.Schedule(cfg.Import.ReaperSchedule); err != nil {
		logger.WithError(err).Fatal("invalid reaper schedule")
	}
	defer reaper.Stop()

	var dispatcher *outbox.Dispatcher
	if stores.Pool != nil && len(cfg.KafkaBrokers) > 0 {
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(stores.Pool, producer, registry, outbox.Config{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
		}, logger)
		go dispatcher.Start(ctx)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(logging.RequestLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}).Wrap)
	router.Handle("/metrics", promhttp.Handler())
	api.NewHandler(coordinator, cfg.Import.MaxUploadBytes, logger).RegisterRoutes(router)

	server := httptransport.NewServer(httptransport.ServerConfig{Address: cfg.HTTPAddress}, router)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.WithField("address", cfg.HTTPAddress).WithField("store", cfg.StoreDriver).Info("backup restore service listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("server error")
		}
	}()

	<-shutdownCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("graceful shutdown failed")
	}
	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("import workers did not stop in time")
	}
	cancel()
	if dispatcher != nil {
		dispatcher.Wait()
	}
}

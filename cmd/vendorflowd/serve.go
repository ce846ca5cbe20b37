package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"vendorflow-backend/internal/api"
	"vendorflow-backend/internal/command"
	"vendorflow-backend/internal/db"
	"vendorflow-backend/internal/ingest"
	"vendorflow-backend/internal/metrics"
	"vendorflow-backend/internal/store"
	"vendorflow-backend/internal/sweeper"
	"vendorflow-backend/internal/transport/mqtt"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the MQTT subscriber and the offline sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), v)
		},
	}
}

func runServe(parent context.Context, v *viper.Viper) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, logger, err := loadConfig(v)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gormDB, err := db.Init(&cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(gormDB); err != nil {
			logger.Warn("failed to close database", zap.Error(err))
		}
	}()
	appStore := store.NewGormStore(gormDB)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	deviceCache, err := ingest.NewDeviceCache(ctx, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize device cache: %w", err)
	}
	if closer, ok := deviceCache.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	pipeline := ingest.NewPipeline(appStore, deviceCache, m, logger, ingest.Options{
		StoreTimeout:    cfg.Ingest.StoreTimeout,
		DropStaleFields: cfg.Ingest.DropStaleFields,
	})

	conn := mqtt.New(cfg.MQTT, m, logger)
	if err := conn.Open(ctx); err != nil {
		// The HTTP boundary still serves reads and simulated messages; the
		// client keeps retrying in the background.
		logger.Error("mqtt broker unavailable at startup", zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
	}
	defer conn.Close()

	pool := ingest.NewPool(cfg.Ingest.Workers, cfg.Ingest.QueueSize, pipeline, logger)
	pool.Start(ctx)
	defer pool.Stop()

	if cfg.MQTT.SubscribeEnabled {
		sub := mqtt.NewSubscriber(conn, cfg.MQTT.SubscribeTopics, pool, m, logger)
		if err := sub.Start(ctx); err != nil {
			logger.Error("failed to subscribe", zap.Strings("topics", cfg.MQTT.SubscribeTopics), zap.Error(err))
		}
		defer sub.Stop()
	} else {
		logger.Info("mqtt subscription disabled")
	}

	go sweeper.NewService(cfg.Sweeper, appStore, m, logger).Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(api.Deps{
		Store:     appStore,
		Ingestor:  pipeline,
		Publisher: conn,
		Commands:  command.NewService(appStore, conn, logger),
		Transport: conn,
		Logger:    logger,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewRouter(handler, cfg.Server, registry, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping services")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("HTTP server ListenAndServe: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown", zap.Error(err))
	}

	// Deferred calls stop the subscriber, drain the pool, then close the
	// broker connection and the database in that order.
	logger.Info("server gracefully stopped")
	return nil
}

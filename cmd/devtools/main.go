package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/event-broker/devtools/internal/core/services"
	httphandlers "github.com/event-broker/devtools/internal/handlers/http"
	memorybroker "github.com/event-broker/devtools/internal/infrastructure/broker/memory"
	"github.com/event-broker/devtools/internal/infrastructure/hooks"
	"github.com/event-broker/devtools/internal/infrastructure/middleware"
	"github.com/event-broker/devtools/internal/infrastructure/monitoring"
	"github.com/event-broker/devtools/internal/infrastructure/repositories"
	"github.com/event-broker/devtools/internal/infrastructure/simulator"
	"github.com/event-broker/devtools/internal/infrastructure/stream"
	"github.com/event-broker/devtools/pkg/config"
	"github.com/event-broker/devtools/pkg/logger"
	"github.com/event-broker/devtools/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}
	if err != nil {
		cfg = config.DefaultConfig()
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	logg := zapLogger.Sugar()

	// Tracing
	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		logg.Fatalw("failed to initialize tracing", "error", err)
	}

	// Settings persistence
	repoFactory, err := repositories.NewRepositoryFactory(cfg, logg)
	if err != nil {
		logg.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()
	settingsRepo := repoFactory.CreateSettingsRepository()

	// Reference broker and the aggregation core attached to it
	broker := memorybroker.NewBroker(logg)
	broadcaster := services.NewBroadcaster(settingsRepo, logg)
	aggregator := services.NewAggregator(broker, broadcaster, services.AggregatorConfig{
		MaxHistory:       cfg.Panel.MaxHistory,
		LatencyWindow:    cfg.Panel.LatencyWindow,
		SnapshotInterval: cfg.Panel.SnapshotInterval,
	}, logg)

	detach, err := hooks.Attach(broker, aggregator, logg)
	if err != nil {
		logg.Fatalw("failed to attach to broker", "error", err)
	}
	defer detach()

	// Prometheus mirror of the aggregate metrics
	collector := monitoring.NewPrometheusCollector()
	unsubscribeCollector := aggregator.Subscribe(collector.Observe)
	defer unsubscribeCollector()

	// HTTP surface
	panelHandler := httphandlers.NewPanelHandler(aggregator, logg)
	wsServer := stream.NewWebSocketServer(
		aggregator,
		cfg.Stream.SnapshotsPerSecond,
		cfg.Stream.Burst,
		cfg.Stream.WriteTimeout,
		logg,
	)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(logg))
	router.Use(middleware.ErrorHandlerMiddleware(logg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	var authMiddleware []gin.HandlerFunc
	if cfg.Auth.Enabled {
		authMiddleware = append(authMiddleware, middleware.AuthMiddleware(cfg.Auth.JWTSecret))
	}
	panelHandler.SetupRoutes(router, authMiddleware...)
	router.GET("/ws", gin.WrapF(wsServer.HandleSnapshotStream))

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
		logg.Info("Prometheus metrics enabled")
	}

	// Synthetic traffic for standalone runs
	simCtx, stopSim := context.WithCancel(context.Background())
	defer stopSim()
	if cfg.Simulator.Enabled {
		sim := simulator.New(broker, cfg.Simulator.Clients, cfg.Simulator.Interval, logg)
		go func() {
			if err := sim.Run(simCtx); err != nil && err != context.Canceled {
				logg.Warnw("simulator stopped", "error", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logg.Infof("Starting devtools panel server on %s", cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		logg.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		logg.Infow("Received shutdown signal", "signal", sig)
	}

	logg.Info("Shutting down devtools panel server...")
	stopSim()
	detach()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			logg.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		logg.Info("Server shutdown gracefully")
	}

	if err := tp.Shutdown(context.Background()); err != nil {
		logg.Errorw("Error shutting down tracer provider", "error", err)
	}

	logg.Info("devtools panel server stopped")
}

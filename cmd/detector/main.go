package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app_service "crypto-rug-graph-detector/internal/application/service"
	"crypto-rug-graph-detector/internal/domain/repository"
	domain_service "crypto-rug-graph-detector/internal/domain/service"
	"crypto-rug-graph-detector/internal/infrastructure/blockchain"
	"crypto-rug-graph-detector/internal/infrastructure/config"
	"crypto-rug-graph-detector/internal/infrastructure/database"
	"crypto-rug-graph-detector/internal/infrastructure/logger"
	"crypto-rug-graph-detector/internal/infrastructure/messaging"
	"crypto-rug-graph-detector/internal/infrastructure/metrics"
	"crypto-rug-graph-detector/internal/infrastructure/notification"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Create logger
	log, err := logger.NewLogger(cfg.App.LogLevel)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	// Create FX application
	app := fx.New(
		// Provide dependencies
		fx.Supply(cfg),
		fx.Supply(log),
		fx.Supply(&cfg.NATS),
		fx.Supply(&cfg.Neo4J),
		fx.Supply(&cfg.Telegram),
		fx.Provide(func() *zap.Logger { return log.Logger }),

		// Infrastructure providers
		fx.Provide(
			metrics.NewDetectorMetrics,
			database.NewNeo4JClient,
			database.NewNeo4JDecisionRepository,
			database.NewNeo4JWalletRepository,
			blockchain.NewTransferDecoderService,
			notification.NewTelegramNotifier,
			messaging.NewNATSConsumer,
			messaging.NewNATSDecisionPublisher,
			func(m *metrics.DetectorMetrics) messaging.DecodeFailureObserver { return m },
			func(c *messaging.NATSConsumer) messaging.ConnProvider { return c },
		),

		// Domain services
		fx.Provide(
			func(cfg *config.Config, log *logger.Logger, m *metrics.DetectorMetrics) *domain_service.Engine {
				return domain_service.NewEngine(cfg.Detection, log, domain_service.WithObserver(m))
			},
		),

		// Application providers
		fx.Provide(
			newMonitoringService,
			func(m *app_service.MonitoringApplicationService) domain_service.MonitoringService { return m },
			func(monitor domain_service.MonitoringService, cfg *config.Config, log *logger.Logger) *app_service.IngestApplicationService {
				return app_service.NewIngestApplicationService(monitor, app_service.IngestConfig{
					BatchSize:         cfg.App.BatchSize,
					FlushInterval:     cfg.App.FlushInterval,
					AutoStartSessions: cfg.App.AutoStartSessions,
					DefaultHeuristic:  cfg.App.DefaultHeuristic,
				}, log)
			},
		),

		// Lifecycle hooks
		fx.Invoke(startDetector),
		fx.Invoke(startHealthServer),
		fx.Invoke(startMetricsServer),

		// Configure logging
		fx.WithLogger(func() fxevent.Logger {
			return fxevent.NopLogger
		}),
	)

	// Start the application
	ctx := context.Background()
	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		os.Exit(1)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down application...")

	// Stop the application
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.Stop(stopCtx); err != nil {
		log.Error("Failed to stop application gracefully", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
}

// newMonitoringService wires the decision sinks into the session manager
func newMonitoringService(
	engine *domain_service.Engine,
	decisions repository.DecisionRepository,
	wallets repository.WalletRepository,
	publisher domain_service.DecisionPublisher,
	notifier domain_service.AlertNotifier,
	m *metrics.DetectorMetrics,
	cfg *config.Config,
	log *logger.Logger,
) *app_service.MonitoringApplicationService {
	return app_service.NewMonitoringApplicationService(engine, app_service.Sinks{
		Decisions: decisions,
		Wallets:   wallets,
		Publisher: publisher,
		Notifier:  notifier,
		Metrics:   m,
	}, app_service.MonitoringConfig{
		QueueSize:    cfg.App.SessionQueueSize,
		SinkTimeout:  cfg.App.SinkTimeout,
		PersistFlows: cfg.Neo4J.PersistFlows,
	}, log)
}

// startDetector connects the stores and the stream, then runs the ingest loop
func startDetector(
	lifecycle fx.Lifecycle,
	consumer *messaging.NATSConsumer,
	ingest *app_service.IngestApplicationService,
	monitor *app_service.MonitoringApplicationService,
	neo4jClient *database.Neo4JClient,
	log *zap.Logger,
	cfg *config.Config,
) {
	runCtx, cancelRun := context.WithCancel(context.Background())
	runDone := make(chan struct{})

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("Starting rug detector...",
				zap.Bool("detection_enabled", cfg.Detection.Enabled),
				zap.Int("window_capacity", cfg.Detection.WindowCapacity),
				zap.Int("min_transactions", cfg.Detection.MinTransactions),
				zap.Duration("detector_timeout", cfg.Detection.DetectorTimeout))

			// Connect to Neo4J first
			if err := neo4jClient.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to Neo4J: %w", err)
			}

			log.Info("NATS Configuration",
				zap.String("url", cfg.NATS.URL),
				zap.String("stream_name", cfg.NATS.StreamName),
				zap.String("subject_prefix", cfg.NATS.SubjectPrefix),
				zap.String("control_subject", cfg.NATS.ControlSubject),
				zap.String("decision_subject", cfg.NATS.DecisionSubject),
				zap.Bool("enabled", cfg.NATS.Enabled),
			)

			// Connect to NATS
			if err := consumer.Connect(ctx); err != nil {
				return fmt.Errorf("failed to connect to NATS: %w", err)
			}

			go func() {
				defer close(runDone)
				ingest.Run(runCtx, consumer.GetMessageChannel(), consumer.GetControlChannel())
			}()

			log.Info("Rug detector started successfully")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info("Stopping rug detector...")

			// Closing the consumer channels lets the ingest loop flush and exit
			if err := consumer.Disconnect(); err != nil {
				log.Error("Failed to disconnect from NATS", zap.Error(err))
			}
			select {
			case <-runDone:
			case <-ctx.Done():
			}
			cancelRun()

			if err := monitor.Shutdown(ctx); err != nil {
				log.Error("Failed to stop monitoring sessions", zap.Error(err))
			}
			return neo4jClient.Close(ctx)
		},
	})
}

// healthStatus is the body served on /health
type healthStatus struct {
	Status         string   `json:"status"`
	NATSConnected  bool     `json:"nats_connected"`
	Neo4JAvailable bool     `json:"neo4j_available"`
	ActiveSessions []string `json:"active_sessions"`
}

// startHealthServer starts the health check server
func startHealthServer(
	lifecycle fx.Lifecycle,
	cfg *config.Config,
	consumer *messaging.NATSConsumer,
	neo4jClient *database.Neo4JClient,
	monitor domain_service.MonitoringService,
	logger *logger.Logger,
) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status:         "ok",
			NATSConnected:  consumer.IsConnected(),
			Neo4JAvailable: neo4jClient.Available(),
			ActiveSessions: monitor.ActiveSessions(),
		}
		if cfg.NATS.Enabled && !status.NATSConnected {
			status.Status = "degraded"
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.App.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting health server...", zap.Int("port", cfg.App.HTTPPort))

			// Start server in background
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Health server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping health server...")
			return server.Shutdown(ctx)
		},
	})
}

// startMetricsServer exposes the detector metrics for Prometheus scraping
func startMetricsServer(
	lifecycle fx.Lifecycle,
	cfg *config.Config,
	m *metrics.DetectorMetrics,
	logger *logger.Logger,
) error {
	if !cfg.Metrics.Enabled {
		return nil
	}

	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting metrics server...", zap.Int("port", cfg.Metrics.Port))
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("Metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/letterflow/outreach-be/internal/config"
	"github.com/letterflow/outreach-be/internal/generator"
	"github.com/letterflow/outreach-be/internal/notifier"
	"github.com/letterflow/outreach-be/internal/pipeline"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/internal/storage/postgres"
	"github.com/letterflow/outreach-be/internal/telemetry"
	"github.com/letterflow/outreach-be/internal/transport"
	"github.com/letterflow/outreach-be/internal/worker"
	"github.com/letterflow/outreach-be/shared/logger"
	"github.com/letterflow/outreach-be/shared/postgresql"
	"github.com/letterflow/outreach-be/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := postgres.Migrate(context.Background(), dbClient.GetDB()); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Wire the pipeline
	controller, dispatcher, err := initPipeline(cfg, appLogger.Logger, dbClient)
	if err != nil {
		return fmt.Errorf("failed to wire pipeline: %w", err)
	}

	workerID := fmt.Sprintf("outreach-worker-%s", uuid.New().String()[:8])
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:        appLogger.Logger,
		RabbitClient:  rabbitClient,
		Controller:    controller,
		Dispatcher:    dispatcher,
		JobRunners:    cfg.Worker.JobRunners,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
		WorkerID:      workerID,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Expose Prometheus metrics
	metricsSrv := startMetricsServer(cfg.Worker.MetricsPort, appLogger.Logger)

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", workerID),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if metricsSrv != nil {
		metricsSrv.Shutdown(shutdownCtx)
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initPipeline builds the controller and dispatcher over the Postgres store
func initPipeline(cfg *config.Config, logger *slog.Logger, dbClient *postgresql.Client) (*pipeline.Controller, *pipeline.Dispatcher, error) {
	store := postgres.NewStore(dbClient.GetDB(), logger)
	machine := pipeline.NewStateMachine(store, logger)
	policy := pipeline.NewRetryPolicy(pipeline.RetryPolicyConfig{
		MaxRetries:     cfg.Pipeline.MaxRetries,
		BaseDelay:      cfg.Pipeline.RetryBaseDelay,
		RateLimitDelay: cfg.Pipeline.RateLimitDelay,
		MaxDelay:       cfg.Pipeline.RetryMaxDelay,
	})

	var alertNotifier pipeline.Notifier
	if cfg.Notifier.WebhookURL != "" {
		alertNotifier = notifier.NewWebhookNotifier(cfg.Notifier.WebhookURL, cfg.Notifier.Secret, logger)
	}
	recorder := pipeline.NewRecorder(store, alertNotifier, logger)
	queue := pipeline.NewDeliveryQueue(store, machine, policy, recorder, logger)

	gen := generator.NewTemplateGenerator(logger)
	if cfg.Pipeline.TemplatesDir != "" {
		if err := gen.LoadDir(cfg.Pipeline.TemplatesDir); err != nil {
			return nil, nil, err
		}
	}

	controller := pipeline.NewController(pipeline.ControllerConfig{
		DefaultConcurrency: cfg.Pipeline.DefaultConcurrency,
	}, store, machine, queue, gen, recorder, logger)

	transports := map[domain.DeliveryMethod]pipeline.Transport{
		domain.DeliveryMethodDM: transport.NewDMSender(
			cfg.Delivery.DMBaseURL,
			cfg.Delivery.DMToken,
			cfg.Delivery.HTTPTimeout,
			logger,
		),
		domain.DeliveryMethodForm: transport.NewFormSubmitter(
			cfg.Delivery.SenderName,
			cfg.Delivery.SenderEmail,
			cfg.Delivery.HTTPTimeout,
			logger,
		),
	}

	dispatcher := pipeline.NewDispatcher(pipeline.DispatcherConfig{
		Capacity:       cfg.Pipeline.DispatchCapacity,
		PollInterval:   cfg.Pipeline.DispatchInterval,
		AttemptTimeout: cfg.Pipeline.AttemptTimeout,
	}, queue, store, machine, transports, logger)

	return controller, dispatcher, nil
}

// startMetricsServer exposes /metrics for Prometheus scraping
func startMetricsServer(port int, logger *slog.Logger) *http.Server {
	if port <= 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", telemetry.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		logger.Info("Metrics server listening",
			slog.Int("port", port),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed",
				slog.Any("error", err),
			)
		}
	}()

	return srv
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:              cfg.Host,
		Port:              cfg.Port,
		User:              cfg.User,
		Password:          cfg.Password,
		VHost:             cfg.VHost,
		ExchangeName:      cfg.Exchange.Name,
		ExchangeType:      cfg.Exchange.Type,
		ExchangeDurable:   cfg.Exchange.Durable,
		QueueName:         cfg.Queue.Name,
		QueueDurable:      cfg.Queue.Durable,
		RoutingKey:        cfg.RoutingKey,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

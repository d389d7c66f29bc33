// Package worker hosts the pipeline inside the worker service: it consumes
// job-run messages from RabbitMQ, drives each job through the controller,
// and runs the delivery dispatcher.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/letterflow/outreach-be/internal/pipeline"
	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/shared/rabbitmq"
)

// RunMessage is a job-run request from RabbitMQ.
type RunMessage struct {
	JobID       string `json:"job_id"`
	DeliveryTag uint64 `json:"-"`
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	RabbitClient  *rabbitmq.Client
	Controller    *pipeline.Controller
	Dispatcher    *pipeline.Dispatcher
	JobRunners    int
	PrefetchCount int
	WorkerID      string
}

// Worker owns the run-message consumer, the job runner pool, and the
// delivery dispatcher.
type Worker struct {
	logger        *slog.Logger
	rabbitClient  *rabbitmq.Client
	controller    *pipeline.Controller
	dispatcher    *pipeline.Dispatcher
	jobRunners    int
	prefetchCount int
	workerID      string

	runsChan chan *RunMessage
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	runners := cfg.JobRunners
	if runners <= 0 {
		runners = 1
	}
	return &Worker{
		logger:        cfg.Logger,
		rabbitClient:  cfg.RabbitClient,
		controller:    cfg.Controller,
		dispatcher:    cfg.Dispatcher,
		jobRunners:    runners,
		prefetchCount: cfg.PrefetchCount,
		workerID:      cfg.WorkerID,
		runsChan:      make(chan *RunMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming job-run messages and dispatching deliveries. It
// blocks until the context is canceled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("job_runners", w.jobRunners),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnRunnerPool(ctx)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("Dispatcher exited",
				slog.String("error", err.Error()),
			)
		}
	}()

	w.startMessageDispatcher(ctx, deliveries)

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

// shouldRequeue determines whether a failed run message goes back on the
// queue.
func shouldRequeue(err error) bool {
	switch {
	case err == nil:
		return false
	// Misuse errors never heal on redelivery.
	case errors.Is(err, domain.ErrJobNotFound),
		errors.Is(err, domain.ErrInvalidJobState):
		return false
	default:
		// Storage or context errors may be transient.
		return true
	}
}

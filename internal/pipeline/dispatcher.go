package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/internal/telemetry"
)

// DispatcherConfig tunes the delivery dispatch loop.
type DispatcherConfig struct {
	// Capacity is the maximum number of items claimed per poll.
	Capacity int
	// PollInterval is the wait between polls when nothing was due.
	PollInterval time.Duration
	// AttemptTimeout bounds one transport call; exceeding it is a
	// transient failure.
	AttemptTimeout time.Duration
}

// Dispatcher pulls due items off the delivery queue and hands them to the
// transport matching each task's delivery method.
type Dispatcher struct {
	cfg        DispatcherConfig
	queue      *DeliveryQueue
	store      Storage
	machine    *StateMachine
	transports map[domain.DeliveryMethod]Transport
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher. Zero config fields fall back to
// defaults.
func NewDispatcher(cfg DispatcherConfig, queue *DeliveryQueue, store Storage, machine *StateMachine, transports map[domain.DeliveryMethod]Transport, logger *slog.Logger) *Dispatcher {
	if cfg.Capacity <= 0 {
		cfg.Capacity = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 30 * time.Second
	}
	return &Dispatcher{
		cfg:        cfg,
		queue:      queue,
		store:      store,
		machine:    machine,
		transports: transports,
		logger:     logger,
	}
}

// Run polls the queue until the context is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("Dispatcher started",
		slog.Int("capacity", d.cfg.Capacity),
		slog.Duration("poll_interval", d.cfg.PollInterval),
	)

	for {
		if n, err := d.Poll(ctx); err != nil {
			d.logger.Error("Dispatch poll failed",
				slog.String("error", err.Error()),
			)
		} else if n > 0 {
			// Drain the backlog before sleeping again.
			continue
		}

		select {
		case <-ctx.Done():
			d.logger.Info("Dispatcher stopped - context canceled")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll claims one batch of due items and delivers them concurrently. It
// returns the number of items claimed.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	items, err := d.queue.DequeueNext(ctx, d.cfg.Capacity)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func(item *domain.QueueItem) {
			defer wg.Done()
			d.dispatch(ctx, item)
		}(item)
	}
	wg.Wait()
	return len(items), nil
}

// dispatch runs one claimed item through its transport and routes the
// outcome back into the queue.
func (d *Dispatcher) dispatch(ctx context.Context, item *domain.QueueItem) {
	task, err := d.store.GetTask(ctx, item.TaskID)
	if err != nil {
		d.logger.Error("Failed to load task for queue item",
			slog.String("item_id", item.ID),
			slog.String("task_id", item.TaskID),
			slog.String("error", err.Error()),
		)
		_ = d.queue.Cancel(ctx, item.ID, "task lookup failed: "+err.Error())
		return
	}

	// Cooperative pause/abort: re-check the owning job before attempting.
	job, err := d.store.GetJob(ctx, task.JobID)
	if err != nil {
		d.logger.Error("Failed to load job for queue item",
			slog.String("item_id", item.ID),
			slog.String("job_id", task.JobID),
			slog.String("error", err.Error()),
		)
		_ = d.queue.Release(ctx, item.ID)
		return
	}
	switch {
	case job.Status == domain.JobStatusRunning && !job.PauseRequested:
		// proceed
	case job.Status == domain.JobStatusPaused || job.PauseRequested:
		_ = d.queue.Release(ctx, item.ID)
		return
	default:
		// Job aborted while the item waited; cancel the lineage.
		_ = d.queue.Cancel(ctx, item.ID, "job no longer active")
		if !task.Status.IsTerminal() {
			_ = d.machine.Cancel(ctx, task)
		}
		return
	}

	transport, ok := d.transports[task.DeliveryMethod]
	if !ok {
		_ = d.queue.MarkFailed(ctx, item.ID, "no transport for method "+string(task.DeliveryMethod), domain.FailurePermanent)
		return
	}

	if err := d.machine.SetSubStatus(ctx, task, domain.SubStatusAwaitingResponse); err != nil {
		d.logger.Warn("Skipping item for task outside processing",
			slog.String("item_id", item.ID),
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		_ = d.queue.Cancel(ctx, item.ID, "task no longer deliverable")
		return
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	telemetry.InFlightGauge.Inc()
	start := time.Now()
	result := transport.Deliver(attemptCtx, task)
	telemetry.DeliverySeconds.Observe(time.Since(start).Seconds())
	telemetry.InFlightGauge.Dec()

	if result.Success {
		telemetry.DeliverySuccess.WithLabelValues(string(task.DeliveryMethod)).Inc()
		if err := d.queue.MarkSent(ctx, item.ID); err != nil {
			d.logger.Error("Failed to mark item sent",
				slog.String("item_id", item.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	kind := result.Kind
	reason := result.Reason
	if attemptCtx.Err() != nil {
		// A delivery attempt that overran its window is transient.
		kind = domain.FailureTransient
		reason = "delivery attempt timed out"
	}
	if kind == "" {
		kind = domain.FailureTransient
	}

	telemetry.DeliveryFailures.WithLabelValues(string(task.DeliveryMethod), string(kind)).Inc()
	if err := d.queue.MarkFailed(ctx, item.ID, reason, kind); err != nil {
		d.logger.Error("Failed to mark item failed",
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}
}

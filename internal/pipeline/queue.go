package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/internal/telemetry"
)

// DeliveryQueue holds the tasks currently eligible for dispatch, ordered by
// scheduled time with FIFO tie-breaking. Outcomes are reported back to the
// state machine and, on failure, routed through the retry policy.
type DeliveryQueue struct {
	store    Storage
	machine  *StateMachine
	policy   *RetryPolicy
	recorder *Recorder
	observer TaskObserver
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeliveryQueue creates a queue over the given collaborators.
func NewDeliveryQueue(store Storage, machine *StateMachine, policy *RetryPolicy, recorder *Recorder, logger *slog.Logger) *DeliveryQueue {
	return &DeliveryQueue{
		store:    store,
		machine:  machine,
		policy:   policy,
		recorder: recorder,
		logger:   logger,
		now:      time.Now,
	}
}

// SetObserver registers the observer told about terminal task outcomes.
func (q *DeliveryQueue) SetObserver(obs TaskObserver) {
	q.observer = obs
}

// Enqueue schedules a delivery attempt for the task. It fails with
// ErrDuplicateEnqueue when an active item already exists for the task; the
// existing item is untouched.
func (q *DeliveryQueue) Enqueue(ctx context.Context, task *domain.Task, scheduledAt time.Time) (*domain.QueueItem, error) {
	item := &domain.QueueItem{
		ID:          uuid.New().String(),
		TaskID:      task.ID,
		Status:      domain.QueueItemPending,
		ScheduledAt: scheduledAt,
		CreatedAt:   q.now(),
	}
	if err := q.store.CreateQueueItem(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue task %s: %w", task.ID, err)
	}

	q.logger.Debug("Task enqueued for delivery",
		slog.String("task_id", task.ID),
		slog.String("item_id", item.ID),
		slog.Time("scheduled_at", scheduledAt),
	)
	return item, nil
}

// DequeueNext claims up to capacity due pending items, moving them to
// processing. An empty result is not an error; callers poll or wait on a
// timer.
func (q *DeliveryQueue) DequeueNext(ctx context.Context, capacity int) ([]*domain.QueueItem, error) {
	if capacity <= 0 {
		return nil, nil
	}
	items, err := q.store.ClaimDueQueueItems(ctx, q.now(), capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to claim due queue items: %w", err)
	}
	return items, nil
}

// Release returns a claimed item to pending without recording an attempt.
// Used when the owning job paused between claim and dispatch.
func (q *DeliveryQueue) Release(ctx context.Context, itemID string) error {
	item, err := q.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status != domain.QueueItemProcessing {
		return fmt.Errorf("cannot release item %s in status %s", itemID, item.Status)
	}
	item.Status = domain.QueueItemPending
	return q.store.SaveQueueItem(ctx, item)
}

// Cancel closes a claimed item without task bookkeeping. Used when the
// owning job was aborted before the attempt started.
func (q *DeliveryQueue) Cancel(ctx context.Context, itemID, reason string) error {
	item, err := q.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return err
	}
	if !item.Active() {
		return nil
	}
	now := q.now()
	item.Status = domain.QueueItemFailed
	item.StatusMessage = reason
	item.CompletedAt = &now
	return q.store.SaveQueueItem(ctx, item)
}

// MarkSent finalizes a successful delivery: the item becomes sent, one
// successful attempt is appended to the task's history, and the task
// completes.
func (q *DeliveryQueue) MarkSent(ctx context.Context, itemID string) error {
	item, task, err := q.loadOutcome(ctx, itemID)
	if err != nil {
		return err
	}

	now := q.now()
	item.Status = domain.QueueItemSent
	item.CompletedAt = &now
	if err := q.store.SaveQueueItem(ctx, item); err != nil {
		return fmt.Errorf("failed to save queue item %s: %w", itemID, err)
	}

	task.RetryHistory = append(task.RetryHistory, domain.Attempt{
		Timestamp: now,
		Method:    task.DeliveryMethod,
		Success:   true,
	})
	task.SubStatus = domain.SubStatusNone
	if err := q.machine.Complete(ctx, task); err != nil {
		return err
	}

	q.logger.Info("Delivery succeeded",
		slog.String("task_id", task.ID),
		slog.String("item_id", itemID),
		slog.String("method", string(task.DeliveryMethod)),
	)
	q.settle(ctx, task)
	return nil
}

// MarkFailed finalizes a failed delivery attempt: the item becomes failed,
// one failed attempt is appended, the retry count is incremented, and the
// retry policy either schedules a fresh item or fails the task permanently.
func (q *DeliveryQueue) MarkFailed(ctx context.Context, itemID, reason string, kind domain.FailureKind) error {
	item, task, err := q.loadOutcome(ctx, itemID)
	if err != nil {
		return err
	}

	now := q.now()
	item.Status = domain.QueueItemFailed
	item.StatusMessage = reason
	item.CompletedAt = &now
	if err := q.store.SaveQueueItem(ctx, item); err != nil {
		return fmt.Errorf("failed to save queue item %s: %w", itemID, err)
	}

	task.RetryHistory = append(task.RetryHistory, domain.Attempt{
		Timestamp: now,
		Method:    task.DeliveryMethod,
		Success:   false,
		Reason:    reason,
	})
	task.RetryCount++
	task.ErrorMessage = reason

	decision := q.policy.Decide(task.RetryCount, kind, reason)
	switch d := decision.(type) {
	case Retry:
		task.SubStatus = domain.SubStatusSubmitting
		if err := q.machine.RecordAttempt(ctx, task); err != nil {
			return err
		}
		if _, err := q.Enqueue(ctx, task, d.At); err != nil {
			// Without an active item the task would sit in processing
			// forever. Fail it so the lineage stays recoverable.
			enqReason := fmt.Sprintf("could not schedule retry: %v", err)
			if failErr := q.machine.Fail(ctx, task, enqReason); failErr != nil {
				return failErr
			}
			telemetry.TasksDeadLetter.Inc()
			q.recorder.Record(ctx, &domain.ErrorLogEntry{
				JobID:    task.JobID,
				TaskID:   task.ID,
				Severity: domain.SeverityHigh,
				Message:  enqReason,
				Context:  fmt.Sprintf("delivery method=%s retry_count=%d kind=%s", task.DeliveryMethod, task.RetryCount, kind),
			})
			q.settle(ctx, task)
			return err
		}
		telemetry.RetriesScheduled.Inc()
		q.logger.Warn("Delivery failed, retry scheduled",
			slog.String("task_id", task.ID),
			slog.String("kind", string(kind)),
			slog.Int("retry_count", task.RetryCount),
			slog.Time("next_attempt", d.At),
			slog.String("reason", reason),
		)
		q.yield(ctx, task)

	case Permanent:
		if err := q.machine.Fail(ctx, task, d.Reason); err != nil {
			return err
		}
		telemetry.TasksDeadLetter.Inc()
		q.logger.Error("Delivery failed permanently",
			slog.String("task_id", task.ID),
			slog.String("kind", string(kind)),
			slog.Int("retry_count", task.RetryCount),
			slog.String("reason", d.Reason),
		)
		q.recorder.Record(ctx, &domain.ErrorLogEntry{
			JobID:    task.JobID,
			TaskID:   task.ID,
			Severity: domain.SeverityHigh,
			Message:  d.Reason,
			Context:  fmt.Sprintf("delivery method=%s retry_count=%d kind=%s", task.DeliveryMethod, task.RetryCount, kind),
		})
		q.settle(ctx, task)

	default:
		return fmt.Errorf("unknown retry decision %T", decision)
	}
	return nil
}

// loadOutcome fetches a claimed item and its task for outcome handling.
func (q *DeliveryQueue) loadOutcome(ctx context.Context, itemID string) (*domain.QueueItem, *domain.Task, error) {
	item, err := q.store.GetQueueItem(ctx, itemID)
	if err != nil {
		return nil, nil, err
	}
	if item.Status != domain.QueueItemProcessing {
		return nil, nil, fmt.Errorf("queue item %s is %s, expected processing", itemID, item.Status)
	}
	task, err := q.store.GetTask(ctx, item.TaskID)
	if err != nil {
		return nil, nil, err
	}
	return item, task, nil
}

func (q *DeliveryQueue) settle(ctx context.Context, task *domain.Task) {
	if q.observer != nil {
		q.observer.TaskSettled(ctx, task)
	}
}

func (q *DeliveryQueue) yield(ctx context.Context, task *domain.Task) {
	if q.observer != nil {
		q.observer.TaskYielded(ctx, task)
	}
}

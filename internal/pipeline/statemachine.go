package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// transitions is the legal task transition table. Terminal states have no
// outbound edges; pending may be cancelled directly on job abort.
var transitions = map[domain.TaskStatus][]domain.TaskStatus{
	domain.TaskStatusPending:    {domain.TaskStatusProcessing, domain.TaskStatusCancelled},
	domain.TaskStatusProcessing: {domain.TaskStatusCompleted, domain.TaskStatusCancelled, domain.TaskStatusFailed},
}

func transitionAllowed(from, to domain.TaskStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// StateMachine routes every task mutation through a validated transition.
// A rejected transition leaves both the task and storage unchanged.
type StateMachine struct {
	store  Storage
	logger *slog.Logger
	now    func() time.Time
}

// NewStateMachine creates a state machine over the given store.
func NewStateMachine(store Storage, logger *slog.Logger) *StateMachine {
	return &StateMachine{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Begin moves a pending task into processing with the generating sub-status.
func (m *StateMachine) Begin(ctx context.Context, task *domain.Task) error {
	return m.transition(ctx, task, domain.TaskStatusProcessing, func(t *domain.Task) {
		t.SubStatus = domain.SubStatusGenerating
	})
}

// Complete moves a processing task into completed and clears its error.
func (m *StateMachine) Complete(ctx context.Context, task *domain.Task) error {
	return m.transition(ctx, task, domain.TaskStatusCompleted, func(t *domain.Task) {
		t.ErrorMessage = ""
	})
}

// Cancel moves a task into cancelled (manual rejection or job abort).
func (m *StateMachine) Cancel(ctx context.Context, task *domain.Task) error {
	return m.transition(ctx, task, domain.TaskStatusCancelled, nil)
}

// Fail moves a processing task into failed, recording the last reason.
func (m *StateMachine) Fail(ctx context.Context, task *domain.Task, reason string) error {
	return m.transition(ctx, task, domain.TaskStatusFailed, func(t *domain.Task) {
		t.ErrorMessage = reason
	})
}

// SetSubStatus refines a processing task's progress. It is rejected outside
// of processing since sub-status never outlives the processing state.
func (m *StateMachine) SetSubStatus(ctx context.Context, task *domain.Task, sub domain.SubStatus) error {
	if task.Status != domain.TaskStatusProcessing {
		return fmt.Errorf("%w: sub-status %q requires processing, task %s is %s",
			domain.ErrInvalidStateTransition, sub, task.ID, task.Status)
	}
	cp := *task
	cp.SubStatus = sub
	cp.UpdatedAt = m.now()
	if err := m.store.SaveTask(ctx, &cp); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	*task = cp
	return nil
}

// RecordAttempt persists attempt bookkeeping (retry history, retry count,
// error message) for a task that stays in processing.
func (m *StateMachine) RecordAttempt(ctx context.Context, task *domain.Task) error {
	if task.Status != domain.TaskStatusProcessing {
		return fmt.Errorf("%w: attempt bookkeeping requires processing, task %s is %s",
			domain.ErrInvalidStateTransition, task.ID, task.Status)
	}
	task.UpdatedAt = m.now()
	if err := m.store.SaveTask(ctx, task); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

// transition validates from→to, applies mutate on a copy, and persists the
// copy in a single SaveTask. The task is only updated after a successful
// write, so duplicate dispatches observe an idempotent rejection.
func (m *StateMachine) transition(ctx context.Context, task *domain.Task, to domain.TaskStatus, mutate func(*domain.Task)) error {
	from := task.Status
	if !transitionAllowed(from, to) {
		m.logger.Warn("Rejected task transition",
			slog.String("task_id", task.ID),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
		return fmt.Errorf("%w: %s -> %s for task %s", domain.ErrInvalidStateTransition, from, to, task.ID)
	}

	cp := *task
	cp.Status = to
	cp.UpdatedAt = m.now()
	if to.IsTerminal() {
		now := m.now()
		cp.CompletedAt = &now
		cp.SubStatus = domain.SubStatusNone
	}
	if mutate != nil {
		mutate(&cp)
	}

	if err := m.store.SaveTask(ctx, &cp); err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	*task = cp

	m.logger.Debug("Task transitioned",
		slog.String("task_id", task.ID),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	return nil
}

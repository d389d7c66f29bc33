package pipeline

import (
	"context"
	"time"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// Storage is the single source of truth for pipeline state. All writes are
// atomic per entity: no partial job, task, or queue item update is ever
// visible to another caller.
type Storage interface {
	// CreateJob persists a job together with its initial task set.
	CreateJob(ctx context.Context, job *domain.BatchJob, tasks []*domain.Task) error
	GetJob(ctx context.Context, jobID string) (*domain.BatchJob, error)
	SaveJob(ctx context.Context, job *domain.BatchJob) error
	DeleteJob(ctx context.Context, jobID string) error

	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	SaveTask(ctx context.Context, task *domain.Task) error
	// ListTasks returns a job's tasks, optionally filtered by status, in
	// creation order.
	ListTasks(ctx context.Context, jobID string, statuses ...domain.TaskStatus) ([]*domain.Task, error)
	// CountTasks aggregates per-status counts in one consistent read.
	CountTasks(ctx context.Context, jobID string) (domain.Progress, error)

	// CreateQueueItem inserts a pending queue item. It fails with
	// ErrDuplicateEnqueue when the task already has an active item.
	CreateQueueItem(ctx context.Context, item *domain.QueueItem) error
	GetQueueItem(ctx context.Context, itemID string) (*domain.QueueItem, error)
	SaveQueueItem(ctx context.Context, item *domain.QueueItem) error
	// ClaimDueQueueItems atomically moves up to limit due pending items to
	// processing, ordered by scheduled time then insertion order.
	ClaimDueQueueItems(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error)

	AppendErrorLog(ctx context.Context, entry *domain.ErrorLogEntry) error
	ResolveErrorLog(ctx context.Context, entryID string, resolution domain.Resolution) error
}

// Generator produces personalized letter content for a task.
type Generator interface {
	Generate(ctx context.Context, task *domain.Task) (string, error)
}

// Result is the outcome of one transport delivery attempt.
type Result struct {
	Success bool
	Reason  string
	Kind    domain.FailureKind
}

// Transport delivers a task's generated content to its target. A transport
// never returns an error; failures are reported through the Result so the
// retry policy can classify them.
type Transport interface {
	Deliver(ctx context.Context, task *domain.Task) Result
}

// Alert is an operator notification emitted for high-severity failures.
type Alert struct {
	JobID    string          `json:"job_id"`
	TaskID   string          `json:"task_id,omitempty"`
	Severity domain.Severity `json:"severity"`
	Message  string          `json:"message"`
}

// Notifier delivers alerts. Notify failures are logged but never block the
// pipeline.
type Notifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// TaskObserver is told about task lifecycle points the job owner must react
// to: terminal outcomes, and attempts that ended in a scheduled retry.
type TaskObserver interface {
	TaskSettled(ctx context.Context, task *domain.Task)
	// TaskYielded reports a task whose delivery attempt failed retryably.
	// The task is back in the submitting sub-status waiting on its next
	// queue item, so a requested pause can now settle.
	TaskYielded(ctx context.Context, task *domain.Task)
}

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// Recorder appends to the error log and raises alerts for high-severity
// entries. The log is append-only; only the resolution status mutates.
type Recorder struct {
	store    Storage
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
}

// NewRecorder creates a recorder. notifier may be nil when alerting is not
// wired.
func NewRecorder(store Storage, notifier Notifier, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Record appends an entry, filling id, timestamp, and resolution. Storage
// failures are logged and swallowed: the error log never blocks the
// pipeline.
func (r *Recorder) Record(ctx context.Context, entry *domain.ErrorLogEntry) {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.now()
	}
	if entry.Resolution == "" {
		entry.Resolution = domain.ResolutionNew
	}

	if err := r.store.AppendErrorLog(ctx, entry); err != nil {
		r.logger.Error("Failed to append error log entry",
			slog.String("job_id", entry.JobID),
			slog.String("task_id", entry.TaskID),
			slog.String("error", err.Error()),
		)
		return
	}

	if entry.Severity == domain.SeverityHigh && r.notifier != nil {
		go r.alert(Alert{
			JobID:    entry.JobID,
			TaskID:   entry.TaskID,
			Severity: entry.Severity,
			Message:  entry.Message,
		})
	}
}

// Resolve updates the triage status of an entry.
func (r *Recorder) Resolve(ctx context.Context, entryID string, resolution domain.Resolution) error {
	return r.store.ResolveErrorLog(ctx, entryID, resolution)
}

// alert is fire-and-forget: failures are logged, never propagated.
func (r *Recorder) alert(alert Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.notifier.Notify(ctx, alert); err != nil {
		r.logger.Warn("Failed to deliver alert",
			slog.String("job_id", alert.JobID),
			slog.String("task_id", alert.TaskID),
			slog.String("error", err.Error()),
		)
	}
}

// Package postgres is the sqlx-backed Storage implementation. All writes
// are single-statement and therefore atomic per entity.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// Store handles all database operations for the pipeline.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store over an open connection pool.
func NewStore(db *sqlx.DB, logger *slog.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// taskRow mirrors the tasks table; retry history travels as JSONB.
type taskRow struct {
	domain.Task
	RetryHistoryJSON []byte `db:"retry_history"`
}

func (r *taskRow) toTask() (*domain.Task, error) {
	task := r.Task
	if len(r.RetryHistoryJSON) > 0 {
		if err := json.Unmarshal(r.RetryHistoryJSON, &task.RetryHistory); err != nil {
			return nil, fmt.Errorf("failed to decode retry history for task %s: %w", task.ID, err)
		}
	}
	return &task, nil
}

func historyJSON(task *domain.Task) ([]byte, error) {
	history := task.RetryHistory
	if history == nil {
		history = []domain.Attempt{}
	}
	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to encode retry history: %w", err)
	}
	return data, nil
}

// CreateJob inserts the job and its tasks in one transaction.
func (s *Store) CreateJob(ctx context.Context, job *domain.BatchJob, tasks []*domain.Task) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batch_jobs (
			job_id, name, user_id, template_id, status, auto_approve,
			concurrency, delivery_method, pause_requested, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, job.ID, job.Name, job.UserID, job.TemplateID, job.Status, job.AutoApprove,
		job.Concurrency, job.DeliveryMethod, job.PauseRequested, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	for _, task := range tasks {
		history, err := historyJSON(task)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (
				task_id, job_id, company_id, company_name, contact_url, dm_handle,
				template_id, status, sub_status, generated_content, delivery_method,
				retry_count, retry_history, error_message, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, task.ID, task.JobID, task.CompanyID, task.CompanyName, task.ContactURL, task.DMHandle,
			task.TemplateID, task.Status, task.SubStatus, task.GeneratedContent, task.DeliveryMethod,
			task.RetryCount, history, task.ErrorMessage, task.CreatedAt, task.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit job creation: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, jobID string) (*domain.BatchJob, error) {
	var job domain.BatchJob
	err := s.db.GetContext(ctx, &job, `
		SELECT job_id, name, user_id, template_id, status, auto_approve,
		       concurrency, delivery_method, pause_requested, created_at, updated_at, completed_at
		FROM batch_jobs
		WHERE job_id = $1
	`, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

func (s *Store) SaveJob(ctx context.Context, job *domain.BatchJob) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_jobs
		SET name = $2, status = $3, auto_approve = $4, concurrency = $5,
		    delivery_method = $6, pause_requested = $7, updated_at = $8, completed_at = $9
		WHERE job_id = $1
	`, job.ID, job.Name, job.Status, job.AutoApprove, job.Concurrency,
		job.DeliveryMethod, job.PauseRequested, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM batch_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrJobNotFound
	}
	return nil
}

// JobCursor is a (created_at, job_id) pagination cursor.
type JobCursor struct {
	CreatedAt time.Time
	JobID     string
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	UserID   string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// ListJobs returns jobs newest first with keyset pagination. It fetches one
// extra row so callers can detect another page.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*domain.BatchJob, error) {
	query := `
		SELECT job_id, name, user_id, template_id, status, auto_approve,
		       concurrency, delivery_method, pause_requested, created_at, updated_at, completed_at
		FROM batch_jobs
		WHERE 1=1
	`
	args := []interface{}{}
	argIdx := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argIdx)
		args = append(args, filter.UserID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, job_id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []*domain.BatchJob
	if err := s.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return jobs, nil
}

const taskColumns = `
	task_id, job_id, company_id, company_name, contact_url, dm_handle,
	template_id, status, sub_status, generated_content, delivery_method,
	retry_count, retry_history, error_message, created_at, updated_at, completed_at
`

func (s *Store) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var row taskRow
	err := s.db.GetContext(ctx, &row, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1`, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return row.toTask()
}

func (s *Store) SaveTask(ctx context.Context, task *domain.Task) error {
	history, err := historyJSON(task)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = $2, sub_status = $3, generated_content = $4, retry_count = $5,
		    retry_history = $6, error_message = $7, updated_at = $8, completed_at = $9
		WHERE task_id = $1
	`, task.ID, task.Status, task.SubStatus, task.GeneratedContent, task.RetryCount,
		history, task.ErrorMessage, task.UpdatedAt, task.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, jobID string, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE job_id = $1`
	args := []interface{}{jobID}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i, st := range statuses {
			strs[i] = string(st)
		}
		query += ` AND status = ANY($2)`
		args = append(args, pq.Array(strs))
	}
	query += ` ORDER BY created_at, task_id`

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	tasks := make([]*domain.Task, 0, len(rows))
	for i := range rows {
		task, err := rows[i].toTask()
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

// CountTasks aggregates per-status counts in a single statement so the sum
// invariant holds at the instant of the read.
func (s *Store) CountTasks(ctx context.Context, jobID string) (domain.Progress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks WHERE job_id = $1 GROUP BY status
	`, jobID)
	if err != nil {
		return domain.Progress{}, fmt.Errorf("failed to count tasks: %w", err)
	}
	defer rows.Close()

	var p domain.Progress
	for rows.Next() {
		var status domain.TaskStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.Progress{}, fmt.Errorf("failed to scan task count: %w", err)
		}
		switch status {
		case domain.TaskStatusPending:
			p.Pending = count
		case domain.TaskStatusProcessing:
			p.Processing = count
		case domain.TaskStatusCompleted:
			p.Completed = count
		case domain.TaskStatusCancelled:
			p.Cancelled = count
		case domain.TaskStatusFailed:
			p.Failed = count
		}
		p.Total += count
	}
	if err := rows.Err(); err != nil {
		return domain.Progress{}, fmt.Errorf("failed to read task counts: %w", err)
	}
	if p.Total > 0 {
		p.Percent = float64(p.Completed) / float64(p.Total) * 100
	}
	return p, nil
}

// CreateQueueItem inserts a pending item. The partial unique index on
// active items turns a duplicate enqueue into a constraint violation.
func (s *Store) CreateQueueItem(ctx context.Context, item *domain.QueueItem) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO delivery_queue (item_id, task_id, status, scheduled_at, status_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING seq
	`, item.ID, item.TaskID, item.Status, item.ScheduledAt, item.StatusMessage, item.CreatedAt).Scan(&item.Seq)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return domain.ErrDuplicateEnqueue
		}
		return fmt.Errorf("failed to insert queue item: %w", err)
	}
	return nil
}

func (s *Store) GetQueueItem(ctx context.Context, itemID string) (*domain.QueueItem, error) {
	var item domain.QueueItem
	err := s.db.GetContext(ctx, &item, `
		SELECT item_id, seq, task_id, status, scheduled_at, completed_at, status_message, created_at
		FROM delivery_queue
		WHERE item_id = $1
	`, itemID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrQueueItemNotFound
		}
		return nil, fmt.Errorf("failed to get queue item: %w", err)
	}
	return &item, nil
}

func (s *Store) SaveQueueItem(ctx context.Context, item *domain.QueueItem) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE delivery_queue
		SET status = $2, scheduled_at = $3, completed_at = $4, status_message = $5
		WHERE item_id = $1
	`, item.ID, item.Status, item.ScheduledAt, item.CompletedAt, item.StatusMessage)
	if err != nil {
		return fmt.Errorf("failed to save queue item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrQueueItemNotFound
	}
	return nil
}

// ClaimDueQueueItems claims due pending items with SKIP LOCKED so
// concurrent dispatchers never double-claim.
func (s *Store) ClaimDueQueueItems(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	var items []*domain.QueueItem
	err := s.db.SelectContext(ctx, &items, `
		UPDATE delivery_queue
		SET status = 'processing'
		WHERE item_id IN (
			SELECT item_id FROM delivery_queue
			WHERE status = 'pending' AND scheduled_at <= $1
			ORDER BY scheduled_at, seq
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING item_id, seq, task_id, status, scheduled_at, completed_at, status_message, created_at
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim queue items: %w", err)
	}
	return items, nil
}

func (s *Store) AppendErrorLog(ctx context.Context, entry *domain.ErrorLogEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO error_log (entry_id, job_id, task_id, severity, message, context, resolution, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.JobID, entry.TaskID, entry.Severity, entry.Message, entry.Context, entry.Resolution, entry.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to append error log entry: %w", err)
	}
	return nil
}

func (s *Store) ResolveErrorLog(ctx context.Context, entryID string, resolution domain.Resolution) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE error_log SET resolution = $2 WHERE entry_id = $1
	`, entryID, resolution)
	if err != nil {
		return fmt.Errorf("failed to resolve error log entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrEntryNotFound
	}
	return nil
}

// ListErrorLog returns entries newest first, optionally scoped to a job.
func (s *Store) ListErrorLog(ctx context.Context, jobID string) ([]*domain.ErrorLogEntry, error) {
	query := `
		SELECT entry_id, job_id, task_id, severity, message, context, resolution, created_at
		FROM error_log
	`
	args := []interface{}{}
	if jobID != "" {
		query += ` WHERE job_id = $1`
		args = append(args, jobID)
	}
	query += ` ORDER BY created_at DESC`

	var entries []*domain.ErrorLogEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list error log: %w", err)
	}
	return entries, nil
}

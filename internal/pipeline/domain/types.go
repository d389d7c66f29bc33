package domain

import "time"

// BatchJob is a named collection of delivery tasks created from one template
// and one target list.
type BatchJob struct {
	ID             string         `db:"job_id" json:"job_id"`
	Name           string         `db:"name" json:"name"`
	UserID         string         `db:"user_id" json:"user_id"`
	TemplateID     string         `db:"template_id" json:"template_id"`
	Status         JobStatus      `db:"status" json:"status"`
	AutoApprove    bool           `db:"auto_approve" json:"auto_approve"`
	Concurrency    int            `db:"concurrency" json:"concurrency"`
	DeliveryMethod DeliveryMethod `db:"delivery_method" json:"delivery_method"`
	PauseRequested bool           `db:"pause_requested" json:"-"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt    *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// Company is one outreach target within a batch job.
type Company struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Industry   string `json:"industry,omitempty"`
	ContactURL string `json:"contact_url,omitempty"`
	DMHandle   string `json:"dm_handle,omitempty"`
}

// Attempt is one entry of a task's retry history. History is append-only:
// exactly one entry per delivery attempt.
type Attempt struct {
	Timestamp time.Time      `json:"timestamp"`
	Method    DeliveryMethod `json:"method"`
	Success   bool           `json:"success"`
	Reason    string         `json:"reason,omitempty"`
}

// Task is one company's delivery attempt lineage within a batch job.
//
// RetryCount always equals the number of failed entries in RetryHistory.
type Task struct {
	ID               string         `db:"task_id" json:"task_id"`
	JobID            string         `db:"job_id" json:"job_id"`
	CompanyID        string         `db:"company_id" json:"company_id"`
	CompanyName      string         `db:"company_name" json:"company_name"`
	ContactURL       string         `db:"contact_url" json:"contact_url,omitempty"`
	DMHandle         string         `db:"dm_handle" json:"dm_handle,omitempty"`
	TemplateID       string         `db:"template_id" json:"template_id"`
	Status           TaskStatus     `db:"status" json:"status"`
	SubStatus        SubStatus      `db:"sub_status" json:"sub_status,omitempty"`
	GeneratedContent string         `db:"generated_content" json:"generated_content,omitempty"`
	DeliveryMethod   DeliveryMethod `db:"delivery_method" json:"delivery_method"`
	RetryCount       int            `db:"retry_count" json:"retry_count"`
	RetryHistory     []Attempt      `db:"-" json:"retry_history,omitempty"`
	ErrorMessage     string         `db:"error_message" json:"error_message,omitempty"`
	CreatedAt        time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt      *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
}

// FailedAttempts counts the failed entries of the retry history.
func (t *Task) FailedAttempts() int {
	n := 0
	for _, a := range t.RetryHistory {
		if !a.Success {
			n++
		}
	}
	return n
}

// QueueItem is one scheduled delivery attempt for a task. At most one item
// per task may be active (pending or processing) at a time.
type QueueItem struct {
	ID            string          `db:"item_id" json:"item_id"`
	TaskID        string          `db:"task_id" json:"task_id"`
	Status        QueueItemStatus `db:"status" json:"status"`
	ScheduledAt   time.Time       `db:"scheduled_at" json:"scheduled_at"`
	CompletedAt   *time.Time      `db:"completed_at" json:"completed_at,omitempty"`
	StatusMessage string          `db:"status_message" json:"status_message,omitempty"`
	Seq           int64           `db:"seq" json:"-"`
	CreatedAt     time.Time       `db:"created_at" json:"created_at"`
}

// Active reports whether the item still occupies the task's delivery slot.
func (q *QueueItem) Active() bool {
	return q.Status == QueueItemPending || q.Status == QueueItemProcessing
}

// ErrorLogEntry is an append-only failure record for operator review.
type ErrorLogEntry struct {
	ID         string     `db:"entry_id" json:"entry_id"`
	Timestamp  time.Time  `db:"created_at" json:"timestamp"`
	JobID      string     `db:"job_id" json:"job_id"`
	TaskID     string     `db:"task_id" json:"task_id,omitempty"`
	Severity   Severity   `db:"severity" json:"severity"`
	Message    string     `db:"message" json:"message"`
	Context    string     `db:"context" json:"context,omitempty"`
	Resolution Resolution `db:"resolution" json:"resolution"`
}

// Progress aggregates per-status task counts for a job. The per-status
// counts always sum to Total.
type Progress struct {
	Pending    int     `json:"pending"`
	Processing int     `json:"processing"`
	Completed  int     `json:"completed"`
	Cancelled  int     `json:"cancelled"`
	Failed     int     `json:"failed"`
	Total      int     `json:"total"`
	Percent    float64 `json:"percent"`
}

// Terminal counts tasks that can no longer change state.
func (p Progress) Terminal() int {
	return p.Completed + p.Cancelled + p.Failed
}

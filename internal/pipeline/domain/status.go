package domain

// JobStatus enumerates batch job lifecycle states.
type JobStatus string

const (
	JobStatusDraft     JobStatus = "draft"
	JobStatusRunning   JobStatus = "running"
	JobStatusPaused    JobStatus = "paused"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminalJob reports whether the job can only be inspected or deleted.
func (s JobStatus) IsTerminalJob() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// TaskStatus enumerates the authoritative per-task lifecycle states.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal reports whether no further transitions are possible from s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusCancelled || s == TaskStatusFailed
}

// SubStatus refines TaskStatusProcessing for operator display. It never
// creates new top-level transitions; TaskStatus stays authoritative.
type SubStatus string

const (
	SubStatusNone             SubStatus = ""
	SubStatusGenerating       SubStatus = "generating"
	SubStatusAwaitingApproval SubStatus = "awaiting_approval"
	SubStatusSubmitting       SubStatus = "submitting"
	SubStatusAwaitingResponse SubStatus = "awaiting_response"
)

// QueueItemStatus enumerates delivery queue item states.
type QueueItemStatus string

const (
	QueueItemPending    QueueItemStatus = "pending"
	QueueItemProcessing QueueItemStatus = "processing"
	QueueItemSent       QueueItemStatus = "sent"
	QueueItemFailed     QueueItemStatus = "failed"
)

// DeliveryMethod selects the transport used for a task.
type DeliveryMethod string

const (
	DeliveryMethodDM   DeliveryMethod = "dm"
	DeliveryMethodForm DeliveryMethod = "form"
)

// Severity grades error log entries.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Resolution tracks operator triage of an error log entry. It is the only
// mutable field of an entry.
type Resolution string

const (
	ResolutionNew           Resolution = "new"
	ResolutionInvestigating Resolution = "investigating"
	ResolutionResolved      Resolution = "resolved"
)

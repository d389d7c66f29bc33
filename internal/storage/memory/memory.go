// Package memory is the in-process Storage implementation: a single owned
// store behind one mutex, used by tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
)

// Store keeps all pipeline state in memory. Every method copies entities on
// the way in and out so callers never share mutable state with the store.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*domain.BatchJob
	tasks   map[string]*domain.Task
	items   map[string]*domain.QueueItem
	entries map[string]*domain.ErrorLogEntry

	taskOrder []string
	logOrder  []string
	itemSeq   int64
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		jobs:    make(map[string]*domain.BatchJob),
		tasks:   make(map[string]*domain.Task),
		items:   make(map[string]*domain.QueueItem),
		entries: make(map[string]*domain.ErrorLogEntry),
	}
}

func copyJob(j *domain.BatchJob) *domain.BatchJob {
	cp := *j
	return &cp
}

func copyTask(t *domain.Task) *domain.Task {
	cp := *t
	cp.RetryHistory = append([]domain.Attempt(nil), t.RetryHistory...)
	return &cp
}

func copyItem(i *domain.QueueItem) *domain.QueueItem {
	cp := *i
	return &cp
}

// CreateJob persists a job together with its initial task set.
func (s *Store) CreateJob(_ context.Context, job *domain.BatchJob, tasks []*domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	s.jobs[job.ID] = copyJob(job)
	for _, t := range tasks {
		s.tasks[t.ID] = copyTask(t)
		s.taskOrder = append(s.taskOrder, t.ID)
	}
	return nil
}

func (s *Store) GetJob(_ context.Context, jobID string) (*domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (s *Store) SaveJob(_ context.Context, job *domain.BatchJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return domain.ErrJobNotFound
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *Store) DeleteJob(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[jobID]; !ok {
		return domain.ErrJobNotFound
	}
	delete(s.jobs, jobID)
	kept := s.taskOrder[:0]
	for _, id := range s.taskOrder {
		if t := s.tasks[id]; t != nil && t.JobID == jobID {
			for itemID, item := range s.items {
				if item.TaskID == id {
					delete(s.items, itemID)
				}
			}
			delete(s.tasks, id)
			continue
		}
		kept = append(kept, id)
	}
	s.taskOrder = kept
	return nil
}

// ListJobs returns all jobs, newest first. Used by the API layer.
func (s *Store) ListJobs(_ context.Context, userID string, status domain.JobStatus) ([]*domain.BatchJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.BatchJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		if userID != "" && j.UserID != userID {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].CreatedAt.Equal(out[b].CreatedAt) {
			return out[a].ID > out[b].ID
		}
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	return out, nil
}

func (s *Store) GetTask(_ context.Context, taskID string) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return copyTask(task), nil
}

func (s *Store) SaveTask(_ context.Context, task *domain.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[task.ID]; !ok {
		return domain.ErrTaskNotFound
	}
	s.tasks[task.ID] = copyTask(task)
	return nil
}

func (s *Store) ListTasks(_ context.Context, jobID string, statuses ...domain.TaskStatus) ([]*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t == nil || t.JobID != jobID {
			continue
		}
		if len(statuses) > 0 && !statusMatch(t.Status, statuses) {
			continue
		}
		out = append(out, copyTask(t))
	}
	return out, nil
}

func statusMatch(status domain.TaskStatus, statuses []domain.TaskStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func (s *Store) CountTasks(_ context.Context, jobID string) (domain.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p domain.Progress
	for _, t := range s.tasks {
		if t.JobID != jobID {
			continue
		}
		switch t.Status {
		case domain.TaskStatusPending:
			p.Pending++
		case domain.TaskStatusProcessing:
			p.Processing++
		case domain.TaskStatusCompleted:
			p.Completed++
		case domain.TaskStatusCancelled:
			p.Cancelled++
		case domain.TaskStatusFailed:
			p.Failed++
		}
		p.Total++
	}
	if p.Total > 0 {
		p.Percent = float64(p.Completed) / float64(p.Total) * 100
	}
	return p, nil
}

// CreateQueueItem inserts a pending item, enforcing the one-active-item-per-
// task invariant under the store lock.
func (s *Store) CreateQueueItem(_ context.Context, item *domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.items {
		if existing.TaskID == item.TaskID && existing.Active() {
			return domain.ErrDuplicateEnqueue
		}
	}
	s.itemSeq++
	cp := copyItem(item)
	cp.Seq = s.itemSeq
	s.items[item.ID] = cp
	item.Seq = cp.Seq
	return nil
}

func (s *Store) GetQueueItem(_ context.Context, itemID string) (*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, domain.ErrQueueItemNotFound
	}
	return copyItem(item), nil
}

func (s *Store) SaveQueueItem(_ context.Context, item *domain.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[item.ID]; !ok {
		return domain.ErrQueueItemNotFound
	}
	s.items[item.ID] = copyItem(item)
	return nil
}

// ClaimDueQueueItems atomically moves up to limit due pending items to
// processing, ordered by scheduled time then insertion order.
func (s *Store) ClaimDueQueueItems(_ context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.QueueItem
	for _, item := range s.items {
		if item.Status == domain.QueueItemPending && !item.ScheduledAt.After(now) {
			due = append(due, item)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].ScheduledAt.Equal(due[b].ScheduledAt) {
			return due[a].Seq < due[b].Seq
		}
		return due[a].ScheduledAt.Before(due[b].ScheduledAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*domain.QueueItem, 0, len(due))
	for _, item := range due {
		item.Status = domain.QueueItemProcessing
		out = append(out, copyItem(item))
	}
	return out, nil
}

func (s *Store) AppendErrorLog(_ context.Context, entry *domain.ErrorLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *entry
	s.entries[entry.ID] = &cp
	s.logOrder = append(s.logOrder, entry.ID)
	return nil
}

func (s *Store) ResolveErrorLog(_ context.Context, entryID string, resolution domain.Resolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[entryID]
	if !ok {
		return domain.ErrEntryNotFound
	}
	entry.Resolution = resolution
	return nil
}

// ListErrorLog returns entries newest first. Used by the API layer.
func (s *Store) ListErrorLog(_ context.Context, jobID string) ([]*domain.ErrorLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.ErrorLogEntry
	for i := len(s.logOrder) - 1; i >= 0; i-- {
		entry := s.entries[s.logOrder[i]]
		if entry == nil {
			continue
		}
		if jobID != "" && entry.JobID != jobID {
			continue
		}
		cp := *entry
		out = append(out, &cp)
	}
	return out, nil
}

package pipeline

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/letterflow/outreach-be/internal/pipeline/domain"
	"github.com/letterflow/outreach-be/internal/storage/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testClock is a settable clock shared by every collaborator in a test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// scriptedGenerator returns canned content or errors per company ID.
type scriptedGenerator struct {
	mu       sync.Mutex
	failures map[string]error
	content  string
}

func newScriptedGenerator(content string) *scriptedGenerator {
	return &scriptedGenerator{
		failures: make(map[string]error),
		content:  content,
	}
}

func (g *scriptedGenerator) failFor(companyID string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failures[companyID] = err
}

func (g *scriptedGenerator) Generate(_ context.Context, task *domain.Task) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err, ok := g.failures[task.CompanyID]; ok {
		return "", err
	}
	return g.content + " for " + task.CompanyName, nil
}

// scriptedTransport returns a fixed Result, recording every task it saw.
type scriptedTransport struct {
	mu     sync.Mutex
	result Result
	seen   []string
}

func (t *scriptedTransport) Deliver(_ context.Context, task *domain.Task) Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seen = append(t.seen, task.ID)
	return t.result
}

func (t *scriptedTransport) deliveries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}

// settleRecorder captures observer notifications.
type settleRecorder struct {
	mu      sync.Mutex
	settled []string
	yielded []string
}

func (r *settleRecorder) TaskSettled(_ context.Context, task *domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settled = append(r.settled, task.ID)
}

func (r *settleRecorder) TaskYielded(_ context.Context, task *domain.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.yielded = append(r.yielded, task.ID)
}

func (r *settleRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.settled)
}

func (r *settleRecorder) yields() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.yielded)
}

// queueEnv bundles the collaborators most queue and dispatcher tests need.
type queueEnv struct {
	store   *memory.Store
	clock   *testClock
	machine *StateMachine
	policy  *RetryPolicy
	queue   *DeliveryQueue
}

func newQueueEnv() *queueEnv {
	logger := testLogger()
	store := memory.NewStore()
	clock := newTestClock()

	machine := NewStateMachine(store, logger)
	machine.now = clock.Now

	policy := NewRetryPolicy(DefaultRetryPolicyConfig())
	policy.now = clock.Now

	recorder := NewRecorder(store, nil, logger)
	recorder.now = clock.Now

	queue := NewDeliveryQueue(store, machine, policy, recorder, logger)
	queue.now = clock.Now

	return &queueEnv{
		store:   store,
		clock:   clock,
		machine: machine,
		policy:  policy,
		queue:   queue,
	}
}

// seedJob persists a running job and returns it.
func (e *queueEnv) seedJob(tasks ...*domain.Task) *domain.BatchJob {
	now := e.clock.Now()
	job := &domain.BatchJob{
		ID:             uuid.New().String(),
		Name:           "spring outreach",
		UserID:         "user-1",
		TemplateID:     "intro",
		Status:         domain.JobStatusRunning,
		Concurrency:    2,
		DeliveryMethod: domain.DeliveryMethodDM,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for _, task := range tasks {
		task.JobID = job.ID
	}
	if err := e.store.CreateJob(context.Background(), job, tasks); err != nil {
		panic(err)
	}
	return job
}

// makeTask builds a task in the given state. Processing tasks carry the
// submitting sub-status, matching how they enter the delivery queue.
func makeTask(status domain.TaskStatus) *domain.Task {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	task := &domain.Task{
		ID:             uuid.New().String(),
		CompanyID:      "company-" + uuid.New().String()[:8],
		CompanyName:    "Acme Corp",
		DMHandle:       "@acme",
		ContactURL:     "https://acme.example.com/contact",
		TemplateID:     "intro",
		Status:         status,
		DeliveryMethod: domain.DeliveryMethodDM,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if status == domain.TaskStatusProcessing {
		task.SubStatus = domain.SubStatusSubmitting
	}
	return task
}

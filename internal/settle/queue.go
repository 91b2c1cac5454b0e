package settle

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TheGreatAxios/x402-facilitator/internal/protocol"
)

// ErrQueueClosed is returned by every operation on a closed queue.
var ErrQueueClosed = errors.New("settlement queue is closed")

// ErrJobNotFound is returned when a job id is not in the processing set.
var ErrJobNotFound = errors.New("job not found")

// Status is a job's lifecycle state.
type Status uint8

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job is a queued settlement. The queue owns every job: Dequeue lends one
// to exactly one worker at a time, and GetJob hands out copies.
type Job struct {
	ID           string
	Payload      *protocol.PaymentPayload
	Requirements *protocol.PaymentRequirements
	CreatedAt    time.Time
	RetryCount   int
	// NotBefore delays retry eligibility after a failure.
	NotBefore time.Time
	Status    Status
	TxHash    string
	LastError string
}

// Result reports a settlement attempt back into the queue. A Result with
// Success=false is equivalent to calling Fail.
type Result struct {
	Success bool
	TxHash  string
	Err     string
}

// Queue is a transient in-memory FIFO of settlement jobs with bounded
// retry. Failed jobs re-enter the back of the pending list with an
// exponential inter-retry delay; once RetryCount reaches the cap they
// move to the terminal failed set and are never dequeued again.
type Queue struct {
	mu         sync.Mutex
	pending    []*Job
	processing map[string]*Job
	completed  map[string]*Job
	failed     map[string]*Job
	maxRetries int
	retryDelay time.Duration
	closed     bool
}

// NewQueue creates a queue. retryDelay is the base of the exponential
// backoff applied to failed jobs; zero disables the delay (immediate
// retry eligibility).
func NewQueue(maxRetries int, retryDelay time.Duration) *Queue {
	return &Queue{
		processing: make(map[string]*Job),
		completed:  make(map[string]*Job),
		failed:     make(map[string]*Job),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Enqueue appends a new job to the pending list and returns it.
func (q *Queue) Enqueue(payload *protocol.PaymentPayload, requirements *protocol.PaymentRequirements) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	job := &Job{
		ID:           uuid.NewString(),
		Payload:      payload,
		Requirements: requirements,
		CreatedAt:    time.Now(),
		Status:       StatusPending,
	}
	q.pending = append(q.pending, job)
	return job, nil
}

// Dequeue moves the first retry-eligible pending job into the processing
// set and returns it, or nil when nothing is eligible.
func (q *Queue) Dequeue() (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	now := time.Now()
	for i, job := range q.pending {
		if job.NotBefore.After(now) {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		job.Status = StatusProcessing
		q.processing[job.ID] = job
		return job, nil
	}
	return nil, nil
}

// Complete reports a settlement result for a processing job. A failed
// result takes the Fail path, including retry accounting.
func (q *Queue) Complete(id string, res Result) error {
	if !res.Success {
		return q.Fail(id, res.Err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	job, ok := q.processing[id]
	if !ok {
		return ErrJobNotFound
	}
	delete(q.processing, id)
	job.Status = StatusCompleted
	job.TxHash = res.TxHash
	q.completed[id] = job
	return nil
}

// Fail records a failed attempt. Under the retry cap the job re-enters
// the back of the pending list with a backoff delay; at the cap it moves
// to the terminal failed set.
func (q *Queue) Fail(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	job, ok := q.processing[id]
	if !ok {
		return ErrJobNotFound
	}
	delete(q.processing, id)

	job.RetryCount++
	job.LastError = reason
	if job.RetryCount < q.maxRetries {
		job.Status = StatusPending
		job.NotBefore = time.Now().Add(q.backoff(job.RetryCount))
		q.pending = append(q.pending, job)
		return nil
	}
	job.Status = StatusFailed
	q.failed[id] = job
	return nil
}

// backoff doubles the base delay per prior failure: delay, 2·delay, 4·delay…
func (q *Queue) backoff(retryCount int) time.Duration {
	if q.retryDelay <= 0 {
		return 0
	}
	return q.retryDelay << (retryCount - 1)
}

// GetJob returns a snapshot of a job in any lifecycle state. The copy is
// taken under the lock so callers never race with worker updates to the
// live job.
func (q *Queue) GetJob(id string) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrQueueClosed
	}
	for _, job := range q.pending {
		if job.ID == id {
			snapshot := *job
			return &snapshot, nil
		}
	}
	for _, set := range []map[string]*Job{q.processing, q.completed, q.failed} {
		if job, ok := set[id]; ok {
			snapshot := *job
			return &snapshot, nil
		}
	}
	return nil, ErrJobNotFound
}

// Size returns the number of pending jobs. Unlike the job-state
// operations, Size and the other count methods keep answering after Close
// (reporting the dropped state as zero) so the health endpoint stays
// readable during shutdown.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) ProcessingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.processing)
}

func (q *Queue) CompletedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed)
}

func (q *Queue) FailedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.failed)
}

// Close drops all pending/processing/completed/failed state. The queue
// holds no durable state; the chain's own nonce protection is the lasting
// guard against double settlement.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.closed = true
	q.pending = nil
	q.processing = make(map[string]*Job)
	q.completed = make(map[string]*Job)
	q.failed = make(map[string]*Job)
	return nil
}

// Package queue is a durable, delayed, retrying job queue.
//
// Producers call Queue.Enqueue with a task name and a JSON-serializable
// payload. Workers claim due jobs from a Store, dispatch them to the
// handler registered for the task, and acknowledge, retry with exponential
// backoff, or bury them depending on the outcome. Two stores are provided:
// DBStore on the application database and RedisStore on Redis.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of work as seen by stores and workers.
type Job struct {
	ID          string          `json:"id"`
	Task        string          `json:"task"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	RunAt       time.Time       `json:"run_at"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
	LastError   string          `json:"last_error,omitempty"`
}

// Store persists jobs. Claim returns (nil, nil) when nothing is due and
// must hand a job to at most one caller until it is acked, retried,
// buried, or its lease expires. Claim increments Attempts.
type Store interface {
	Push(ctx context.Context, j *Job) error
	Claim(ctx context.Context, now time.Time) (*Job, error)
	Ack(ctx context.Context, j *Job) error
	Retry(ctx context.Context, j *Job, runAt time.Time, cause error) error
	Bury(ctx context.Context, j *Job, cause error) error
}

// Depther is implemented by stores that can count their jobs per state
// ("queued", "running", "dead", and "completed" where kept).
type Depther interface {
	Depth(ctx context.Context) (map[string]int64, error)
}

// Options controls scheduling of one job. Zero fields take the queue
// defaults.
type Options struct {
	Delay       time.Duration
	MaxAttempts int
}

// Handle identifies an enqueued job.
type Handle struct {
	ID    string
	Task  string
	RunAt time.Time
}

// Queue is the producer side.
type Queue struct {
	store    Store
	defaults Options
	now      func() time.Time
}

// New returns a queue writing to store. defaults.MaxAttempts below 1 is
// treated as 1.
func New(store Store, defaults Options) *Queue {
	if defaults.MaxAttempts < 1 {
		defaults.MaxAttempts = 1
	}
	return &Queue{store: store, defaults: defaults, now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue serializes payload and stores a job for task that becomes due
// after the delay. The job is durable once Enqueue returns.
func (q *Queue) Enqueue(ctx context.Context, task string, payload any, opts Options) (*Handle, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, errors.New("queue: task is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("queue: encode payload: %w", err)
	}
	if opts.Delay <= 0 {
		opts.Delay = q.defaults.Delay
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = q.defaults.MaxAttempts
	}

	now := q.now()
	j := &Job{
		ID:          uuid.NewString(),
		Task:        task,
		Payload:     raw,
		MaxAttempts: opts.MaxAttempts,
		RunAt:       now.Add(opts.Delay),
		EnqueuedAt:  now,
	}
	if err := q.store.Push(ctx, j); err != nil {
		return nil, fmt.Errorf("queue: push %s: %w", task, err)
	}
	jobsEnqueued.WithLabelValues(task).Inc()
	return &Handle{ID: j.ID, Task: task, RunAt: j.RunAt}, nil
}

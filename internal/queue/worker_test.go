package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(store Store, reg *Registry, now time.Time) *Worker {
	w := NewWorker(store, reg, WorkerOptions{Backoff: 5 * time.Second, JobTimeout: time.Second})
	w.now = func() time.Time { return now }
	return w
}

func pushJob(t *testing.T, s *memStore, id, task string, maxAttempts int, runAt time.Time) {
	t.Helper()
	require.NoError(t, s.Push(context.Background(), &Job{
		ID: id, Task: task, Payload: []byte(`{}`), MaxAttempts: maxAttempts, RunAt: runAt,
	}))
}

func TestProcessOne_EmptyQueue(t *testing.T) {
	w := newTestWorker(newMemStore(), NewRegistry(), time.Now())
	ran, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
}

func TestProcessOne_SuccessAcks(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	pushJob(t, store, "j1", "ok", 2, now)

	reg := NewRegistry()
	var got []byte
	require.NoError(t, reg.Register("ok", func(_ context.Context, p []byte) error {
		got = p
		return nil
	}))

	ran, err := newTestWorker(store, reg, now).ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Equal(t, []string{"j1"}, store.acked)
	assert.JSONEq(t, `{}`, string(got))
}

func TestProcessOne_FailureRetriesWithBackoff(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	pushJob(t, store, "j1", "flaky", 3, now)

	reg := NewRegistry()
	require.NoError(t, reg.Register("flaky", func(context.Context, []byte) error {
		return errors.New("vendor down")
	}))
	w := newTestWorker(store, reg, now)

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(5*time.Second), store.retried["j1"])
	assert.Equal(t, "vendor down", store.jobs["j1"].LastError)

	// Attempt 2 doubles the delay.
	w.now = func() time.Time { return now.Add(5 * time.Second) }
	_, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, now.Add(15*time.Second), store.retried["j1"])

	// Attempt 3 is the last one and buries the job.
	w.now = func() time.Time { return now.Add(15 * time.Second) }
	_, err = w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "vendor down", store.buried["j1"])
	assert.Empty(t, store.jobs)
}

func TestProcessOne_MissingHandlerBuriesImmediately(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	pushJob(t, store, "j1", "unknown", 5, now)

	ran, err := newTestWorker(store, NewRegistry(), now).ProcessOne(context.Background())
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Contains(t, store.buried["j1"], "no handler registered")
	assert.Empty(t, store.retried)
}

func TestProcessOne_PanicIsRecovered(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	pushJob(t, store, "j1", "boom", 1, now)

	reg := NewRegistry()
	require.NoError(t, reg.Register("boom", func(context.Context, []byte) error {
		panic("kaboom")
	}))

	_, err := newTestWorker(store, reg, now).ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "panic: kaboom", store.buried["j1"])
	assert.True(t, IsPanic(&panicError{Val: "x"}))
	assert.False(t, IsPanic(errors.New("x")))
}

func TestProcessOne_HandlerSeesTimeout(t *testing.T) {
	now := time.Now().UTC()
	store := newMemStore()
	pushJob(t, store, "j1", "slow", 1, now)

	reg := NewRegistry()
	require.NoError(t, reg.Register("slow", func(ctx context.Context, _ []byte) error {
		<-ctx.Done()
		return ctx.Err()
	}))
	w := NewWorker(store, reg, WorkerOptions{JobTimeout: 20 * time.Millisecond})
	w.now = func() time.Time { return now }

	_, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.Contains(t, store.buried["j1"], "deadline exceeded")
}

func TestBackoff_DoublesAndCaps(t *testing.T) {
	w := NewWorker(newMemStore(), NewRegistry(), WorkerOptions{Backoff: time.Second})
	assert.Equal(t, time.Second, w.backoff(1))
	assert.Equal(t, 2*time.Second, w.backoff(2))
	assert.Equal(t, 8*time.Second, w.backoff(4))
	assert.Equal(t, time.Hour, w.backoff(40))
}

func TestRun_DrainsAndStops(t *testing.T) {
	store := newMemStore()
	past := time.Now().UTC().Add(-time.Second)
	for _, id := range []string{"a", "b", "c"} {
		pushJob(t, store, id, "count", 1, past)
	}

	var n atomic.Int32
	reg := NewRegistry()
	require.NoError(t, reg.Register("count", func(context.Context, []byte) error {
		n.Add(1)
		return nil
	}))

	w := NewWorker(store, reg, WorkerOptions{Concurrency: 2, PollInterval: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return n.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

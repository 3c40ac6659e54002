package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxBackoff = time.Hour

// WorkerOptions tunes the consumer side.
type WorkerOptions struct {
	// Concurrency is the number of polling goroutines (min 1).
	Concurrency int
	// PollInterval is the pause between claims when the queue is idle.
	PollInterval time.Duration
	// JobTimeout bounds a single handler run; zero means no limit.
	JobTimeout time.Duration
	// Backoff is the base retry delay, doubled per attempt.
	Backoff time.Duration
}

// Worker claims jobs from a Store and runs their handlers.
type Worker struct {
	store Store
	reg   *Registry
	opts  WorkerOptions
	log   zerolog.Logger
	now   func() time.Time
	wg    sync.WaitGroup
}

// NewWorker builds a worker pool. Call Start or Run to begin polling.
func NewWorker(store Store, reg *Registry, opts WorkerOptions) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 5 * time.Second
	}
	return &Worker{
		store: store,
		reg:   reg,
		opts:  opts,
		log:   log.With().Str("component", "queue.worker").Logger(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the polling goroutines. They stop when ctx is done; use
// Wait to block until in-flight jobs have finished.
func (w *Worker) Start(ctx context.Context) {
	w.log.Info().Int("concurrency", w.opts.Concurrency).Msg("starting job worker pool")
	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.runLoop(ctx, id)
		}(i + 1)
	}
}

// Wait blocks until every goroutine started by Start has returned.
func (w *Worker) Wait() { w.wg.Wait() }

// Run starts the pool and blocks until ctx is done and all jobs drained.
func (w *Worker) Run(ctx context.Context) {
	w.Start(ctx)
	<-ctx.Done()
	w.Wait()
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	lg := w.log.With().Int("worker_id", workerID).Logger()

	for {
		select {
		case <-ctx.Done():
			lg.Debug().Msg("worker loop stopped")
			return
		case <-ticker.C:
			// Drain everything that is due before sleeping again.
			for ctx.Err() == nil {
				ran, err := w.ProcessOne(ctx)
				if err != nil {
					lg.Warn().Err(err).Msg("claim failed")
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// ProcessOne claims and runs at most one due job. It reports whether a job
// was run; the error covers store failures only, handler failures are
// recorded on the job.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	j, err := w.store.Claim(ctx, w.now())
	if err != nil {
		return false, err
	}
	if j == nil {
		return false, nil
	}

	// Bookkeeping must survive shutdown of the polling context.
	bg := context.WithoutCancel(ctx)
	lg := w.log.With().Str("job_id", j.ID).Str("task", j.Task).Int("attempt", j.Attempts).Logger()

	h, ok := w.reg.Get(j.Task)
	if !ok {
		cause := &missingHandlerError{Task: j.Task}
		lg.Warn().Msg("no handler registered for task")
		w.settle(bg, lg, j, cause, true)
		return true, nil
	}

	start := time.Now()
	runErr := w.invoke(ctx, h, j)
	jobDuration.WithLabelValues(j.Task).Observe(time.Since(start).Seconds())

	w.settle(bg, lg, j, runErr, false)
	return true, nil
}

func (w *Worker) invoke(ctx context.Context, h HandlerFunc, j *Job) (err error) {
	if w.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.JobTimeout)
		defer cancel()
	}
	ctx, span := otel.Tracer("queue/Worker").Start(ctx, "job "+j.Task,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", j.ID),
			attribute.String("job.task", j.Task),
			attribute.Int("job.attempt", j.Attempts),
		),
	)
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{Val: r}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return h(ctx, j.Payload)
}

// settle records the outcome of an attempt on the store.
func (w *Worker) settle(ctx context.Context, lg zerolog.Logger, j *Job, runErr error, fatal bool) {
	switch {
	case runErr == nil:
		if err := w.store.Ack(ctx, j); err != nil {
			lg.Error().Err(err).Msg("ack failed")
		}
		jobsProcessed.WithLabelValues(j.Task, "completed").Inc()

	case !fatal && j.Attempts < j.MaxAttempts:
		runAt := w.now().Add(w.backoff(j.Attempts))
		j.LastError = runErr.Error()
		if err := w.store.Retry(ctx, j, runAt, runErr); err != nil {
			lg.Error().Err(err).Msg("retry failed")
		}
		lg.Warn().Err(runErr).Bool("panic", IsPanic(runErr)).Time("run_at", runAt).Msg("job failed, retrying")
		jobsProcessed.WithLabelValues(j.Task, "retried").Inc()

	default:
		j.LastError = runErr.Error()
		if err := w.store.Bury(ctx, j, runErr); err != nil {
			lg.Error().Err(err).Msg("bury failed")
		}
		lg.Error().Err(runErr).Bool("panic", IsPanic(runErr)).Msg("job failed permanently")
		jobsProcessed.WithLabelValues(j.Task, "dead").Inc()
	}
}

// backoff returns Backoff * 2^(attempt-1), capped at one hour.
func (w *Worker) backoff(attempt int) time.Duration {
	d := w.opts.Backoff
	for i := 1; i < attempt && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

type missingHandlerError struct{ Task string }

func (e *missingHandlerError) Error() string { return "no handler registered for task=" + e.Task }

type panicError struct{ Val any }

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.Val) }

// IsPanic reports whether err came from a recovered handler panic.
func IsPanic(err error) bool {
	var pe *panicError
	return errors.As(err, &pe)
}

package queue

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	jobsEnqueued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_enqueued_total",
			Help: "Total number of jobs enqueued.",
		},
		[]string{"task"},
	)

	// jobsProcessed counts finished attempts; outcome is completed, retried or dead.
	jobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_jobs_processed_total",
			Help: "Total number of job attempts by outcome.",
		},
		[]string{"task", "outcome"},
	)

	jobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_job_duration_seconds",
			Help:    "Duration of job handler runs in seconds.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"task"},
	)

	// queueDepth is sampled from the store by ObserveDepth.
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_jobs",
			Help: "Jobs currently held by the store, by state.",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(jobsEnqueued, jobsProcessed, jobDuration, queueDepth)
}

// ObserveDepth samples the store's per-state job counts into the queue_jobs
// gauge right away and then every interval until ctx is done. Stores that do
// not implement Depther are ignored.
func ObserveDepth(ctx context.Context, s Store, every time.Duration) {
	d, ok := s.(Depther)
	if !ok {
		return
	}
	if every <= 0 {
		every = 30 * time.Second
	}
	sampleDepth(ctx, d)

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sampleDepth(ctx, d)
		}
	}
}

func sampleDepth(ctx context.Context, d Depther) {
	counts, err := d.Depth(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Msg("queue depth sample failed")
		}
		return
	}
	queueDepth.Reset()
	for state, n := range counts {
		queueDepth.WithLabelValues(state).Set(float64(n))
	}
}

package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/datatypes"

	"github.com/tbourn/go-content-backend/internal/domain"
)

func newJob(id string, runAt time.Time, maxAttempts int) *domain.QueueJob {
	return &domain.QueueJob{
		ID:          id,
		Task:        "generate_content",
		Payload:     datatypes.JSON(`{"content_id":"c1"}`),
		MaxAttempts: maxAttempts,
		RunAt:       runAt,
	}
}

func TestClaimNextJob_RespectsRunAtAndOrder(t *testing.T) {
	db := newRepoDB(t, &domain.QueueJob{})
	ctx := context.Background()
	now := time.Now().UTC()

	if err := InsertJob(ctx, db, newJob("later", now.Add(time.Hour), 2)); err != nil {
		t.Fatalf("insert later: %v", err)
	}
	if err := InsertJob(ctx, db, newJob("second", now.Add(-time.Minute), 2)); err != nil {
		t.Fatalf("insert second: %v", err)
	}
	if err := InsertJob(ctx, db, newJob("first", now.Add(-2*time.Minute), 2)); err != nil {
		t.Fatalf("insert first: %v", err)
	}

	stale := now.Add(-10 * time.Minute)
	j, err := ClaimNextJob(ctx, db, now, stale)
	if err != nil {
		t.Fatalf("claim 1: %v", err)
	}
	if j.ID != "first" || j.Status != domain.JobRunning || j.Attempts != 1 || j.LockedAt == nil {
		t.Fatalf("unexpected claim: %+v", j)
	}
	j, err = ClaimNextJob(ctx, db, now, stale)
	if err != nil || j.ID != "second" {
		t.Fatalf("claim 2 = %+v, %v", j, err)
	}
	if _, err := ClaimNextJob(ctx, db, now, stale); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delayed job must not be claimable yet, got %v", err)
	}
}

func TestJobLifecycle_RescheduleCompleteBury(t *testing.T) {
	db := newRepoDB(t, &domain.QueueJob{})
	ctx := context.Background()
	now := time.Now().UTC()
	stale := now.Add(-10 * time.Minute)

	_ = InsertJob(ctx, db, newJob("j1", now.Add(-time.Second), 2))
	j, err := ClaimNextJob(ctx, db, now, stale)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := RescheduleJob(ctx, db, j.ID, j.Attempts, now.Add(-time.Millisecond), "boom"); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	got := loadJob(t, db, "j1")
	if got.Status != domain.JobQueued || got.LastError != "boom" || got.LockedAt != nil {
		t.Fatalf("unexpected after reschedule: %+v", got)
	}

	j, err = ClaimNextJob(ctx, db, now, stale)
	if err != nil || j.Attempts != 2 {
		t.Fatalf("second claim = %+v, %v", j, err)
	}
	if err := CompleteJob(ctx, db, j.ID, j.Attempts); err != nil {
		t.Fatalf("complete: %v", err)
	}
	// Completing twice finds no running row.
	if err := CompleteJob(ctx, db, j.ID, j.Attempts); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	_ = InsertJob(ctx, db, newJob("j2", now.Add(-time.Second), 1))
	j, _ = ClaimNextJob(ctx, db, now, stale)
	if err := BuryJob(ctx, db, j.ID, j.Attempts, "fatal"); err != nil {
		t.Fatalf("bury: %v", err)
	}
	got = loadJob(t, db, "j2")
	if got.Status != domain.JobDead {
		t.Fatalf("expected dead, got %s", got.Status)
	}

	counts, err := CountJobsByStatus(ctx, db)
	if err != nil || counts[domain.JobCompleted] != 1 || counts[domain.JobDead] != 1 {
		t.Fatalf("counts = %v, %v", counts, err)
	}
}

func TestClaimNextJob_ReclaimsStaleAndReaps(t *testing.T) {
	db := newRepoDB(t, &domain.QueueJob{})
	ctx := context.Background()
	now := time.Now().UTC()
	old := now.Add(-time.Hour)

	// Running with an expired lock and an attempt left: reclaimed.
	retry := newJob("retry", old, 2)
	retry.Status = domain.JobRunning
	retry.Attempts = 1
	retry.LockedAt = &old
	// Running with an expired lock and no attempts left: reaped.
	spent := newJob("spent", old, 1)
	spent.Status = domain.JobRunning
	spent.Attempts = 1
	spent.LockedAt = &old
	for _, j := range []*domain.QueueJob{retry, spent} {
		if err := InsertJob(ctx, db, j); err != nil {
			t.Fatalf("insert %s: %v", j.ID, err)
		}
	}

	stale := now.Add(-10 * time.Minute)
	j, err := ClaimNextJob(ctx, db, now, stale)
	if err != nil || j.ID != "retry" || j.Attempts != 2 {
		t.Fatalf("reclaim = %+v, %v", j, err)
	}
	if _, err := ClaimNextJob(ctx, db, now, stale); !errors.Is(err, ErrNotFound) {
		t.Fatalf("spent job must not be reclaimed, got %v", err)
	}

	n, err := ReapStaleJobs(ctx, db, stale)
	if err != nil || n != 1 {
		t.Fatalf("ReapStaleJobs = %d, %v; want 1", n, err)
	}
	got := loadJob(t, db, "spent")
	if got.Status != domain.JobDead {
		t.Fatalf("spent job status = %s", got.Status)
	}
}

func TestFinishJob_IgnoresReclaimedAttempt(t *testing.T) {
	db := newRepoDB(t, &domain.QueueJob{})
	ctx := context.Background()
	now := time.Now().UTC()

	if err := InsertJob(ctx, db, newJob("slow", now.Add(-time.Minute), 3)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	first, err := ClaimNextJob(ctx, db, now, now.Add(-10*time.Minute))
	if err != nil || first.Attempts != 1 {
		t.Fatalf("first claim = %+v, %v", first, err)
	}

	// The lease expires and a second worker takes the job over.
	later := now.Add(time.Hour)
	second, err := ClaimNextJob(ctx, db, later, later.Add(-10*time.Minute))
	if err != nil || second.ID != "slow" || second.Attempts != 2 {
		t.Fatalf("reclaim = %+v, %v", second, err)
	}

	if err := CompleteJob(ctx, db, "slow", first.Attempts); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale ack: expected ErrNotFound, got %v", err)
	}
	if err := RescheduleJob(ctx, db, "slow", first.Attempts, now, "late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale retry: expected ErrNotFound, got %v", err)
	}
	if err := BuryJob(ctx, db, "slow", first.Attempts, "late"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("stale bury: expected ErrNotFound, got %v", err)
	}
	got := loadJob(t, db, "slow")
	if got.Status != domain.JobRunning || got.Attempts != 2 || got.LastError != "" {
		t.Fatalf("stale owner changed the row: %+v", got)
	}

	if err := CompleteJob(ctx, db, "slow", second.Attempts); err != nil {
		t.Fatalf("owner ack: %v", err)
	}
	if got := loadJob(t, db, "slow"); got.Status != domain.JobCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
}

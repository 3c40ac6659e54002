package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/repo"
)

// DBStore keeps jobs in the queue_jobs table of the application database.
type DBStore struct {
	db *gorm.DB
	// visibility is how long a claimed job may run before another worker
	// may reclaim it.
	visibility time.Duration
}

// NewDBStore returns a store on db. visibility defaults to ten minutes.
func NewDBStore(db *gorm.DB, visibility time.Duration) *DBStore {
	if visibility <= 0 {
		visibility = 10 * time.Minute
	}
	return &DBStore{db: db, visibility: visibility}
}

// Push implements Store.
func (s *DBStore) Push(ctx context.Context, j *Job) error {
	return repo.InsertJob(ctx, s.db, &domain.QueueJob{
		ID:          j.ID,
		Task:        j.Task,
		Payload:     datatypes.JSON(j.Payload),
		Status:      domain.JobQueued,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		RunAt:       j.RunAt,
		CreatedAt:   j.EnqueuedAt,
	})
}

// Claim implements Store. Jobs whose lease expired on their last attempt
// are buried first so they do not linger as running.
func (s *DBStore) Claim(ctx context.Context, now time.Time) (*Job, error) {
	staleBefore := now.Add(-s.visibility)
	if _, err := repo.ReapStaleJobs(ctx, s.db, staleBefore); err != nil {
		return nil, err
	}
	row, err := repo.ClaimNextJob(ctx, s.db, now, staleBefore)
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, repo.ErrClaimRace) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Job{
		ID:          row.ID,
		Task:        row.Task,
		Payload:     json.RawMessage(row.Payload),
		Attempts:    row.Attempts,
		MaxAttempts: row.MaxAttempts,
		RunAt:       row.RunAt,
		EnqueuedAt:  row.CreatedAt,
		LastError:   row.LastError,
	}, nil
}

// Ack implements Store.
func (s *DBStore) Ack(ctx context.Context, j *Job) error {
	return repo.CompleteJob(ctx, s.db, j.ID, j.Attempts)
}

// Retry implements Store.
func (s *DBStore) Retry(ctx context.Context, j *Job, runAt time.Time, cause error) error {
	return repo.RescheduleJob(ctx, s.db, j.ID, j.Attempts, runAt, errText(cause))
}

// Bury implements Store.
func (s *DBStore) Bury(ctx context.Context, j *Job, cause error) error {
	return repo.BuryJob(ctx, s.db, j.ID, j.Attempts, errText(cause))
}

// Depth implements Depther.
func (s *DBStore) Depth(ctx context.Context) (map[string]int64, error) {
	return repo.CountJobsByStatus(ctx, s.db)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var (
	_ Store   = (*DBStore)(nil)
	_ Depther = (*DBStore)(nil)
)

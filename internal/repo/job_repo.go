// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file persists background jobs for the database-backed
// queue.
//
// Claiming is exclusive: on PostgreSQL the candidate row is selected with
// FOR UPDATE SKIP LOCKED, and on every dialect the claim itself is a
// conditional UPDATE keyed on the (status, attempts) pair that was read, so
// two workers can never both win the same row.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// ErrClaimRace is returned when another worker claimed the selected job
// first. Callers treat it like an empty queue and poll again.
var ErrClaimRace = errors.New("job claimed by another worker")

// InsertJob persists a queued job.
func InsertJob(ctx context.Context, db *gorm.DB, j *domain.QueueJob) error {
	if j.Status == "" {
		j.Status = domain.JobQueued
	}
	return db.WithContext(ctx).Create(j).Error
}

// ClaimNextJob picks the oldest runnable job and marks it running. A job is
// runnable when it is queued and due, or when it is running with a lock
// older than staleBefore (its worker died) and has attempts left.
// It returns ErrNotFound when nothing is runnable.
func ClaimNextJob(ctx context.Context, db *gorm.DB, now, staleBefore time.Time) (*domain.QueueJob, error) {
	var claimed *domain.QueueJob
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where(
			"(status = ? AND run_at <= ?) OR (status = ? AND locked_at < ? AND attempts < max_attempts)",
			domain.JobQueued, now, domain.JobRunning, staleBefore,
		).Order("run_at asc")
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var j domain.QueueJob
		if err := q.First(&j).Error; err != nil {
			return err
		}

		res := tx.Model(&domain.QueueJob{}).
			Where("id = ? AND status = ? AND attempts = ?", j.ID, j.Status, j.Attempts).
			Updates(map[string]any{
				"status":    domain.JobRunning,
				"attempts":  gorm.Expr("attempts + 1"),
				"locked_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrClaimRace
		}

		j.Status = domain.JobRunning
		j.Attempts++
		j.LockedAt = &now
		claimed = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteJob marks a claimed job completed. attempt is the Attempts value
// returned by the claim; once the lease was reclaimed by another worker the
// row no longer matches and ErrNotFound is returned.
func CompleteJob(ctx context.Context, db *gorm.DB, id string, attempt int) error {
	return finishJob(ctx, db, id, attempt, map[string]any{
		"status":    domain.JobCompleted,
		"locked_at": nil,
	})
}

// RescheduleJob puts a failed job back in the queue to run at runAt.
func RescheduleJob(ctx context.Context, db *gorm.DB, id string, attempt int, runAt time.Time, lastErr string) error {
	now := time.Now().UTC()
	return finishJob(ctx, db, id, attempt, map[string]any{
		"status":        domain.JobQueued,
		"run_at":        runAt,
		"locked_at":     nil,
		"last_error":    lastErr,
		"last_error_at": now,
	})
}

// BuryJob moves a job to the dead state; it will not run again.
func BuryJob(ctx context.Context, db *gorm.DB, id string, attempt int, lastErr string) error {
	now := time.Now().UTC()
	return finishJob(ctx, db, id, attempt, map[string]any{
		"status":        domain.JobDead,
		"locked_at":     nil,
		"last_error":    lastErr,
		"last_error_at": now,
	})
}

// finishJob settles the running attempt of a job. Matching on attempts keeps
// a worker whose lease expired from touching a row that was claimed again.
func finishJob(ctx context.Context, db *gorm.DB, id string, attempt int, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("id = ? AND status = ? AND attempts = ?", id, domain.JobRunning, attempt).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ReapStaleJobs buries running jobs whose lock expired after their last
// allowed attempt.
func ReapStaleJobs(ctx context.Context, db *gorm.DB, staleBefore time.Time) (int64, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Where("status = ? AND locked_at < ? AND attempts >= max_attempts", domain.JobRunning, staleBefore).
		Updates(map[string]any{
			"status":        domain.JobDead,
			"locked_at":     nil,
			"last_error":    "lock expired",
			"last_error_at": now,
		})
	return res.RowsAffected, res.Error
}

// CountJobsByStatus reports how many jobs sit in each state.
func CountJobsByStatus(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.QueueJob{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

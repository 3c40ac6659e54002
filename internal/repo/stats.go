// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer. Each function is context-aware and safe to call from services or
// handlers.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// ThreadsStats returns aggregate metadata for a user's visible threads: the
// total number of rows and the maximum UpdatedAt timestamp among those rows.
// When the user has no threads, count is 0 and maxUpdatedAt is nil.
func ThreadsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latestStats(visibleThreads(db.WithContext(ctx).Model(&domain.Thread{}), userID))
}

// ContentsStats returns the number of contents in a thread and the greatest
// UpdatedAt among them.
func ContentsStats(ctx context.Context, db *gorm.DB, threadID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latestStats(db.WithContext(ctx).Model(&domain.Content{}).Where("thread_id = ?", threadID))
}

// UserContentsStats returns the number of contents in userID's visible
// threads and the greatest UpdatedAt among them.
func UserContentsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	threads := visibleThreads(db.WithContext(ctx).Model(&domain.Thread{}).Select("id"), userID)
	return latestStats(db.WithContext(ctx).Model(&domain.Content{}).Where("thread_id IN (?)", threads))
}

func latestStats(q *gorm.DB) (count int64, maxUpdatedAt *time.Time, err error) {
	if err = q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}

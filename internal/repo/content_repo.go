// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Content
// model.
//
// Status writes are conditional on the current status so that a content
// never leaves a terminal state: when the precondition does not hold the
// write is skipped and ErrStaleStatus is returned.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// ErrStaleStatus indicates a conditional status write matched no row
// because the content was missing or already past the expected state.
var ErrStaleStatus = errors.New("content status changed concurrently")

// activeStatuses are the states a generation may still move out of.
var activeStatuses = []domain.ContentStatus{domain.StatusPending, domain.StatusProcessing}

// CreateContent inserts a pending Content under threadID.
func CreateContent(ctx context.Context, db *gorm.DB, threadID, prompt string, sentiment domain.Sentiment) (*domain.Content, error) {
	if sentiment == "" {
		sentiment = domain.SentimentNeutral
	}
	now := time.Now().UTC()
	c := &domain.Content{
		ID:              uuid.NewString(),
		ThreadID:        threadID,
		Prompt:          prompt,
		Status:          domain.StatusPending,
		StatusUpdatedAt: now,
		Sentiment:       sentiment,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := db.WithContext(ctx).Omit("Thread").Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// GetContent fetches a content by ID regardless of owner. Ownership is
// enforced by callers through the parent thread.
func GetContent(ctx context.Context, db *gorm.DB, id string) (*domain.Content, error) {
	var c domain.Content
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// ListThreadContents returns all contents of a thread, oldest first.
func ListThreadContents(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Content, error) {
	var out []domain.Content
	err := db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// ListHistory returns the contents of threadID other than excludeID,
// newest first.
func ListHistory(ctx context.Context, db *gorm.DB, threadID, excludeID string) ([]domain.Content, error) {
	var out []domain.Content
	err := db.WithContext(ctx).
		Where("thread_id = ? AND id <> ?", threadID, excludeID).
		Order("created_at desc, id desc").
		Find(&out).Error
	return out, err
}

// MarkProcessing moves a pending or processing content to processing.
func MarkProcessing(ctx context.Context, db *gorm.DB, id string) error {
	return updateActiveContent(ctx, db, id, map[string]any{
		"status":            domain.StatusProcessing,
		"status_updated_at": time.Now().UTC(),
	})
}

// FinishContent writes the generated text and terminal status in one
// update. It only applies while the content is still pending or processing.
func FinishContent(ctx context.Context, db *gorm.DB, id, text string, status domain.ContentStatus) error {
	if !status.Terminal() {
		return errors.New("finish requires a terminal status")
	}
	return updateActiveContent(ctx, db, id, map[string]any{
		"generated_content": text,
		"status":            status,
		"status_updated_at": time.Now().UTC(),
	})
}

func updateActiveContent(ctx context.Context, db *gorm.DB, id string, fields map[string]any) error {
	res := db.WithContext(ctx).
		Model(&domain.Content{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrStaleStatus
	}
	return nil
}

// UpdateContentSentiment changes only the sentiment column.
func UpdateContentSentiment(ctx context.Context, db *gorm.DB, id string, s domain.Sentiment) error {
	res := db.WithContext(ctx).
		Model(&domain.Content{}).
		Where("id = ?", id).
		Update("sentiment", s)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// LatestContentByThreadIDs returns the newest content of each thread in
// threadIDs. Threads without contents are absent from the map.
func LatestContentByThreadIDs(ctx context.Context, db *gorm.DB, threadIDs []string) (map[string]*domain.Content, error) {
	out := make(map[string]*domain.Content, len(threadIDs))
	if len(threadIDs) == 0 {
		return out, nil
	}
	var rows []domain.Content
	err := db.WithContext(ctx).
		Where("thread_id IN ?", threadIDs).
		Order("created_at desc, id desc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	for i := range rows {
		if _, seen := out[rows[i].ThreadID]; !seen {
			out[rows[i].ThreadID] = &rows[i]
		}
	}
	return out, nil
}

// CountContentsByStatus counts the contents of userID's visible threads per
// status. Every status is present in the result, zero when unused.
func CountContentsByStatus(ctx context.Context, db *gorm.DB, userID string) (map[domain.ContentStatus]int64, error) {
	out := make(map[domain.ContentStatus]int64, len(domain.ContentStatuses))
	for _, s := range domain.ContentStatuses {
		out[s] = 0
	}
	var rows []struct {
		Status domain.ContentStatus
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.Content{}).
		Select("contents.status AS status, COUNT(*) AS n").
		Joins("JOIN threads ON threads.id = contents.thread_id").
		Where("threads.user_id = ? AND threads.status <> ?", userID, domain.ThreadDeleted).
		Group("contents.status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}

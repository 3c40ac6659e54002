// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Thread model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations.
// They follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a thread is not found, not owned by the caller, or soft-deleted,
//     functions return gorm.ErrRecordNotFound (also exported here as
//     ErrNotFound for convenience).
//   - On DB errors the raw gorm error is propagated.
//
// Deletion is soft: the row keeps its contents and moves to status
// "deleted", which every read path filters out.
package repo

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ThreadFilter narrows thread listings. Zero values mean "no filter".
type ThreadFilter struct {
	Status      domain.ThreadStatus
	Type        domain.ContentType
	Search      string
	OldestFirst bool
}

func (f ThreadFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		q = q.Where("LOWER(title) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	return q
}

// visibleThreads scopes q to userID's threads that are not soft-deleted.
func visibleThreads(q *gorm.DB, userID string) *gorm.DB {
	return q.Where("user_id = ? AND status <> ?", userID, domain.ThreadDeleted)
}

// CreateThread inserts a new active Thread owned by userID.
func CreateThread(ctx context.Context, db *gorm.DB, userID, title string, typ domain.ContentType) (*domain.Thread, error) {
	now := time.Now().UTC()
	th := &domain.Thread{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		Type:      typ,
		Status:    domain.ThreadActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.WithContext(ctx).Create(th).Error; err != nil {
		return nil, err
	}
	return th, nil
}

// GetThread fetches a visible thread by ID and owner.
func GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error) {
	var th domain.Thread
	err := visibleThreads(db.WithContext(ctx), userID).
		Where("id = ?", id).
		First(&th).Error
	if err != nil {
		return nil, err
	}
	return &th, nil
}

// CountThreads returns the number of visible threads matching f.
func CountThreads(ctx context.Context, db *gorm.DB, userID string, f ThreadFilter) (int64, error) {
	var total int64
	q := visibleThreads(db.WithContext(ctx).Model(&domain.Thread{}), userID)
	err := f.apply(q).Count(&total).Error
	return total, err
}

// ListThreadsPage returns a page of visible threads matching f, most
// recently updated first unless f.OldestFirst is set.
//
// The caller is responsible for computing offset and limit (e.g., (page-1)*pageSize).
func ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, f ThreadFilter, offset, limit int) ([]domain.Thread, error) {
	order := "updated_at desc, id desc"
	if f.OldestFirst {
		order = "updated_at asc, id asc"
	}
	var out []domain.Thread
	q := visibleThreads(db.WithContext(ctx), userID)
	err := f.apply(q).
		Order(order).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpdateThreadTitle sets the title of a visible thread owned by userID.
// It returns ErrNotFound when no row matched.
func UpdateThreadTitle(ctx context.Context, db *gorm.DB, id, userID, title string) error {
	return UpdateThread(ctx, db, id, userID, map[string]any{"title": title})
}

// UpdateThread applies fields to a visible thread owned by userID.
// It returns ErrNotFound when no row matched.
func UpdateThread(ctx context.Context, db *gorm.DB, id, userID string, fields map[string]any) error {
	res := visibleThreads(db.WithContext(ctx).Model(&domain.Thread{}), userID).
		Where("id = ?", id).
		Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SoftDeleteThread marks a thread deleted. Its contents are kept.
func SoftDeleteThread(ctx context.Context, db *gorm.DB, id, userID string) error {
	return UpdateThread(ctx, db, id, userID, map[string]any{"status": domain.ThreadDeleted})
}

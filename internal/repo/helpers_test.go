package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// newRepoDB opens a file-backed SQLite database in a temp dir and migrates
// the given models. A single connection keeps PRAGMAs effective.
func newRepoDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "repo_test.db")
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	db.Exec("PRAGMA foreign_keys=ON;")

	// Ensure the file handle is released before TempDir cleanup (Windows needs this).
	t.Cleanup(func() { _ = sqlDB.Close() })

	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func seedThread(t *testing.T, db *gorm.DB, userID string) *domain.Thread {
	t.Helper()
	th, err := CreateThread(context.Background(), db, userID, "seed thread", domain.ContentTypeArticle)
	if err != nil {
		t.Fatalf("CreateThread: %v", err)
	}
	return th
}

// seedContentAt inserts a content with an explicit creation time.
func seedContentAt(t *testing.T, db *gorm.DB, threadID, prompt string, status domain.ContentStatus, at time.Time) *domain.Content {
	t.Helper()
	c := &domain.Content{
		ID:              prompt + "-" + threadID[:8],
		ThreadID:        threadID,
		Prompt:          prompt,
		Status:          status,
		StatusUpdatedAt: at,
		Sentiment:       domain.SentimentNeutral,
		CreatedAt:       at,
		UpdatedAt:       at,
	}
	if err := db.Omit("Thread").Create(c).Error; err != nil {
		t.Fatalf("seed content: %v", err)
	}
	return c
}

// loadJob reads a queue job row directly.
func loadJob(t *testing.T, db *gorm.DB, id string) domain.QueueJob {
	t.Helper()
	var j domain.QueueJob
	if err := db.First(&j, "id = ?", id).Error; err != nil {
		t.Fatalf("load job %s: %v", id, err)
	}
	return j
}

package queue

import (
	"context"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// memStore is an in-memory Store used to drive the worker deterministically.
type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	acked   []string
	retried map[string]time.Time
	buried  map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		jobs:    map[string]*Job{},
		retried: map[string]time.Time{},
		buried:  map[string]string{},
	}
}

func (m *memStore) Push(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	m.jobs[j.ID] = &cp
	return nil
}

func (m *memStore) Claim(_ context.Context, now time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []*Job
	for _, j := range m.jobs {
		if !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return nil, nil
	}
	sort.Slice(due, func(a, b int) bool { return due[a].RunAt.Before(due[b].RunAt) })
	j := due[0]
	delete(m.jobs, j.ID)
	j.Attempts++
	cp := *j
	return &cp, nil
}

func (m *memStore) Ack(_ context.Context, j *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked = append(m.acked, j.ID)
	return nil
}

func (m *memStore) Retry(_ context.Context, j *Job, runAt time.Time, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *j
	cp.RunAt = runAt
	cp.LastError = cause.Error()
	m.jobs[j.ID] = &cp
	m.retried[j.ID] = runAt
	return nil
}

func (m *memStore) Bury(_ context.Context, j *Job, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buried[j.ID] = cause.Error()
	return nil
}

func newQueueDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "queue_test.db")
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
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&domain.QueueJob{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

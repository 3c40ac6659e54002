package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-content-backend/internal/ai"
	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/queue"
	"github.com/tbourn/go-content-backend/internal/repo"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "svc_test.db")
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
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := db.AutoMigrate(domain.Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type enqueued struct {
	Task    string
	Payload any
	Opts    queue.Options
}

type fakeQueue struct {
	mu   sync.Mutex
	jobs []enqueued
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, task string, payload any, opts queue.Options) (*queue.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return nil, q.err
	}
	q.jobs = append(q.jobs, enqueued{Task: task, Payload: payload, Opts: opts})
	return &queue.Handle{ID: "job-1", Task: task}, nil
}

type fakeGen struct {
	mu        sync.Mutex
	result    ai.Result
	providers map[domain.Provider]bool
	calls     int
	prompts   []ai.Prompt
	opts      []ai.CallOptions
	onCall    func()
}

func (g *fakeGen) Generate(_ context.Context, p ai.Prompt, opts ai.CallOptions) ai.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	g.prompts = append(g.prompts, p)
	g.opts = append(g.opts, opts)
	if g.onCall != nil {
		g.onCall()
	}
	return g.result
}

func (g *fakeGen) Has(name domain.Provider) bool {
	if name == "" {
		return true
	}
	return g.providers[name]
}

type published struct {
	UserID string
	Event  any
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []published
}

func (n *fakeNotifier) Publish(_ context.Context, userID string, event any) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, published{UserID: userID, Event: event})
	return true
}

type fakeCompleter struct {
	answer string
	err    error
	prompt ai.Prompt
}

func (f *fakeCompleter) Complete(_ context.Context, p ai.Prompt, _ ai.CallOptions) (string, error) {
	f.prompt = p
	return f.answer, f.err
}

var errBoom = errors.New("boom")

// repoShim adapts the repo package functions to ThreadRepo.
type repoShim struct{}

func (repoShim) GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error) {
	return repo.GetThread(ctx, db, id, userID)
}
func (repoShim) CountThreads(ctx context.Context, db *gorm.DB, userID string, f repo.ThreadFilter) (int64, error) {
	return repo.CountThreads(ctx, db, userID, f)
}
func (repoShim) ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, f repo.ThreadFilter, offset, limit int) ([]domain.Thread, error) {
	return repo.ListThreadsPage(ctx, db, userID, f, offset, limit)
}
func (repoShim) UpdateThread(ctx context.Context, db *gorm.DB, id, userID string, fields map[string]any) error {
	return repo.UpdateThread(ctx, db, id, userID, fields)
}
func (repoShim) SoftDeleteThread(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.SoftDeleteThread(ctx, db, id, userID)
}
func (repoShim) LatestContentByThreadIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]*domain.Content, error) {
	return repo.LatestContentByThreadIDs(ctx, db, ids)
}
func (repoShim) ListThreadContents(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Content, error) {
	return repo.ListThreadContents(ctx, db, threadID)
}
func (repoShim) CountContentsByStatus(ctx context.Context, db *gorm.DB, userID string) (map[domain.ContentStatus]int64, error) {
	return repo.CountContentsByStatus(ctx, db, userID)
}

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/http/middleware"
	"github.com/tbourn/go-content-backend/internal/queue"
	"github.com/tbourn/go-content-backend/internal/repo"
	"github.com/tbourn/go-content-backend/internal/services"
)

// ---------- test DB + repo shim ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "handlers_test.db")
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
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// testThreadRepo implements services.ThreadRepo with the repo package.
type testThreadRepo struct{}

func (testThreadRepo) GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error) {
	return repo.GetThread(ctx, db, id, userID)
}
func (testThreadRepo) CountThreads(ctx context.Context, db *gorm.DB, userID string, f repo.ThreadFilter) (int64, error) {
	return repo.CountThreads(ctx, db, userID, f)
}
func (testThreadRepo) ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, f repo.ThreadFilter, offset, limit int) ([]domain.Thread, error) {
	return repo.ListThreadsPage(ctx, db, userID, f, offset, limit)
}
func (testThreadRepo) UpdateThread(ctx context.Context, db *gorm.DB, id, userID string, fields map[string]any) error {
	return repo.UpdateThread(ctx, db, id, userID, fields)
}
func (testThreadRepo) SoftDeleteThread(ctx context.Context, db *gorm.DB, id, userID string) error {
	return repo.SoftDeleteThread(ctx, db, id, userID)
}
func (testThreadRepo) LatestContentByThreadIDs(ctx context.Context, db *gorm.DB, ids []string) (map[string]*domain.Content, error) {
	return repo.LatestContentByThreadIDs(ctx, db, ids)
}
func (testThreadRepo) ListThreadContents(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Content, error) {
	return repo.ListThreadContents(ctx, db, threadID)
}
func (testThreadRepo) CountContentsByStatus(ctx context.Context, db *gorm.DB, userID string) (map[domain.ContentStatus]int64, error) {
	return repo.CountContentsByStatus(ctx, db, userID)
}

// ---------- fakes ----------

type fakeQueue struct {
	mu    sync.Mutex
	tasks []string
}

func (q *fakeQueue) Enqueue(_ context.Context, task string, _ any, _ queue.Options) (*queue.Handle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, task)
	return &queue.Handle{ID: "job", Task: task}, nil
}

func (q *fakeQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// ---------- fixture ----------

type fixture struct {
	db      *gorm.DB
	queue   *fakeQueue
	content *services.ContentService
	threads *services.ThreadService
	h       *Handlers
	r       *gin.Engine
}

// newFixture wires real content and thread services on SQLite. Requests are
// authenticated as the user named in the X-Test-User header.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := &fixture{db: newHandlerDB(t), queue: &fakeQueue{}}
	f.content = services.NewContentService(f.db, f.queue, nil, nil)
	f.threads = services.NewThreadService(f.db, testThreadRepo{})
	f.h = New(Deps{
		Content: f.content,
		Threads: f.threads,
		DB:      f.db,
	})

	f.r = gin.New()
	f.r.Use(func(c *gin.Context) {
		if u := c.GetHeader("X-Test-User"); u != "" {
			c.Set(middleware.CtxUserID, u)
		}
		c.Next()
	})
	f.r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{},
		func(ctx context.Context, userID, scope, key string, now time.Time) (string, error) {
			rec, err := repo.GetIdempotency(ctx, f.db, userID, scope, key, now)
			if err != nil {
				return "", err
			}
			return rec.ResourceID, nil
		}))

	f.r.POST("/content/generate", f.h.GenerateContent)
	f.r.GET("/content/:id", f.h.GetContent)
	f.r.PATCH("/content/:id", f.h.UpdateContent)
	f.r.GET("/threads", f.h.ListThreads)
	f.r.GET("/threads/summary", f.h.ThreadSummary)
	f.r.GET("/threads/:id", f.h.GetThread)
	f.r.PUT("/threads/:id", f.h.UpdateThread)
	f.r.DELETE("/threads/:id", f.h.DeleteThread)
	return f
}

// do performs a request as user (empty means anonymous).
func do(t *testing.T, r http.Handler, method, path, user string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return v
}

func errCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[ErrorResponse](t, w).Code
}

// submit creates a pending content through the API and returns the thread.
func submit(t *testing.T, f *fixture, user, prompt string) domain.Thread {
	t.Helper()
	w := do(t, f.r, http.MethodPost, "/content/generate", user, GenerateContentRequest{
		Prompt:      prompt,
		ContentType: "blog_post",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("submit: status=%d body=%s", w.Code, w.Body.String())
	}
	return decode[domain.Thread](t, w)
}

// Package services – ThreadService
//
// This file implements ThreadService, which manages the lifecycle of threads
// after they were opened by a generation request. It lists threads with
// their latest content, loads a thread with its contents, summarizes the
// user's generation statuses, and applies title/status updates and soft
// deletes. Ownership is enforced on every call; deleted threads are treated
// as missing.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/repo"
	"github.com/tbourn/go-content-backend/internal/utils"
)

// ThreadRepo defines the repository contract required by ThreadService.
type ThreadRepo interface {
	// GetThread fetches a visible thread by ID and owner.
	GetThread(ctx context.Context, db *gorm.DB, id, userID string) (*domain.Thread, error)

	// CountThreads returns the number of visible threads matching f.
	CountThreads(ctx context.Context, db *gorm.DB, userID string, f repo.ThreadFilter) (int64, error)

	// ListThreadsPage returns a page of visible threads matching f.
	ListThreadsPage(ctx context.Context, db *gorm.DB, userID string, f repo.ThreadFilter, offset, limit int) ([]domain.Thread, error)

	// UpdateThread applies fields to a visible thread.
	UpdateThread(ctx context.Context, db *gorm.DB, id, userID string, fields map[string]any) error

	// SoftDeleteThread marks a thread deleted.
	SoftDeleteThread(ctx context.Context, db *gorm.DB, id, userID string) error

	// LatestContentByThreadIDs returns the newest content per thread.
	LatestContentByThreadIDs(ctx context.Context, db *gorm.DB, threadIDs []string) (map[string]*domain.Content, error)

	// ListThreadContents returns a thread's contents, oldest first.
	ListThreadContents(ctx context.Context, db *gorm.DB, threadID string) ([]domain.Content, error)

	// CountContentsByStatus counts the user's contents per status.
	CountContentsByStatus(ctx context.Context, db *gorm.DB, userID string) (map[domain.ContentStatus]int64, error)
}

// ThreadUpdate carries the mutable thread fields. Nil means unchanged.
type ThreadUpdate struct {
	Title  *string
	Status *string
}

// ThreadSummary aggregates a user's threads and generation statuses.
type ThreadSummary struct {
	TotalThreads int64                          `json:"total_threads"`
	StatusCounts map[domain.ContentStatus]int64 `json:"status_counts"`
}

// ThreadService provides thread-level reads and metadata updates.
type ThreadService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the thread repository used by this service.
	Repo ThreadRepo

	// TitleMaxLen caps stored titles by rune length.
	TitleMaxLen int
}

// NewThreadService constructs a ThreadService with the default title cap.
func NewThreadService(db *gorm.DB, r ThreadRepo) *ThreadService {
	return &ThreadService{DB: db, Repo: r, TitleMaxLen: 200}
}

// ListPage returns a page of the user's threads matching f, each with its
// latest content, and the total number of matches.
func (s *ThreadService) ListPage(ctx context.Context, userID string, f repo.ThreadFilter, page, pageSize int) ([]domain.Thread, int64, error) {
	tr := otel.Tracer("services/ThreadService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := utils.Offset(page, pageSize)

	total, err := s.Repo.CountThreads(ctx, s.DB, userID, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Thread{}, 0, nil
	}

	items, err := s.Repo.ListThreadsPage(ctx, s.DB, userID, f, offset, pageSize)
	if err != nil {
		return nil, 0, err
	}
	ids := make([]string, 0, len(items))
	for _, th := range items {
		ids = append(ids, th.ID)
	}
	latest, err := s.Repo.LatestContentByThreadIDs(ctx, s.DB, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].LastContent = latest[items[i].ID]
	}
	return items, total, nil
}

// Get returns a thread with all its contents (oldest first) and its latest
// content.
func (s *ThreadService) Get(ctx context.Context, userID, id string) (*domain.Thread, error) {
	tr := otel.Tracer("services/ThreadService")
	ctx, span := tr.Start(ctx, "Get",
		trace.WithAttributes(
			attribute.String("thread.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	th, err := s.Repo.GetThread(ctx, s.DB, id, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	contents, err := s.Repo.ListThreadContents(ctx, s.DB, th.ID)
	if err != nil {
		return nil, err
	}
	th.Contents = contents
	if n := len(contents); n > 0 {
		th.LastContent = &contents[n-1]
	}
	return th, nil
}

// Summary counts the user's visible threads and their contents per status.
func (s *ThreadService) Summary(ctx context.Context, userID string) (*ThreadSummary, error) {
	tr := otel.Tracer("services/ThreadService")
	ctx, span := tr.Start(ctx, "Summary", trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	var out ThreadSummary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := s.Repo.CountThreads(gctx, s.DB, userID, repo.ThreadFilter{})
		out.TotalThreads = n
		return err
	})
	g.Go(func() error {
		m, err := s.Repo.CountContentsByStatus(gctx, s.DB, userID)
		out.StatusCounts = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &out, nil
}

// Update applies u to a thread owned by userID and returns the result.
// Titles are normalized and clipped; a blank title becomes "Untitled".
// Only active and archived are accepted as status; use Delete to delete.
func (s *ThreadService) Update(ctx context.Context, userID, id string, u ThreadUpdate) (*domain.Thread, error) {
	fields := map[string]any{}
	if u.Title != nil {
		title := normalizeTitle(*u.Title)
		if title == "" {
			title = "Untitled"
		}
		fields["title"] = s.clip(title)
	}
	if u.Status != nil {
		st := domain.ThreadStatus(strings.ToLower(strings.TrimSpace(*u.Status)))
		if st != domain.ThreadActive && st != domain.ThreadArchived {
			return nil, ErrInvalidThreadStatus
		}
		fields["status"] = st
	}
	if len(fields) == 0 {
		return nil, ErrNothingToUpdate
	}

	if err := s.Repo.UpdateThread(ctx, s.DB, id, userID, fields); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrThreadNotFound
		}
		return nil, err
	}
	return s.Get(ctx, userID, id)
}

// Delete soft-deletes a thread owned by userID.
func (s *ThreadService) Delete(ctx context.Context, userID, id string) error {
	if err := s.Repo.SoftDeleteThread(ctx, s.DB, id, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrThreadNotFound
		}
		return err
	}
	return nil
}

// clip truncates a title to the configured maximum rune length.
func (s *ThreadService) clip(title string) string {
	if s.TitleMaxLen > 0 && utf8.RuneCountInString(title) > s.TitleMaxLen {
		return strings.TrimSpace(string([]rune(title)[:s.TitleMaxLen]))
	}
	return title
}

// normalizeTitle applies NFC, trims whitespace and collapses runs of spaces.
func normalizeTitle(s string) string {
	return whitespaceRE.ReplaceAllString(strings.TrimSpace(norm.NFC.String(s)), " ")
}

// whitespaceRE collapses consecutive whitespace to a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

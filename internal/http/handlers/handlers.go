// Package handlers exposes the REST endpoints of the content API.
//
// Handlers are transport-thin: they bind and validate input, call the
// application services through the interfaces below, and translate results
// and sentinel errors into HTTP responses.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/http/middleware"
	"github.com/tbourn/go-content-backend/internal/notify"
	"github.com/tbourn/go-content-backend/internal/repo"
	"github.com/tbourn/go-content-backend/internal/services"
	"github.com/tbourn/go-content-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ContentService submits generation requests and serves their results.
type ContentService interface {
	Submit(ctx context.Context, userID string, req services.GenerateRequest) (*domain.Thread, error)
	GetContent(ctx context.Context, userID, id string) (*domain.Content, error)
	UpdateSentiment(ctx context.Context, userID, id, sentiment string) (*domain.Content, error)
}

// ThreadService lists, reads and updates threads.
type ThreadService interface {
	ListPage(ctx context.Context, userID string, f repo.ThreadFilter, page, pageSize int) ([]domain.Thread, int64, error)
	Get(ctx context.Context, userID, id string) (*domain.Thread, error)
	Summary(ctx context.Context, userID string) (*services.ThreadSummary, error)
	Update(ctx context.Context, userID, id string, u services.ThreadUpdate) (*domain.Thread, error)
	Delete(ctx context.Context, userID, id string) error
}

// SentimentService classifies and stores the sentiment of a content.
type SentimentService interface {
	Analyze(ctx context.Context, userID, contentID, text string) (domain.Sentiment, error)
}

// AuthService registers and authenticates users.
type AuthService interface {
	Register(ctx context.Context, name, email, password string) (*services.AuthResult, error)
	Login(ctx context.Context, email, password string) (*services.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResult, error)
}

// StreamHub registers live event streams.
type StreamHub interface {
	Subscribe(userID string) (*notify.Subscriber, error)
	Unsubscribe(s *notify.Subscriber)
	Subscribers(userID string) int
	CloseUser(userID string)
}

//
// Handler wiring
//

// Deps carries everything the handlers need. DB is optional: without it
// list endpoints skip ETags and Idempotency-Key results are not recorded.
type Deps struct {
	Content   ContentService
	Threads   ThreadService
	Sentiment SentimentService
	Auth      AuthService
	Hub       StreamHub

	DB             *gorm.DB
	IdempotencyTTL time.Duration
	Heartbeat      time.Duration
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	content   ContentService
	threads   ThreadService
	sentiment SentimentService
	auth      AuthService
	hub       StreamHub

	db        *gorm.DB
	idemTTL   time.Duration
	heartbeat time.Duration
}

// New constructs Handlers from d, applying defaults to zero durations.
func New(d Deps) *Handlers {
	h := &Handlers{
		content:   d.Content,
		threads:   d.Threads,
		sentiment: d.Sentiment,
		auth:      d.Auth,
		hub:       d.Hub,
		db:        d.DB,
		idemTTL:   d.IdempotencyTTL,
		heartbeat: d.Heartbeat,
	}
	if h.idemTTL <= 0 {
		h.idemTTL = 24 * time.Hour
	}
	if h.heartbeat <= 0 {
		h.heartbeat = 15 * time.Second
	}
	return h
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// userID returns the authenticated caller. When the route is not behind
// RequireAuth it writes 401 and returns false.
func userID(c *gin.Context) (string, bool) {
	uid := middleware.UserID(c)
	if uid == "" {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "authentication required")
		return "", false
	}
	return uid, true
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.PageParams(c.Query("page"), c.Query("page_size"), 20, 100)
}

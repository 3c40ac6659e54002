// Content HTTP handlers.
//
//   - POST  /content/generate  (submit a generation request, 202)
//   - GET   /content/{id}      (read a content and its status)
//   - PATCH /content/{id}      (change the sentiment)
//
// Idempotency:
// When the client sends an Idempotency-Key and a previous request with the
// same key was accepted, the handler answers with that request's thread and
// content and sets `Idempotency-Replayed: true` instead of submitting again.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/http/middleware"
	"github.com/tbourn/go-content-backend/internal/repo"
	"github.com/tbourn/go-content-backend/internal/services"
)

// GenerateContentRequest is the JSON payload for a generation request.
type GenerateContentRequest struct {
	// Prompt is the user's instruction. It must be non-empty.
	Prompt string `json:"prompt" binding:"required" example:"Write about sustainable travel in Portugal"`
	// ContentType is one of blog_post, product_description,
	// social_media_caption, article, other.
	ContentType string `json:"content_type" binding:"required" example:"blog_post"`
	// ThreadID continues an existing thread; empty or "new-thread" opens one.
	ThreadID string `json:"thread_id,omitempty" example:"new-thread"`
	// Provider optionally pins the AI provider (gemini, openrouter).
	Provider string `json:"provider,omitempty" example:"gemini"`
	// Sentiment optionally sets the tone (positive, negative, neutral).
	Sentiment string `json:"sentiment,omitempty" example:"positive"`
}

// UpdateContentRequest is the JSON payload for PATCH /content/{id}. Only the
// sentiment can be changed.
type UpdateContentRequest struct {
	Sentiment string `json:"sentiment" binding:"required" example:"neutral"`
}

// GenerateContent godoc
// @ID          generateContent
// @Summary     Request content generation
// @Description Stores a pending content in a new or existing thread and queues its generation.
// @Description The result arrives on the event stream and via GET /content/{id}.
// @Tags        Content
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"
// @Param       body             body    handlers.GenerateContentRequest  true  "Generation request"
// @Success     202  {object}  domain.Thread          "Thread with the pending content as last_content"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "THREAD_NOT_FOUND"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /content/generate [post]
func (h *Handlers) GenerateContent(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	ctx := c.Request.Context()

	var req GenerateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prompt and content_type are required")
		return
	}

	if rid := middleware.ReplayResource(c); rid != "" {
		if th, err := h.replayedThread(c, uid, rid); err == nil {
			c.Header("Idempotency-Replayed", "true")
			ok(c, http.StatusAccepted, th)
			return
		}
	}

	th, err := h.content.Submit(ctx, uid, services.GenerateRequest{
		Prompt:      req.Prompt,
		ContentType: req.ContentType,
		ThreadID:    req.ThreadID,
		Provider:    req.Provider,
		Sentiment:   req.Sentiment,
	})
	if err != nil {
		failService(c, err, ErrCodeGenerateFailed)
		return
	}

	if key, has := middleware.GetIdempotencyKey(c); has && h.db != nil && th.LastContent != nil {
		_, err := repo.CreateIdempotency(ctx, h.db, uid, middleware.IdempotencyScope(c), key, th.LastContent.ID, http.StatusAccepted, h.idemTTL)
		if err != nil && !errors.Is(err, repo.ErrDuplicate) {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("record idempotency key")
		}
	}

	ok(c, http.StatusAccepted, th)
}

// replayedThread rebuilds the response of an accepted request from the
// content it created.
func (h *Handlers) replayedThread(c *gin.Context, uid, contentID string) (*domain.Thread, error) {
	ctx := c.Request.Context()
	content, err := h.content.GetContent(ctx, uid, contentID)
	if err != nil {
		return nil, err
	}
	th, err := h.threads.Get(ctx, uid, content.ThreadID)
	if err != nil {
		return nil, err
	}
	th.Contents = nil
	th.LastContent = content
	return th, nil
}

// GetContent godoc
// @ID          getContent
// @Summary     Get a content
// @Tags        Content
// @Produce     json
// @Security    BearerAuth
// @Param       id   path      string  true  "Content ID (UUID)"  format(uuid)
// @Success     200  {object}  domain.Content
// @Failure     404  {object}  handlers.ErrorResponse "CONTENT_NOT_FOUND"
// @Router      /content/{id} [get]
func (h *Handlers) GetContent(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	content, err := h.content.GetContent(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, content)
}

// UpdateContent godoc
// @ID          updateContent
// @Summary     Change a content's sentiment
// @Tags        Content
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string  true  "Content ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateContentRequest  true  "New sentiment"
// @Success     200  {object}  domain.Content
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "CONTENT_NOT_FOUND"
// @Router      /content/{id} [patch]
func (h *Handlers) UpdateContent(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	var req UpdateContentRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Sentiment) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "sentiment required")
		return
	}
	content, err := h.content.UpdateSentiment(c.Request.Context(), uid, c.Param("id"), req.Sentiment)
	if err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, content)
}

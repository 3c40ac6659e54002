// Thread HTTP handlers.
//
//   - GET    /threads          (list, paginated and filtered, ETag support)
//   - GET    /threads/summary  (thread count and content status counts)
//   - GET    /threads/{id}     (thread with its contents)
//   - PUT    /threads/{id}     (title and status)
//   - DELETE /threads/{id}     (soft delete)
package handlers

import (
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/repo"
	"github.com/tbourn/go-content-backend/internal/services"
)

// ListThreadsResponse wraps a page of threads and pagination information.
type ListThreadsResponse struct {
	Threads    []domain.Thread `json:"threads"`
	Pagination Pagination      `json:"pagination"`
}

// UpdateThreadRequest is the JSON payload for PUT /threads/{id}. Absent
// fields are left unchanged.
type UpdateThreadRequest struct {
	Title  *string `json:"title,omitempty"  example:"Travel blog ideas"`
	Status *string `json:"status,omitempty" example:"archived"`
}

var errInvalidSort = errors.New("sort must be newest or oldest")

// threadFilter reads the list filters from the query string. Unknown values
// are rejected so that typos do not silently widen the result.
func threadFilter(c *gin.Context) (repo.ThreadFilter, error) {
	var f repo.ThreadFilter
	if s := strings.ToLower(strings.TrimSpace(c.Query("status"))); s != "" {
		st := domain.ThreadStatus(s)
		if st != domain.ThreadActive && st != domain.ThreadArchived {
			return f, services.ErrInvalidThreadStatus
		}
		f.Status = st
	}
	if t := strings.TrimSpace(c.Query("type")); t != "" {
		ct, valid := domain.ParseContentType(t)
		if !valid {
			return f, services.ErrInvalidContentType
		}
		f.Type = ct
	}
	f.Search = strings.TrimSpace(c.Query("search"))
	switch strings.ToLower(strings.TrimSpace(c.Query("sort"))) {
	case "", "newest", "desc":
	case "oldest", "asc":
		f.OldestFirst = true
	default:
		return f, errInvalidSort
	}
	return f, nil
}

// ListThreads godoc
// @ID          listThreads
// @Summary     List threads (paginated)
// @Description Returns a page of the user's threads, each with its latest content.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Threads
// @Produce     json
// @Security    BearerAuth
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page       query  int     false  "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false  "Items per page"  minimum(1) maximum(100) default(20)
// @Param       status     query  string  false  "active or archived"
// @Param       type       query  string  false  "Content type, e.g. blog_post"
// @Param       search     query  string  false  "Substring of the title"
// @Param       sort       query  string  false  "newest (default) or oldest"
// @Success     200  {object}  handlers.ListThreadsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /threads [get]
func (h *Handlers) ListThreads(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)
	f, err := threadFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	// ETag pre-check (best effort).
	if etag, err := h.threadsETag(c, uid); err == nil && etag != "" {
		if notModified(c, etag) {
			return
		}
	}

	items, total, err := h.threads.ListPage(ctx, uid, f, page, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListThreadsResponse{
		Threads:    items,
		Pagination: newPagination(page, pageSize, total),
	})
}

// threadsETag fingerprints the user's threads and contents together with the
// query, so a finished generation or a sentiment change invalidates it.
func (h *Handlers) threadsETag(c *gin.Context, uid string) (string, error) {
	if h.db == nil {
		return "", nil
	}
	var (
		tCount, cCount int64
		tMax, cMax     int64
	)
	g, gctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		n, ts, err := repo.ThreadsStats(gctx, h.db, uid)
		if ts != nil {
			tMax = ts.UnixNano()
		}
		tCount = n
		return err
	})
	g.Go(func() error {
		n, ts, err := repo.UserContentsStats(gctx, h.db, uid)
		if ts != nil {
			cMax = ts.UnixNano()
		}
		cCount = n
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}
	q := fnv.New32a()
	_, _ = q.Write([]byte(c.Request.URL.RawQuery))
	return fmt.Sprintf(`W/"threads:%s:%d:%d:%d:%d:%x"`, uid, tCount, tMax, cCount, cMax, q.Sum32()), nil
}

// ThreadSummary godoc
// @ID          threadSummary
// @Summary     Summarize threads
// @Tags        Threads
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  services.ThreadSummary
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /threads/summary [get]
func (h *Handlers) ThreadSummary(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	sum, err := h.threads.Summary(c.Request.Context(), uid)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, sum)
}

// GetThread godoc
// @ID          getThread
// @Summary     Get a thread with its contents
// @Tags        Threads
// @Produce     json
// @Security    BearerAuth
// @Param       id             path    string  true   "Thread ID (UUID)"  format(uuid)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Success     200  {object}  domain.Thread
// @Success     304  "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse "THREAD_NOT_FOUND"
// @Router      /threads/{id} [get]
func (h *Handlers) GetThread(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	th, err := h.threads.Get(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	if etag := h.threadETag(c, th); etag != "" && notModified(c, etag) {
		return
	}
	ok(c, http.StatusOK, th)
}

// threadETag covers the thread row and its contents; "" when unavailable.
func (h *Handlers) threadETag(c *gin.Context, th *domain.Thread) string {
	if h.db == nil {
		return ""
	}
	n, ts, err := repo.ContentsStats(c.Request.Context(), h.db, th.ID)
	if err != nil {
		return ""
	}
	var cMax int64
	if ts != nil {
		cMax = ts.UnixNano()
	}
	return fmt.Sprintf(`W/"thread:%s:%d:%d:%d"`, th.ID, th.UpdatedAt.UnixNano(), n, cMax)
}

// UpdateThread godoc
// @ID          updateThread
// @Summary     Update a thread's title or status
// @Tags        Threads
// @Accept      json
// @Produce     json
// @Security    BearerAuth
// @Param       id    path  string  true  "Thread ID (UUID)"  format(uuid)
// @Param       body  body  handlers.UpdateThreadRequest  true  "Fields to change"
// @Success     200  {object}  domain.Thread
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse "THREAD_NOT_FOUND"
// @Router      /threads/{id} [put]
func (h *Handlers) UpdateThread(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	var req UpdateThreadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	th, err := h.threads.Update(c.Request.Context(), uid, c.Param("id"), services.ThreadUpdate{
		Title:  req.Title,
		Status: req.Status,
	})
	if err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	ok(c, http.StatusOK, th)
}

// DeleteThread godoc
// @ID          deleteThread
// @Summary     Delete a thread
// @Tags        Threads
// @Security    BearerAuth
// @Param       id   path  string  true  "Thread ID (UUID)"  format(uuid)
// @Success     204  {string}  string "No Content"
// @Failure     404  {object}  handlers.ErrorResponse "THREAD_NOT_FOUND"
// @Router      /threads/{id} [delete]
func (h *Handlers) DeleteThread(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	if err := h.threads.Delete(c.Request.Context(), uid, c.Param("id")); err != nil {
		failService(c, err, ErrCodeUpdateFailed)
		return
	}
	noContent(c)
}

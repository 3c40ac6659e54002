// Event stream HTTP handler.
//
//   - GET    /sse/stream?userId={id}  (server-sent events for the caller)
//   - DELETE /sse/stream              (close the caller's streams)
//
// Each finished or failed generation is pushed as an "event: message" whose
// data is the content JSON. Browsers pass the access token in the
// access_token query parameter because EventSource cannot set headers.
package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-content-backend/internal/http/middleware"
	"github.com/tbourn/go-content-backend/internal/notify"
)

// Stream godoc
// @ID          stream
// @Summary     Subscribe to generation events
// @Tags        Events
// @Produce     text/event-stream
// @Security    BearerAuth
// @Param       userId        query  string  false  "Must equal the token subject when set"
// @Param       access_token  query  string  false  "Access token for EventSource clients"
// @Success     200  {string}  string "text/event-stream"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Failure     403  {object}  handlers.ErrorResponse "userId does not match the token"
// @Failure     503  {object}  handlers.ErrorResponse "Shutting down"
// @Router      /sse/stream [get]
func (h *Handlers) Stream(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	if q := strings.TrimSpace(c.Query("userId")); q != "" && q != uid {
		fail(c, http.StatusForbidden, ErrCodeForbidden, "userId does not match the access token")
		return
	}

	sub, err := h.hub.Subscribe(uid)
	if err != nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeStreamFailed, "event stream unavailable")
		return
	}
	defer h.hub.Unsubscribe(sub)
	defer middleware.TrackStream()()

	lg := middleware.LoggerFrom(c)
	lg.Debug().Str("subscriber_id", sub.ID).Int("streams", h.hub.Subscribers(uid)).Msg("event stream opened")

	err = notify.Serve(c.Request.Context(), c.Writer, sub, h.heartbeat)
	switch {
	case errors.Is(err, notify.ErrStreamingUnsupported):
		fail(c, http.StatusInternalServerError, ErrCodeStreamFailed, "streaming unsupported")
	case err != nil:
		lg.Debug().Err(err).Str("subscriber_id", sub.ID).Msg("event stream write failed")
	default:
		lg.Debug().Str("subscriber_id", sub.ID).Msg("event stream closed")
	}
}

// CloseStreams godoc
// @ID          closeStreams
// @Summary     Close the caller's event streams on this instance
// @Tags        Events
// @Security    BearerAuth
// @Success     204  "No Content"
// @Failure     401  {object}  handlers.ErrorResponse "Unauthorized"
// @Router      /sse/stream [delete]
func (h *Handlers) CloseStreams(c *gin.Context) {
	uid, okUser := userID(c)
	if !okUser {
		return
	}
	n := h.hub.Subscribers(uid)
	h.hub.CloseUser(uid)
	middleware.LoggerFrom(c).Debug().Int("streams", n).Msg("event streams closed by client")
	noContent(c)
}

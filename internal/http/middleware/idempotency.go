// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements idempotency support for unsafe HTTP methods. It
// validates the Idempotency-Key header, looks up a previously recorded
// result for (user, scope, key) and annotates the request so that handlers
// can replay that result and the rate limiter can let the replay through.
//
// A scope is the route the key was used on ("POST /api/v1/content/generate"),
// so the same key can be reused on a different endpoint.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey is the request header carrying the idempotency key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay" // string: recorded resource id
	ctxKeyRateBypass = "rate.bypass" // bool: skip rate limiting
)

const (
	defaultIdemMaxLen  = 200
	defaultIdemPattern = `^[A-Za-z0-9._~\-:]+$`
)

// GetIdempotencyKey returns the validated key stashed by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a recorded result exists for this request.
func IsReplay(c *gin.Context) bool {
	return ReplayResource(c) != ""
}

// ReplayResource returns the id of the resource recorded for this request's
// key, or "" when the request is not a replay.
func ReplayResource(c *gin.Context) string {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// IdempotencyScope returns the scope under which keys of this request are
// recorded: the method and the matched route.
func IdempotencyScope(c *gin.Context) string {
	path := c.FullPath()
	if path == "" {
		path = c.Request.URL.Path
	}
	return c.Request.Method + " " + path
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the accepted key length. Values <= 0 default to 200.
	MaxLen int
	// Pattern restricts allowed characters. Nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup returns the resource id recorded for (userID, scope, key)
// that is still valid at now, or "" when there is none. TTLs are enforced by
// the implementation.
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (resourceID string, err error)

// IdempotencyValidator validates the Idempotency-Key header when present and
// stashes it for handlers. With a lookup and an authenticated user, a hit
// marks the request as a replay and lets it bypass rate limiting.
//
// Invalid keys are rejected with 400. Lookup errors never block the request.
// Place it after RequireAuth so the lookup is scoped to the caller.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(defaultIdemPattern)
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get("X-Request-ID"),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if uid := UserID(c); lookup != nil && uid != "" {
			rid, err := lookup(c.Request.Context(), uid, IdempotencyScope(c), key, time.Now().UTC())
			if err == nil && rid != "" {
				c.Set(ctxKeyIdemReplay, rid)
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication. The verified subject is
// stored under CtxUserID so the logger, rate limiter, idempotency validator
// and handlers all see the same identity.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CtxUserID is the Gin context key holding the authenticated user id.
const CtxUserID = "userID"

// QueryAccessToken is the query parameter accepted in place of the
// Authorization header. Browsers' EventSource cannot set headers.
const QueryAccessToken = "access_token"

// TokenVerifier validates an access token and returns its subject.
type TokenVerifier interface {
	VerifyAccess(token string) (string, error)
}

// RequireAuth rejects requests without a valid access token with 401.
//
// The token is read from "Authorization: Bearer <token>" and, when
// allowQuery is true, from the access_token query parameter.
func RequireAuth(v TokenVerifier, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" && allowQuery {
			raw = strings.TrimSpace(c.Query(QueryAccessToken))
		}
		if raw == "" {
			abortUnauthorized(c, "missing access token")
			return
		}
		sub, err := v.VerifyAccess(raw)
		if err != nil || sub == "" {
			abortUnauthorized(c, "invalid or expired access token")
			return
		}
		c.Set(CtxUserID, sub)
		bindUser(c, sub)
		c.Next()
	}
}

// UserID returns the authenticated user id, or "" when the request was not
// authenticated.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(CtxUserID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func bearerToken(h string) string {
	h = strings.TrimSpace(h)
	if len(h) < 7 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func abortUnauthorized(c *gin.Context, msg string) {
	c.Header("WWW-Authenticate", `Bearer realm="api"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"request_id": c.Writer.Header().Get("X-Request-ID"),
		"code":       "unauthorized",
		"message":    msg,
	})
}

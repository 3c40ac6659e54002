// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements RedactingLogger, the access log of the API. It never
// logs bodies (prompts and generated texts stay out of the logs) and
// scrubs identifiers and credentials from the query string and headers:
// bearer and query tokens, JWTs, UUIDs, e-mail addresses and phone numbers.
//
//	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
//	    MaskHeaders: []string{"X-Api-Key"},
//	}))
package middleware

import (
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// RedactOptions configures RedactingLogger.
//
// MaskHeaders lists extra headers (case-insensitive) whose values are
// replaced with "[REDACTED]", in addition to Authorization, Cookie and
// Set-Cookie.
type RedactOptions struct {
	MaskHeaders []string
}

// Redactor scrubs sensitive fragments from free-form strings.
type Redactor struct {
	token *regexp.Regexp
	jwt   *regexp.Regexp
	uuid  *regexp.Regexp
	email *regexp.Regexp
	phone *regexp.Regexp
}

// NewRedactor compiles the patterns once.
func NewRedactor() *Redactor {
	return &Redactor{
		token: regexp.MustCompile(`(?i)((?:access|refresh)_token=)[^&\s]+`),
		jwt:   regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`),
		uuid:  regexp.MustCompile(`(?i)\b[0-9a-f]{8}\-[0-9a-f]{4}\-[1-5][0-9a-f]{3}\-[89ab][0-9a-f]{3}\-[0-9a-f]{12}\b`),
		email: regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`),
		// Digits only, so hex runs inside ids never match.
		phone: regexp.MustCompile(`\b(?:\+?\d{1,3}[ .-]?)?(?:\(?\d{2,4}\)?[ .-]?)?\d{3,4}[ .-]?\d{4}\b`),
	}
}

// String returns s with tokens, ids, e-mails and phone numbers replaced.
// UUIDs go before phones: the phone pattern would eat their digit groups.
func (r *Redactor) String(s string) string {
	if s == "" {
		return s
	}
	out := r.token.ReplaceAllString(s, "${1}[REDACTED]")
	out = r.jwt.ReplaceAllString(out, "[REDACTED:jwt]")
	out = r.uuid.ReplaceAllString(out, "[REDACTED:id]")
	out = r.email.ReplaceAllString(out, "[REDACTED:email]")
	out = r.phone.ReplaceAllString(out, "[REDACTED:phone]")
	return out
}

// RedactingLogger attaches a request-scoped logger (see LoggerFrom) and,
// once the handler chain returns, writes one access log line with the
// route, caller, outcome and scrubbed query and headers. The level is error
// for 5xx or recorded gin errors, warn for 4xx, info otherwise.
func RedactingLogger(opts RedactOptions) gin.HandlerFunc {
	red := NewRedactor()

	masked := map[string]struct{}{
		"authorization": {},
		"cookie":        {},
		"set-cookie":    {},
	}
	for _, h := range opts.MaskHeaders {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			masked[h] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		query := truncate(red.String(c.Request.URL.RawQuery), maxQueryLogLength)

		headers := make(map[string]string, len(c.Request.Header))
		for k, vv := range c.Request.Header {
			if _, ok := masked[strings.ToLower(k)]; ok {
				headers[k] = "[REDACTED]"
				continue
			}
			headers[k] = red.String(strings.Join(vv, ", "))
		}

		reqLog := log.With().
			Str("request_id", RequestIDFrom(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Logger()
		c.Set(loggerKey, &reqLog)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= 500 || len(c.Errors) > 0:
			ev = log.Error()
			if len(c.Errors) > 0 {
				ev = ev.Str("errors", red.String(c.Errors.String()))
			}
		case status >= 400:
			ev = log.Warn()
		default:
			ev = log.Info()
		}

		ev.
			Str("request_id", RequestIDFrom(c)).
			Str("user_id", UserID(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Str("remote_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int("status", status).
			Bool("replay", IsReplay(c)).
			Int64("bytes_in", c.Request.ContentLength).
			Int("bytes", c.Writer.Size()).
			Dur("latency", time.Since(start)).
			Interface("headers", headers).
			Msg("http_request")
	}
}

// bindUser adds user_id to the request-scoped logger once the caller is
// known. Without one, LoggerFrom already reads the id from the context.
func bindUser(c *gin.Context, userID string) {
	v, ok := c.Get(loggerKey)
	if !ok {
		return
	}
	lg, ok := v.(*zerolog.Logger)
	if !ok {
		return
	}
	l := lg.With().Str("user_id", userID).Logger()
	c.Set(loggerKey, &l)
}

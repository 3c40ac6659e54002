// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// Codes are stable and machine-readable; clients branch on them rather than
// on messages. Generic codes mirror HTTP status semantics and are lowercase.
// Codes carried over from the public content API contract (THREAD_NOT_FOUND,
// EMAIL_TAKEN, ...) keep their upper-case spelling so existing clients keep
// working.
//
// Example response:
//
//	{
//	  "request_id": "e1b9be03-4999-4289-9f03-999b042d65d6",
//	  "code": "THREAD_NOT_FOUND",
//	  "message": "thread not found"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-content-backend/internal/services"
)

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeForbidden    = "forbidden"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "too_many_requests"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeThreadNotFound      = "THREAD_NOT_FOUND"
	ErrCodeContentNotFound     = "CONTENT_NOT_FOUND"
	ErrCodeEmailTaken          = "EMAIL_TAKEN"
	ErrCodeInvalidEmail        = "INVALID_EMAIL"
	ErrCodeInvalidPassword     = "INVALID_PASSWORD"
	ErrCodeInvalidRefreshToken = "INVALID_REFRESH_TOKEN"
	ErrCodeAIUnavailable       = "ai_unavailable"
	ErrCodeGenerateFailed      = "generate_failed"
	ErrCodeListFailed          = "list_failed"
	ErrCodeUpdateFailed        = "update_failed"
	ErrCodeAuthFailed          = "auth_failed"
	ErrCodeStreamFailed        = "stream_failed"
	ErrCodeMethodNotAllowed    = "method_not_allowed"
)

// badRequestErrs are validation failures reported verbatim as 400.
var badRequestErrs = []error{
	services.ErrEmptyPrompt,
	services.ErrTooLong,
	services.ErrInvalidContentType,
	services.ErrInvalidProvider,
	services.ErrInvalidSentiment,
	services.ErrInvalidThreadStatus,
	services.ErrNothingToUpdate,
	services.ErrInvalidInput,
}

// failService maps a service error to its HTTP response. Unknown errors
// become 500 with fallbackCode.
func failService(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, services.ErrThreadNotFound):
		fail(c, http.StatusNotFound, ErrCodeThreadNotFound, "thread not found")
	case errors.Is(err, services.ErrContentNotFound):
		fail(c, http.StatusNotFound, ErrCodeContentNotFound, "content not found")
	case errors.Is(err, services.ErrEmailTaken):
		fail(c, http.StatusConflict, ErrCodeEmailTaken, "email already registered")
	case errors.Is(err, services.ErrInvalidEmail):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidEmail, "invalid email")
	case errors.Is(err, services.ErrInvalidPassword):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidPassword, "invalid password")
	case errors.Is(err, services.ErrInvalidRefreshToken):
		fail(c, http.StatusUnauthorized, ErrCodeInvalidRefreshToken, "invalid refresh token")
	case errors.Is(err, services.ErrAIUnavailable):
		fail(c, http.StatusBadGateway, ErrCodeAIUnavailable, "ai provider unavailable")
	default:
		for _, target := range badRequestErrs {
			if errors.Is(err, target) {
				fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
				return
			}
		}
		fail(c, http.StatusInternalServerError, fallbackCode, err.Error())
	}
}

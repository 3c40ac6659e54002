// Package services holds the business logic for threads, generated contents,
// authentication and sentiment analysis. This file centralizes the
// service-level error values so that they can be returned consistently by
// service methods and checked by callers.
//
// Translation into HTTP status codes happens in the handler layer.
package services

import "errors"

// Thread and content errors.
var (
	// ErrThreadNotFound indicates that the thread does not exist, belongs to
	// another user, or was deleted.
	ErrThreadNotFound = errors.New("thread not found")

	// ErrContentNotFound indicates that the content does not exist or its
	// thread is not accessible to the current user.
	ErrContentNotFound = errors.New("content not found")

	// ErrEmptyPrompt is returned when a generation request has a blank prompt.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrTooLong is returned when a prompt exceeds the configured limit.
	ErrTooLong = errors.New("prompt too long")

	ErrInvalidContentType  = errors.New("invalid content type")
	ErrInvalidProvider     = errors.New("unknown or unconfigured ai provider")
	ErrInvalidSentiment    = errors.New("sentiment must be positive, negative or neutral")
	ErrInvalidThreadStatus = errors.New("thread status must be active or archived")

	// ErrNothingToUpdate is returned by updates that carry no field.
	ErrNothingToUpdate = errors.New("nothing to update")

	// ErrAIUnavailable wraps failures of synchronous AI calls.
	ErrAIUnavailable = errors.New("ai provider unavailable")
)

// Authentication errors.
var (
	ErrInvalidInput        = errors.New("invalid registration input")
	ErrEmailTaken          = errors.New("email already registered")
	ErrInvalidEmail        = errors.New("no account with this email")
	ErrInvalidPassword     = errors.New("wrong password")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

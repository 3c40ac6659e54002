// Package ai is the gateway between the generation pipeline and the AI
// vendors. It builds prompts from a thread's history, dispatches them to a
// registered provider, and normalizes whatever comes back into a Result
// with a terminal status. Vendor failures never surface as errors from the
// gateway; they become a failed Result.
package ai

import (
	"context"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// ResponseFormat tells a provider what shape of answer the prompt asks for.
type ResponseFormat string

const (
	// FormatText is free text.
	FormatText ResponseFormat = "text"
	// FormatJSON is a JSON object {"content": "...", "title": "..."}.
	FormatJSON ResponseFormat = "json"
)

// Prompt is the provider-agnostic request sent to a vendor.
type Prompt struct {
	// System carries standing instructions (role, output contract).
	System string
	// User is the task text including history and the current request.
	User   string
	Format ResponseFormat
}

// Exchange is one earlier prompt of the thread and the text it produced.
type Exchange struct {
	Prompt   string
	Response string
}

// Request is the prompt being generated now plus optional style hints.
type Request struct {
	Prompt            string
	Tone              string
	Language          string
	ExtraInstructions string
}

// Payload is everything BuildPrompt needs. History is newest-first.
type Payload struct {
	Type    domain.ContentType
	History []Exchange
	Current Request
}

// Result is the normalized outcome of a generation. Status is always
// StatusCompleted or StatusFailed.
type Result struct {
	Content string
	Title   string
	Status  domain.ContentStatus
}

// Failed reports whether the generation did not produce content.
func (r Result) Failed() bool { return r.Status != domain.StatusCompleted }

// CallOptions overrides the gateway defaults for one call.
type CallOptions struct {
	Provider domain.Provider
	Model    string
}

// Provider is a vendor client. Generate returns the raw text answer; an
// empty model means the provider's configured default.
type Provider interface {
	Name() domain.Provider
	Generate(ctx context.Context, p Prompt, model string) (string, error)
}

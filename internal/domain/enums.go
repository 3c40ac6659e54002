package domain

import "strings"

// ContentType is the kind of content a thread produces.
type ContentType string

const (
	ContentTypeBlogPost           ContentType = "blog_post"
	ContentTypeProductDescription ContentType = "product_description"
	ContentTypeSocialMediaCaption ContentType = "social_media_caption"
	ContentTypeArticle            ContentType = "article"
	ContentTypeOther              ContentType = "other"
)

// ContentTypes lists the accepted content types.
var ContentTypes = []ContentType{
	ContentTypeBlogPost,
	ContentTypeProductDescription,
	ContentTypeSocialMediaCaption,
	ContentTypeArticle,
	ContentTypeOther,
}

// Valid reports whether t is a known content type.
func (t ContentType) Valid() bool {
	for _, v := range ContentTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ParseContentType normalizes s (case, dashes, spaces) into a ContentType.
func ParseContentType(s string) (ContentType, bool) {
	t := ContentType(normalizeEnum(s))
	return t, t.Valid()
}

// ThreadStatus is the lifecycle state of a thread.
type ThreadStatus string

const (
	ThreadActive   ThreadStatus = "active"
	ThreadArchived ThreadStatus = "archived"
	ThreadDeleted  ThreadStatus = "deleted"
)

// Valid reports whether s is a known thread status.
func (s ThreadStatus) Valid() bool {
	switch s {
	case ThreadActive, ThreadArchived, ThreadDeleted:
		return true
	}
	return false
}

// ContentStatus is the generation state of a content.
//
// Allowed transitions: pending -> processing -> completed|failed, and
// pending -> failed. completed and failed are terminal.
type ContentStatus string

const (
	StatusPending    ContentStatus = "pending"
	StatusProcessing ContentStatus = "processing"
	StatusCompleted  ContentStatus = "completed"
	StatusFailed     ContentStatus = "failed"
)

// ContentStatuses lists every content status.
var ContentStatuses = []ContentStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}

// Terminal reports whether no further transition is allowed from s.
func (s ContentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether moving from s to next is allowed.
func (s ContentStatus) CanTransition(next ContentStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Sentiment is the tone attached to a content.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Valid reports whether s is a known sentiment.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// Provider names an AI backend.
type Provider string

const (
	ProviderGemini     Provider = "gemini"
	ProviderOpenRouter Provider = "openrouter"
)

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// Package services – SentimentService
//
// SentimentService asks the AI gateway to classify the sentiment of a text
// and stores the answer on the content it belongs to. Ownership is checked
// through the content's thread before any AI call is made.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/ai"
	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/repo"
)

// Completer returns the raw text answer of a prompt.
type Completer interface {
	Complete(ctx context.Context, p ai.Prompt, opts ai.CallOptions) (string, error)
}

// SentimentService implements the sentiment analysis use-case.
type SentimentService struct {
	DB *gorm.DB
	AI Completer
}

// Analyze classifies text (or the content's own prompt when text is blank)
// and persists the sentiment on contentID.
//
// Errors:
//   - ErrContentNotFound when the content is missing or not owned by userID.
//   - ErrEmptyPrompt when there is nothing to classify.
//   - ErrAIUnavailable (wrapped) when the provider call fails.
func (s *SentimentService) Analyze(ctx context.Context, userID, contentID, text string) (domain.Sentiment, error) {
	tr := otel.Tracer("services/SentimentService")
	ctx, span := tr.Start(ctx, "Analyze",
		trace.WithAttributes(
			attribute.String("content.id", contentID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	c, err := repo.GetContent(ctx, s.DB, contentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrContentNotFound
		}
		return "", err
	}
	if _, err := repo.GetThread(ctx, s.DB, c.ThreadID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrContentNotFound
		}
		return "", err
	}

	text = strings.TrimSpace(text)
	if text == "" {
		text = c.Prompt
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyPrompt
	}

	answer, err := s.AI.Complete(ctx, ai.SentimentPrompt(text), ai.CallOptions{})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAIUnavailable, err)
	}
	sentiment := ai.ParseSentiment(answer)

	if err := repo.UpdateContentSentiment(ctx, s.DB, c.ID, sentiment); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", ErrContentNotFound
		}
		return "", err
	}
	span.SetAttributes(attribute.String("sentiment", string(sentiment)))
	return sentiment, nil
}

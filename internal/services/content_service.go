// Package services – ContentService
//
// ContentService is the only driver of the content state machine. Submit
// records a pending content and enqueues a generation job; Execute runs that
// job: it moves the content to processing, calls the AI gateway, writes the
// terminal outcome, and notifies the owner's live streams.
//
// Observability: public methods are OpenTelemetry-instrumented; spans carry
// thread, content and user identifiers.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tbourn/go-content-backend/internal/ai"
	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/notify"
	"github.com/tbourn/go-content-backend/internal/queue"
	"github.com/tbourn/go-content-backend/internal/repo"
)

const (
	// TaskGenerateContent is the queue task that runs Execute.
	TaskGenerateContent = "generate_content"

	// NewThreadID asks Submit to open a new thread.
	NewThreadID = "new-thread"
)

// Enqueuer is the producer side of the job queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, task string, payload any, opts queue.Options) (*queue.Handle, error)
}

// Generator runs prompts against an AI provider.
type Generator interface {
	Generate(ctx context.Context, p ai.Prompt, opts ai.CallOptions) ai.Result
	Has(name domain.Provider) bool
}

// GenerateRequest is a user's request for new content.
type GenerateRequest struct {
	Prompt      string
	ContentType string
	ThreadID    string
	Provider    string
	Sentiment   string
}

// GenerationJob is the payload of a generate_content job.
type GenerationJob struct {
	ContentID string           `json:"content_id"`
	ThreadID  string           `json:"thread_id"`
	UserID    string           `json:"user_id"`
	Provider  domain.Provider  `json:"provider,omitempty"`
	Sentiment domain.Sentiment `json:"sentiment,omitempty"`
}

// ContentService coordinates generation requests and their execution.
type ContentService struct {
	DB       *gorm.DB
	Queue    Enqueuer
	AI       Generator
	Notifier notify.Publisher

	// JobOptions overrides the queue defaults for generation jobs.
	JobOptions queue.Options

	// Optional guard
	MaxPromptRunes int

	log zerolog.Logger
}

// NewContentService wires a ContentService.
func NewContentService(db *gorm.DB, q Enqueuer, gen Generator, n notify.Publisher) *ContentService {
	return &ContentService{
		DB:       db,
		Queue:    q,
		AI:       gen,
		Notifier: n,
		log:      log.With().Str("component", "services.content").Logger(),
	}
}

// Submit validates req, resolves or creates the thread, stores a pending
// content and enqueues its generation. It returns the thread with
// LastContent set and never waits for the generation itself.
func (s *ContentService) Submit(ctx context.Context, userID string, req GenerateRequest) (*domain.Thread, error) {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("thread.id", req.ThreadID),
		),
	)
	defer span.End()

	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}
	if s.MaxPromptRunes > 0 && utf8.RuneCountInString(prompt) > s.MaxPromptRunes {
		return nil, ErrTooLong
	}
	ctype, ok := domain.ParseContentType(req.ContentType)
	if !ok {
		return nil, ErrInvalidContentType
	}
	provider := domain.Provider(strings.ToLower(strings.TrimSpace(req.Provider)))
	if provider != "" && (s.AI == nil || !s.AI.Has(provider)) {
		return nil, ErrInvalidProvider
	}
	sentiment := domain.Sentiment(strings.ToLower(strings.TrimSpace(req.Sentiment)))
	if sentiment != "" && !sentiment.Valid() {
		return nil, ErrInvalidSentiment
	}

	var (
		thread  *domain.Thread
		content *domain.Content
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		threadID := strings.TrimSpace(req.ThreadID)
		if threadID == "" || threadID == NewThreadID {
			th, err := repo.CreateThread(ctx, tx, userID, threadTitleFromPrompt(prompt, ctype), ctype)
			if err != nil {
				return err
			}
			thread = th
		} else {
			th, err := repo.GetThread(ctx, tx, threadID, userID)
			if err != nil {
				if errors.Is(err, repo.ErrNotFound) {
					return ErrThreadNotFound
				}
				return err
			}
			thread = th
		}

		c, err := repo.CreateContent(ctx, tx, thread.ID, prompt, sentiment)
		if err != nil {
			return err
		}
		content = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("content.id", content.ID))

	job := GenerationJob{
		ContentID: content.ID,
		ThreadID:  thread.ID,
		UserID:    userID,
		Provider:  provider,
		Sentiment: sentiment,
	}
	if _, err := s.Queue.Enqueue(ctx, TaskGenerateContent, job, s.JobOptions); err != nil {
		// Nothing will ever pick the content up; close it out.
		bg := context.WithoutCancel(ctx)
		if ferr := repo.FinishContent(bg, s.DB, content.ID, "", domain.StatusFailed); ferr != nil {
			s.log.Error().Err(ferr).Str("content_id", content.ID).Msg("mark failed after enqueue error")
		}
		return nil, fmt.Errorf("enqueue generation: %w", err)
	}

	thread.LastContent = content
	return thread, nil
}

// HandleJob decodes a generate_content payload and runs Execute. It is
// registered on the queue worker.
func (s *ContentService) HandleJob(ctx context.Context, payload []byte) error {
	var job GenerationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		// A payload that cannot be decoded will never succeed.
		s.log.Error().Err(err).Msg("discarding undecodable generation job")
		return nil
	}
	return s.Execute(ctx, job)
}

// Execute runs one generation job.
//
// AI failures are recorded on the content and swallowed. Store errors while
// loading are returned so the queue retries; the status guard makes a retry
// of an already finished content a no-op.
func (s *ContentService) Execute(ctx context.Context, job GenerationJob) error {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "Execute",
		trace.WithAttributes(
			attribute.String("content.id", job.ContentID),
			attribute.String("thread.id", job.ThreadID),
			attribute.String("user.id", job.UserID),
		),
	)
	defer span.End()

	lg := s.log.With().Str("content_id", job.ContentID).Str("thread_id", job.ThreadID).Logger()

	var (
		content *domain.Content
		thread  *domain.Thread
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := repo.GetContent(gctx, s.DB, job.ContentID)
		content = c
		return err
	})
	g.Go(func() error {
		th, err := repo.GetThread(gctx, s.DB, job.ThreadID, job.UserID)
		thread = th
		return err
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			lg.Warn().Msg("content or thread gone; dropping job")
			return nil
		}
		return fmt.Errorf("load generation job: %w", err)
	}
	if content.ThreadID != thread.ID {
		lg.Warn().Msg("content does not belong to thread; dropping job")
		return nil
	}

	if content.Status.Terminal() {
		lg.Info().Str("status", string(content.Status)).Msg("content already finished; skipping")
		return nil
	}

	final := s.generate(ctx, lg, job, content, thread)
	s.publish(ctx, lg, job.UserID, final)
	return nil
}

// generate performs the processing write, the AI call and the terminal
// write. It returns the content as it should be published.
func (s *ContentService) generate(ctx context.Context, lg zerolog.Logger, job GenerationJob, content *domain.Content, thread *domain.Thread) *domain.Content {
	if err := repo.MarkProcessing(ctx, s.DB, content.ID); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			lg.Info().Msg("content finished concurrently; skipping")
			return s.reload(ctx, content)
		}
		return s.fail(ctx, lg, content, err)
	}
	content.Status = domain.StatusProcessing

	history, err := repo.ListHistory(ctx, s.DB, thread.ID, content.ID)
	if err != nil {
		return s.fail(ctx, lg, content, err)
	}

	tone := job.Sentiment
	if tone == "" {
		tone = content.Sentiment
	}
	prompt := ai.BuildPrompt(ai.Payload{
		Type:    thread.Type,
		History: toExchanges(history),
		Current: ai.Request{Prompt: content.Prompt, Tone: string(tone)},
	})

	res := s.AI.Generate(ctx, prompt, ai.CallOptions{Provider: job.Provider})
	if res.Failed() {
		return s.fail(ctx, lg, content, errors.New("generation failed"))
	}

	if err := repo.FinishContent(ctx, s.DB, content.ID, res.Content, domain.StatusCompleted); err != nil {
		if errors.Is(err, repo.ErrStaleStatus) {
			lg.Info().Msg("content finished concurrently; result discarded")
			return s.reload(ctx, content)
		}
		return s.fail(ctx, lg, content, err)
	}
	content.GeneratedContent = res.Content
	content.Status = domain.StatusCompleted

	// The first content of a thread names it.
	if len(history) == 0 && res.Title != "" {
		if err := repo.UpdateThreadTitle(ctx, s.DB, thread.ID, job.UserID, res.Title); err != nil {
			lg.Warn().Err(err).Msg("rename thread")
		}
	}
	return s.reload(ctx, content)
}

// fail writes the failed outcome on a context that survives cancellation
// of ctx. Errors are logged only.
func (s *ContentService) fail(ctx context.Context, lg zerolog.Logger, content *domain.Content, cause error) *domain.Content {
	lg.Warn().Err(cause).Msg("generation failed")
	bg := context.WithoutCancel(ctx)
	if err := repo.FinishContent(bg, s.DB, content.ID, "", domain.StatusFailed); err != nil {
		lg.Error().Err(err).Msg("record failed status")
		return s.reload(bg, content)
	}
	content.GeneratedContent = ""
	content.Status = domain.StatusFailed
	return s.reload(bg, content)
}

// reload returns the persisted content, or fallback when it cannot be read.
func (s *ContentService) reload(ctx context.Context, fallback *domain.Content) *domain.Content {
	c, err := repo.GetContent(context.WithoutCancel(ctx), s.DB, fallback.ID)
	if err != nil {
		return fallback
	}
	return c
}

func (s *ContentService) publish(ctx context.Context, lg zerolog.Logger, userID string, c *domain.Content) {
	if s.Notifier == nil {
		return
	}
	if !s.Notifier.Publish(context.WithoutCancel(ctx), userID, c) {
		lg.Debug().Msg("no live stream for user; event dropped")
	}
}

// GetContent returns a content whose thread is visible to userID.
func (s *ContentService) GetContent(ctx context.Context, userID, id string) (*domain.Content, error) {
	tr := otel.Tracer("services/ContentService")
	ctx, span := tr.Start(ctx, "GetContent",
		trace.WithAttributes(
			attribute.String("content.id", id),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	c, err := repo.GetContent(ctx, s.DB, id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	if _, err := repo.GetThread(ctx, s.DB, c.ThreadID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	return c, nil
}

// UpdateSentiment changes the sentiment of a content owned by userID. The
// generation status is never touched.
func (s *ContentService) UpdateSentiment(ctx context.Context, userID, id, sentiment string) (*domain.Content, error) {
	sv := domain.Sentiment(strings.ToLower(strings.TrimSpace(sentiment)))
	if !sv.Valid() {
		return nil, ErrInvalidSentiment
	}
	c, err := s.GetContent(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := repo.UpdateContentSentiment(ctx, s.DB, c.ID, sv); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrContentNotFound
		}
		return nil, err
	}
	c.Sentiment = sv
	return c, nil
}

// StatusCounts returns how many of userID's contents are in each status.
// Every status is present.
func (s *ContentService) StatusCounts(ctx context.Context, userID string) (map[domain.ContentStatus]int64, error) {
	return repo.CountContentsByStatus(ctx, s.DB, userID)
}

// threadTitleFromPrompt names a new thread: the first three words of the
// prompt and the content type.
func threadTitleFromPrompt(prompt string, t domain.ContentType) string {
	words := strings.Fields(prompt)
	if len(words) > 3 {
		words = words[:3]
	}
	return strings.Join(words, " ") + " - " + string(t)
}

func toExchanges(history []domain.Content) []ai.Exchange {
	out := make([]ai.Exchange, 0, len(history))
	for _, c := range history {
		out = append(out, ai.Exchange{Prompt: c.Prompt, Response: c.GeneratedContent})
	}
	return out
}

package handlers

import (
	"net/http"
	"testing"

	"github.com/tbourn/go-content-backend/internal/domain"
	"github.com/tbourn/go-content-backend/internal/http/middleware"
)

func TestGenerateContent_AcceptsAndQueues(t *testing.T) {
	f := newFixture(t)

	th := submit(t, f, "u1", "Write about sustainable travel in Portugal")
	if th.ID == "" || th.UserID != "u1" || th.Type != domain.ContentTypeBlogPost {
		t.Fatalf("unexpected thread: %+v", th)
	}
	if th.LastContent == nil || th.LastContent.Status != domain.StatusPending {
		t.Fatalf("expected pending last_content, got %+v", th.LastContent)
	}
	if f.queue.count() != 1 {
		t.Fatalf("expected 1 queued job, got %d", f.queue.count())
	}

	// follow-up in the same thread
	w := do(t, f.r, http.MethodPost, "/content/generate", "u1", GenerateContentRequest{
		Prompt:      "Now make it shorter",
		ContentType: "blog_post",
		ThreadID:    th.ID,
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("follow-up: status=%d body=%s", w.Code, w.Body.String())
	}
	if got := decode[domain.Thread](t, w); got.ID != th.ID {
		t.Fatalf("follow-up opened a new thread %s", got.ID)
	}
}

func TestGenerateContent_Validation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name     string
		user     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"anonymous", "", GenerateContentRequest{Prompt: "p", ContentType: "blog_post"}, http.StatusUnauthorized, ErrCodeUnauthorized},
		{"missing type", "u1", GenerateContentRequest{Prompt: "p"}, http.StatusBadRequest, ErrCodeBadRequest},
		{"blank prompt", "u1", GenerateContentRequest{Prompt: "   ", ContentType: "blog_post"}, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown type", "u1", GenerateContentRequest{Prompt: "p", ContentType: "poem"}, http.StatusBadRequest, ErrCodeBadRequest},
		{"bad sentiment", "u1", GenerateContentRequest{Prompt: "p", ContentType: "article", Sentiment: "angry"}, http.StatusBadRequest, ErrCodeBadRequest},
		{"unknown thread", "u1", GenerateContentRequest{Prompt: "p", ContentType: "article", ThreadID: "nope"}, http.StatusNotFound, ErrCodeThreadNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, f.r, http.MethodPost, "/content/generate", tc.user, tc.body)
			if w.Code != tc.wantCode {
				t.Fatalf("status=%d want %d body=%s", w.Code, tc.wantCode, w.Body.String())
			}
			if got := errCode(t, w); got != tc.wantErr {
				t.Fatalf("code=%q want %q", got, tc.wantErr)
			}
		})
	}
	if f.queue.count() != 0 {
		t.Fatalf("rejected requests must not be queued, got %d", f.queue.count())
	}
}

func TestGenerateContent_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	body := GenerateContentRequest{Prompt: "Launch email for our app", ContentType: "other"}

	w1 := do(t, f.r, http.MethodPost, "/content/generate", "u1", body, middleware.HeaderIdempotencyKey, "key-1")
	if w1.Code != http.StatusAccepted {
		t.Fatalf("first: status=%d body=%s", w1.Code, w1.Body.String())
	}
	first := decode[domain.Thread](t, w1)

	w2 := do(t, f.r, http.MethodPost, "/content/generate", "u1", body, middleware.HeaderIdempotencyKey, "key-1")
	if w2.Code != http.StatusAccepted {
		t.Fatalf("replay: status=%d body=%s", w2.Code, w2.Body.String())
	}
	if w2.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("expected Idempotency-Replayed header")
	}
	second := decode[domain.Thread](t, w2)
	if second.ID != first.ID || second.LastContent == nil || second.LastContent.ID != first.LastContent.ID {
		t.Fatalf("replay returned a different result: %+v vs %+v", second, first)
	}
	if f.queue.count() != 1 {
		t.Fatalf("replay must not enqueue again, jobs=%d", f.queue.count())
	}

	// the key is scoped to its user
	w3 := do(t, f.r, http.MethodPost, "/content/generate", "u2", body, middleware.HeaderIdempotencyKey, "key-1")
	if w3.Code != http.StatusAccepted || w3.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("other user must not replay: status=%d", w3.Code)
	}
	if f.queue.count() != 2 {
		t.Fatalf("expected 2 jobs, got %d", f.queue.count())
	}
}

func TestGetAndUpdateContent(t *testing.T) {
	f := newFixture(t)
	th := submit(t, f, "u1", "Product copy for a kettle")
	id := th.LastContent.ID

	w := do(t, f.r, http.MethodGet, "/content/"+id, "u1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status=%d", w.Code)
	}
	if got := decode[domain.Content](t, w); got.ID != id || got.Prompt != "Product copy for a kettle" {
		t.Fatalf("unexpected content: %+v", got)
	}

	w = do(t, f.r, http.MethodGet, "/content/"+id, "intruder", nil)
	if w.Code != http.StatusNotFound || errCode(t, w) != ErrCodeContentNotFound {
		t.Fatalf("foreign get: status=%d body=%s", w.Code, w.Body.String())
	}

	w = do(t, f.r, http.MethodPatch, "/content/"+id, "u1", UpdateContentRequest{Sentiment: "Positive"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: status=%d body=%s", w.Code, w.Body.String())
	}
	got := decode[domain.Content](t, w)
	if got.Sentiment != domain.SentimentPositive || got.Status != domain.StatusPending {
		t.Fatalf("patch must only change sentiment: %+v", got)
	}

	w = do(t, f.r, http.MethodPatch, "/content/"+id, "u1", UpdateContentRequest{Sentiment: "angry"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("invalid sentiment: status=%d", w.Code)
	}
	w = do(t, f.r, http.MethodPatch, "/content/"+id, "u1", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("missing sentiment: status=%d", w.Code)
	}
	w = do(t, f.r, http.MethodPatch, "/content/"+id, "intruder", UpdateContentRequest{Sentiment: "neutral"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("foreign patch: status=%d", w.Code)
	}
}

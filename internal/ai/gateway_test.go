package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-content-backend/internal/domain"
)

type fakeProvider struct {
	name   domain.Provider
	text   string
	err    error
	calls  int
	model  string
	prompt Prompt
}

func (f *fakeProvider) Name() domain.Provider { return f.name }

func (f *fakeProvider) Generate(_ context.Context, p Prompt, model string) (string, error) {
	f.calls++
	f.model = model
	f.prompt = p
	return f.text, f.err
}

func TestGateway_RoutesToDefaultAndOverride(t *testing.T) {
	gem := &fakeProvider{name: domain.ProviderGemini, text: "From gemini. More."}
	orr := &fakeProvider{name: domain.ProviderOpenRouter, text: "From openrouter! More."}
	g := NewGateway(domain.ProviderGemini, gem, orr)

	res := g.Generate(context.Background(), Prompt{User: "x", Format: FormatText}, CallOptions{})
	assert.Equal(t, domain.StatusCompleted, res.Status)
	assert.Equal(t, "From gemini", res.Title)
	assert.Equal(t, 1, gem.calls)

	res = g.Generate(context.Background(), Prompt{User: "x"}, CallOptions{Provider: domain.ProviderOpenRouter, Model: "m-1"})
	assert.Equal(t, "From openrouter", res.Title)
	assert.Equal(t, "m-1", orr.model)

	assert.Equal(t, []domain.Provider{domain.ProviderGemini, domain.ProviderOpenRouter}, g.Providers())
	assert.True(t, g.Has(""))
	assert.False(t, g.Has("nope"))
}

func TestGateway_FailuresBecomeFailedResult(t *testing.T) {
	cases := map[string]*Gateway{
		"vendor error":     NewGateway(domain.ProviderGemini, &fakeProvider{name: domain.ProviderGemini, err: errors.New("503")}),
		"empty answer":     NewGateway(domain.ProviderGemini, &fakeProvider{name: domain.ProviderGemini, text: "   "}),
		"unknown provider": NewGateway(domain.ProviderOpenRouter),
	}
	for name, g := range cases {
		res := g.Generate(context.Background(), Prompt{User: "x", Format: FormatJSON}, CallOptions{})
		if res.Status != domain.StatusFailed || res.Content != "" || res.Title != "" {
			t.Fatalf("%s: expected failed empty result, got %+v", name, res)
		}
		if !res.Failed() {
			t.Fatalf("%s: Failed() should be true", name)
		}
	}
}

func TestGateway_Complete_ReportsErrors(t *testing.T) {
	g := NewGateway(domain.ProviderGemini, &fakeProvider{name: domain.ProviderGemini, err: errors.New("boom")})
	_, err := g.Complete(context.Background(), Prompt{}, CallOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gemini")

	_, err = g.Complete(context.Background(), Prompt{}, CallOptions{Provider: "other"})
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name      string
		text      string
		format    ResponseFormat
		wantBody  string
		wantTitle string
	}{
		{
			name:      "json with title",
			text:      `{"content":"Body text. Second.","title":"Great Title"}`,
			format:    FormatJSON,
			wantBody:  "Body text. Second.",
			wantTitle: "Great Title",
		},
		{
			name:      "fenced json without title",
			text:      "```json\n{\"content\": \"Fenced body! Next.\"}\n```",
			format:    FormatJSON,
			wantBody:  "Fenced body! Next.",
			wantTitle: "Fenced body",
		},
		{
			name:      "json with prose around it",
			text:      "Sure, here it is: {\"content\":\"Inner\",\"title\":\"T\"} hope it helps",
			format:    FormatJSON,
			wantBody:  "Inner",
			wantTitle: "T",
		},
		{
			name:      "broken json falls back to raw",
			text:      "{not json. at all",
			format:    FormatJSON,
			wantBody:  "{not json. at all",
			wantTitle: "{not json",
		},
		{
			name:      "empty content field falls back to raw",
			text:      `{"content":"","title":"x"}`,
			format:    FormatJSON,
			wantBody:  `{"content":"","title":"x"}`,
			wantTitle: `{"content":"","title":"x"}`,
		},
		{
			name:      "plain text",
			text:      "Hello world? yes",
			format:    FormatText,
			wantBody:  "Hello world? yes",
			wantTitle: "Hello world",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Normalize(tt.text, tt.format)
			assert.Equal(t, domain.StatusCompleted, res.Status)
			assert.Equal(t, tt.wantBody, res.Content)
			assert.Equal(t, tt.wantTitle, res.Title)
		})
	}
}

func TestExtractTitle(t *testing.T) {
	assert.Equal(t, "First sentence", ExtractTitle("First sentence. Second one."))
	assert.Equal(t, "Why", ExtractTitle("Why? Because."))

	long := strings.Repeat("word ", 30)
	got := ExtractTitle(long)
	assert.LessOrEqual(t, len([]rune(got)), 50)
	assert.True(t, strings.HasPrefix(long, got))

	// Leading terminator: fall back to the head of the text.
	assert.Equal(t, ". Odd start", ExtractTitle(". Odd start"))
	assert.Equal(t, "", ExtractTitle("   "))
}

func TestParseSentiment(t *testing.T) {
	assert.Equal(t, domain.SentimentPositive, ParseSentiment("Positive"))
	assert.Equal(t, domain.SentimentNegative, ParseSentiment(" negative.\n"))
	assert.Equal(t, domain.SentimentNeutral, ParseSentiment("Neutral"))
	assert.Equal(t, domain.SentimentNeutral, ParseSentiment("no idea"))
	assert.Equal(t, domain.SentimentPositive, ParseSentiment("**Positive**"))
	assert.Equal(t, domain.SentimentNegative, ParseSentiment("Sentiment: negative"))
	assert.Equal(t, domain.SentimentNeutral, ParseSentiment(""))

	// Hedged and negated answers are classified by their leading word.
	assert.Equal(t, domain.SentimentNeutral, ParseSentiment("Neutral (neither positive nor negative)"))
	assert.Equal(t, domain.SentimentNeutral, ParseSentiment("Not positive"))
	assert.Equal(t, domain.SentimentNegative, ParseSentiment("Negative, not positive"))
	assert.Equal(t, domain.SentimentNeutral, ParseSentiment("non-negative"))
}

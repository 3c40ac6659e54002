package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// ErrUnknownProvider is returned by Lookup for names that were never registered.
var ErrUnknownProvider = errors.New("unknown ai provider")

// Gateway routes generation requests to registered providers.
// It is safe for concurrent use.
type Gateway struct {
	mu        sync.RWMutex
	providers map[domain.Provider]Provider
	def       domain.Provider
	log       zerolog.Logger
}

// NewGateway returns a gateway whose default provider is def. Providers are
// added with Register.
func NewGateway(def domain.Provider, providers ...Provider) *Gateway {
	g := &Gateway{
		providers: make(map[domain.Provider]Provider, len(providers)),
		def:       def,
		log:       log.With().Str("component", "ai.gateway").Logger(),
	}
	for _, p := range providers {
		g.Register(p)
	}
	return g
}

// Register adds or replaces a provider under its Name.
func (g *Gateway) Register(p Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[p.Name()] = p
}

// Default returns the provider used when a call does not pick one.
func (g *Gateway) Default() domain.Provider { return g.def }

// Has reports whether name is registered. The empty name means the default.
func (g *Gateway) Has(name domain.Provider) bool {
	_, err := g.Lookup(name)
	return err == nil
}

// Providers lists registered provider names in sorted order.
func (g *Gateway) Providers() []domain.Provider {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]domain.Provider, 0, len(g.providers))
	for name := range g.providers {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookup resolves name (or the default when empty) to a provider.
func (g *Gateway) Lookup(name domain.Provider) (Provider, error) {
	if name == "" {
		name = g.def
	}
	g.mu.RLock()
	p, ok := g.providers[name]
	g.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return p, nil
}

// Complete sends p to the chosen provider and returns the raw text. Unlike
// Generate it reports failures as errors; it serves callers that interpret
// the answer themselves.
func (g *Gateway) Complete(ctx context.Context, p Prompt, opts CallOptions) (string, error) {
	prov, err := g.Lookup(opts.Provider)
	if err != nil {
		return "", err
	}
	text, err := prov.Generate(ctx, p, opts.Model)
	if err != nil {
		return "", fmt.Errorf("%s: %w", prov.Name(), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%s: empty response", prov.Name())
	}
	return text, nil
}

// Generate runs the prompt and normalizes the answer. It never returns an
// error: unknown providers, vendor errors, and empty answers all yield a
// failed Result with empty content and title.
func (g *Gateway) Generate(ctx context.Context, p Prompt, opts CallOptions) Result {
	name := opts.Provider
	if name == "" {
		name = g.def
	}
	ctx, span := otel.Tracer("ai/Gateway").Start(ctx, "Generate",
		trace.WithAttributes(
			attribute.String("ai.provider", string(name)),
			attribute.String("ai.model", opts.Model),
		))
	defer span.End()

	text, err := g.Complete(ctx, p, CallOptions{Provider: name, Model: opts.Model})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		g.log.Warn().Err(err).Str("provider", string(name)).Msg("generation failed")
		return Result{Status: domain.StatusFailed}
	}

	res := Normalize(text, p.Format)
	span.SetAttributes(attribute.Int("ai.content_len", len(res.Content)))
	return res
}

// Normalize turns a raw vendor answer into a completed Result. With
// FormatJSON it reads {"content","title"} from the answer, tolerating code
// fences and surrounding prose; if that fails, or content is empty, the raw
// text is used. A missing title is derived from the content.
func Normalize(text string, format ResponseFormat) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{Status: domain.StatusFailed}
	}
	content, title := text, ""
	if format == FormatJSON {
		var parsed struct {
			Content string `json:"content"`
			Title   string `json:"title"`
		}
		if frag := extractJSONFragment(text); frag != "" {
			if err := json.Unmarshal([]byte(frag), &parsed); err == nil && strings.TrimSpace(parsed.Content) != "" {
				content = strings.TrimSpace(parsed.Content)
				title = strings.TrimSpace(parsed.Title)
			}
		}
	}
	if title == "" {
		title = ExtractTitle(content)
	}
	return Result{Content: content, Title: clipRunes(title, maxTitleRunes), Status: domain.StatusCompleted}
}

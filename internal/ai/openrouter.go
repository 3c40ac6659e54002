package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tbourn/go-content-backend/internal/domain"
)

const (
	openRouterDefaultBaseURL   = "https://openrouter.ai/api/v1"
	openRouterDefaultModel     = "openai/gpt-4o"
	openRouterDefaultMaxTokens = 1000
)

// OpenRouterOptions configures the OpenRouter client.
type OpenRouterOptions struct {
	APIKey  string
	Model   string
	BaseURL string
	// SiteURL and SiteName are sent as HTTP-Referer and X-Title for
	// OpenRouter's app attribution.
	SiteURL    string
	SiteName   string
	MaxTokens  int64
	HTTPClient *http.Client
}

// OpenRouter talks to OpenRouter through its OpenAI-compatible API.
type OpenRouter struct {
	client    *openai.Client
	model     string
	maxTokens int64
}

// NewOpenRouter validates opts and builds the client.
func NewOpenRouter(opts OpenRouterOptions) (*OpenRouter, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("openrouter api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = openRouterDefaultBaseURL
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = openRouterDefaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = openRouterDefaultMaxTokens
	}

	options := []option.RequestOption{
		option.WithBaseURL(baseURL + "/"),
		option.WithAPIKey(opts.APIKey),
	}
	if opts.SiteURL != "" {
		options = append(options, option.WithHeader("HTTP-Referer", opts.SiteURL))
	}
	if opts.SiteName != "" {
		options = append(options, option.WithHeader("X-Title", opts.SiteName))
	}
	if opts.HTTPClient != nil {
		options = append(options, option.WithHTTPClient(opts.HTTPClient))
	}

	client := openai.NewClient(options...)
	return &OpenRouter{client: &client, model: model, maxTokens: maxTokens}, nil
}

// Name implements Provider.
func (o *OpenRouter) Name() domain.Provider { return domain.ProviderOpenRouter }

// Generate implements Provider.
func (o *OpenRouter) Generate(ctx context.Context, p Prompt, model string) (string, error) {
	if model == "" {
		model = o.model
	}
	var msgs []openai.ChatCompletionMessageParamUnion
	if p.System != "" {
		msgs = append(msgs, openai.SystemMessage(p.System))
	}
	msgs = append(msgs, openai.UserMessage(p.User))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages:  msgs,
		Model:     model,
		MaxTokens: openai.Int(o.maxTokens),
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openrouter returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

var _ Provider = (*OpenRouter)(nil)

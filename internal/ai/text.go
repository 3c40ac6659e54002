package ai

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tbourn/go-content-backend/internal/domain"
)

const (
	// titleFallbackRunes bounds titles derived from generated text.
	titleFallbackRunes = 50
	// maxTitleRunes bounds titles supplied by the model.
	maxTitleRunes = 200
)

// ExtractTitle derives a title from generated text: the text up to the
// first sentence terminator (. ! ?), trimmed, or the leading runes when
// that is empty. The result never exceeds 50 runes.
func ExtractTitle(content string) string {
	content = strings.TrimSpace(content)
	first := content
	if i := strings.IndexAny(content, ".!?"); i >= 0 {
		first = content[:i]
	}
	first = strings.TrimSpace(first)
	if first == "" {
		first = content
	}
	return strings.TrimSpace(clipRunes(first, titleFallbackRunes))
}

// ParseSentiment maps the model's answer onto a Sentiment by its first word,
// ignoring case, surrounding punctuation and a leading "Sentiment:" label.
// Hedged or negated answers ("Not positive") and anything unrecognised are
// neutral.
func ParseSentiment(answer string) domain.Sentiment {
	words := strings.Fields(strings.ToLower(answer))
	for i := range words {
		words[i] = strings.TrimFunc(words[i], func(r rune) bool { return !unicode.IsLetter(r) })
	}
	if len(words) > 1 && words[0] == "sentiment" {
		words = words[1:]
	}
	if len(words) == 0 {
		return domain.SentimentNeutral
	}
	switch domain.Sentiment(words[0]) {
	case domain.SentimentPositive:
		return domain.SentimentPositive
	case domain.SentimentNegative:
		return domain.SentimentNegative
	}
	return domain.SentimentNeutral
}

func clipRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// extractJSONFragment returns the outermost {...} object in raw, after
// stripping a Markdown code fence. It returns "" when there is none.
func extractJSONFragment(raw string) string {
	text := trimCodeFence(raw)
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(text[start : end+1])
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

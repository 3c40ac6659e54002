package ai

import (
	"fmt"
	"strings"

	"github.com/tbourn/go-content-backend/internal/domain"
)

// typeGoal is the one-line task per content type.
var typeGoal = map[domain.ContentType]string{
	domain.ContentTypeBlogPost:           "Write a comprehensive blog post",
	domain.ContentTypeProductDescription: "Write a compelling product description",
	domain.ContentTypeSocialMediaCaption: "Write an engaging social media caption",
	domain.ContentTypeArticle:            "Write a detailed article",
	domain.ContentTypeOther:              "Generate content",
}

// typeGuidance shapes the output format per content type.
var typeGuidance = map[domain.ContentType][]string{
	domain.ContentTypeBlogPost: {
		"Produce a complete blog post with headings and paragraphs.",
		"Keep the style friendly and easy to read.",
		"Move logically from introduction to conclusion with engaging subheadings.",
	},
	domain.ContentTypeArticle: {
		"Produce a thorough article with headings and paragraphs.",
		"Keep the style professional and informative.",
		"Support claims with explanations and move from introduction to conclusion.",
	},
	domain.ContentTypeProductDescription: {
		"Produce a concise, persuasive product description.",
		"Lead with the key features and benefits and the situations where they help.",
		"Keep it skimmable: short paragraphs or bullet points.",
	},
	domain.ContentTypeSocialMediaCaption: {
		"Produce a short caption of one to three sentences in the requested tone.",
		"You may finish with three to five relevant hashtags.",
		"Avoid long paragraphs.",
	},
	domain.ContentTypeOther: {
		"Produce clear, helpful content that follows the request closely.",
		"Keep it relevant and well structured.",
	},
}

const systemPrompt = `You are an AI content generator and title writer.
Answer with a single JSON object and nothing else:
{"content": "<the finished content>", "title": "<a short title for the thread>"}
The title is catchy, relevant to the overall topic, at most 10 words, and has no surrounding quotes.
The content contains only the final text, without commentary about how it was produced.`

// BuildPrompt renders the payload into a single prompt that asks for both
// the content and a thread title as JSON.
func BuildPrompt(p Payload) Prompt {
	tone := orDefault(p.Current.Tone, "neutral")
	lang := orDefault(p.Current.Language, "en")
	extra := orDefault(p.Current.ExtraInstructions, "None.")

	goal, ok := typeGoal[p.Type]
	if !ok {
		goal = typeGoal[domain.ContentTypeOther]
	}
	guidance, ok := typeGuidance[p.Type]
	if !ok {
		guidance = typeGuidance[domain.ContentTypeOther]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s based on the following: %s\n", goal, strings.TrimSpace(p.Current.Prompt))

	if len(p.History) > 0 {
		b.WriteString("\nEarlier prompts in this thread:\n")
		for i, h := range p.History {
			fmt.Fprintf(&b, "%d. %s\n", i+1, h.Prompt)
		}
		b.WriteString("Take this context into account for the new content.\n")
	}

	fmt.Fprintf(&b, "\n### Content Type\n%s\n", p.Type)
	fmt.Fprintf(&b, "\n### Previous Context\n%s\n", historyText(p.History))
	fmt.Fprintf(&b, "\n### Request Details\nTone: %s\nLanguage: %s\nExtra Instructions: %s\n", tone, lang, extra)

	b.WriteString("\n### Task\n")
	for _, line := range guidance {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteString("Treat earlier responses as reference only and do not repeat them.\n")

	return Prompt{
		System: systemPrompt,
		User:   strings.TrimSpace(b.String()),
		Format: FormatJSON,
	}
}

// SentimentPrompt asks the model to classify text with a single word.
func SentimentPrompt(text string) Prompt {
	return Prompt{
		System: "You classify the sentiment of text. Reply with exactly one word: positive, negative, or neutral.",
		User:   strings.TrimSpace(text),
		Format: FormatText,
	}
}

func historyText(h []Exchange) string {
	if len(h) == 0 {
		return "No previous context provided."
	}
	parts := make([]string, 0, len(h))
	for i, ex := range h {
		parts = append(parts, fmt.Sprintf("#%d Previous Prompt:\n%s\nPrevious Response:\n%s", i+1, ex.Prompt, ex.Response))
	}
	return strings.Join(parts, "\n\n")
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

package ai

import (
	"context"
	"strings"
)

const titleSystemPrompt = `Given the start of a document, produce a short
descriptive title of at most 8 words. Respond with the title only, no quotes
and no punctuation around it.`

const maxTitleWords = 8

// GenerateTitle asks the model for a short title for the document. Empty
// input short-circuits to "Untitled" without a model call, and overlong
// responses are clamped to the word limit.
func GenerateTitle(ctx context.Context, gen TextGenerator, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "Untitled", nil
	}
	// The opening pages are enough to name a document.
	if runes := []rune(text); len(runes) > 4000 {
		text = string(runes[:4000])
	}
	title, err := gen.GenerateText(ctx, titleSystemPrompt, text)
	if err != nil {
		return "", err
	}
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if title == "" {
		return "Untitled", nil
	}
	words := strings.Fields(title)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	return strings.Join(words, " "), nil
}

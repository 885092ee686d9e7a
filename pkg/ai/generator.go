package ai

import "context"

// TextGenerator generates text from a system prompt and user prompt.
// The summary, quiz, and title helpers are written against this interface so
// tests can substitute a canned generator.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

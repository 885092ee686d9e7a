package ai

import (
	"context"
	"fmt"
	"strings"
)

const summarySystemPrompt = `You are a medical educator preparing a study guide.
Summarize the given material into a structured study guide with markdown
headings, covering the key concepts, mechanisms, and clinically relevant
facts. Be thorough but do not invent content that is not in the material.`

const combineSummariesPrompt = `You are a medical educator preparing a study guide.
The following are study-guide summaries of consecutive sections of one
document. Merge them into a single coherent study guide with markdown
headings, removing repetition while keeping every distinct concept.`

// Summarizer produces study-guide summaries from extracted document text.
// Long documents are summarized chunk by chunk and the partial summaries are
// merged in a final pass.
type Summarizer struct {
	gen       TextGenerator
	chunkSize int
}

func NewSummarizer(gen TextGenerator, chunkSize int) *Summarizer {
	if chunkSize <= 0 {
		chunkSize = 24000
	}
	return &Summarizer{gen: gen, chunkSize: chunkSize}
}

// Summarize returns a study guide for the given text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("no text to summarize")
	}
	chunks := splitChunks(text, s.chunkSize)
	if len(chunks) == 1 {
		return s.gen.GenerateText(ctx, summarySystemPrompt, chunks[0])
	}

	partials := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		part, err := s.gen.GenerateText(ctx, summarySystemPrompt, chunk)
		if err != nil {
			return "", fmt.Errorf("summarize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, part)
	}
	return s.gen.GenerateText(ctx, combineSummariesPrompt, strings.Join(partials, "\n\n---\n\n"))
}

// splitChunks breaks text into pieces of at most size runes, preferring to
// split on paragraph boundaries.
func splitChunks(text string, size int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	var chunks []string
	for len(runes) > 0 {
		if len(runes) <= size {
			chunks = append(chunks, string(runes))
			break
		}
		cut := size
		for i := size; i > size/2; i-- {
			if runes[i-1] == '\n' {
				cut = i
				break
			}
		}
		chunks = append(chunks, string(runes[:cut]))
		runes = runes[cut:]
	}
	return chunks
}

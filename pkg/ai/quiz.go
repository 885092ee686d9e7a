package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"medstudy/pkg/domain"
	"medstudy/pkg/hashing"
)

const quizSystemPrompt = `You are a medical educator writing USMLE-style practice questions.
Given study material, produce exactly 5 multiple-choice questions as clinical vignettes.
Respond with ONLY a JSON array. Each element must have these fields:
  "id": a short string identifier,
  "text": the full clinical vignette and question,
  "options": an array of exactly 4 answer choices,
  "correctAnswer": the index (0-3) of the correct option,
  "reason": a concise explanation of why the correct answer is right.
Do not include any text outside the JSON array.`

const focusedQuizSystemPrompt = `You are a medical educator writing USMLE-style practice questions.
You are given a set of existing questions a student wants to drill deeper on.
Produce exactly 5 NEW multiple-choice clinical vignettes testing the same
concepts from different angles. Never repeat a given question verbatim.
Respond with ONLY a JSON array. Each element must have these fields:
  "id": a short string identifier,
  "text": the full clinical vignette and question,
  "options": an array of exactly 4 answer choices,
  "correctAnswer": the index (0-3) of the correct option,
  "reason": a concise explanation of why the correct answer is right.
Do not include any text outside the JSON array.`

// RetryPolicy bounds how hard the quiz generator retries a model that keeps
// returning unparseable output.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// QuizGenerator turns study material into multiple-choice questions.
type QuizGenerator struct {
	gen   TextGenerator
	retry RetryPolicy
}

func NewQuizGenerator(gen TextGenerator, retry RetryPolicy) *QuizGenerator {
	if retry.Attempts <= 0 {
		retry.Attempts = 3
	}
	return &QuizGenerator{gen: gen, retry: retry}
}

type rawQuizQuestion struct {
	ID            string   `json:"id"`
	Text          string   `json:"text"`
	Options       []string `json:"options"`
	CorrectAnswer int      `json:"correctAnswer"`
	Reason        string   `json:"reason"`
}

// GenerateQuestions produces a batch of questions from source text. The
// question hash is computed over the vignette text before answer choices are
// shuffled, so a regenerated question with the same text keeps its identity.
func (q *QuizGenerator) GenerateQuestions(ctx context.Context, sourceText, userID string) ([]domain.Question, error) {
	userPrompt := "Study material:\n\n" + sourceText
	return q.generate(ctx, quizSystemPrompt, userPrompt, userID)
}

// GenerateFocusedQuestions produces new questions drilling into the concepts
// behind an existing set of questions.
func (q *QuizGenerator) GenerateFocusedQuestions(ctx context.Context, seeds []domain.Question, userID string) ([]domain.Question, error) {
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no seed questions")
	}
	var b strings.Builder
	b.WriteString("Existing questions:\n\n")
	for i, s := range seeds {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Text)
	}
	return q.generate(ctx, focusedQuizSystemPrompt, b.String(), userID)
}

func (q *QuizGenerator) generate(ctx context.Context, systemPrompt, userPrompt, userID string) ([]domain.Question, error) {
	var lastErr error
	for attempt := 0; attempt < q.retry.Attempts; attempt++ {
		if attempt > 0 && q.retry.Backoff > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(q.retry.Backoff):
			}
		}
		raw, err := q.gen.GenerateText(ctx, systemPrompt, userPrompt)
		if err != nil {
			lastErr = err
			continue
		}
		parsed, err := parseQuizResponse(raw)
		if err != nil {
			lastErr = err
			continue
		}
		return buildQuestions(parsed, userID), nil
	}
	return nil, fmt.Errorf("quiz generation failed after %d attempts: %w", q.retry.Attempts, lastErr)
}

func parseQuizResponse(raw string) ([]rawQuizQuestion, error) {
	cleaned := stripCodeFence(raw)
	var parsed []rawQuizQuestion
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("parse quiz response: %w", err)
	}
	if len(parsed) == 0 {
		return nil, fmt.Errorf("quiz response contained no questions")
	}
	for i, question := range parsed {
		if strings.TrimSpace(question.Text) == "" {
			return nil, fmt.Errorf("question %d has empty text", i)
		}
		if len(question.Options) != 4 {
			return nil, fmt.Errorf("question %d has %d options, want 4", i, len(question.Options))
		}
		if question.CorrectAnswer < 0 || question.CorrectAnswer > 3 {
			return nil, fmt.Errorf("question %d has correctAnswer %d out of range", i, question.CorrectAnswer)
		}
	}
	return parsed, nil
}

func buildQuestions(parsed []rawQuizQuestion, userID string) []domain.Question {
	now := time.Now().UTC()
	questions := make([]domain.Question, 0, len(parsed))
	for _, raw := range parsed {
		q := domain.Question{
			Hash:          hashing.QuestionHash(raw.Text, userID),
			UserID:        userID,
			ID:            uuid.NewString(),
			Text:          raw.Text,
			Options:       append([]string(nil), raw.Options...),
			CorrectAnswer: raw.CorrectAnswer,
			Reason:        raw.Reason,
			CreatedAt:     now,
		}
		RandomizeAnswerChoices(&q)
		questions = append(questions, q)
	}
	return questions
}

// RandomizeAnswerChoices shuffles a question's options in place and moves the
// correct-answer index along with them.
func RandomizeAnswerChoices(q *domain.Question) {
	order := rand.Perm(len(q.Options))
	shuffled := make([]string, len(q.Options))
	newCorrect := q.CorrectAnswer
	for newIdx, oldIdx := range order {
		shuffled[newIdx] = q.Options[oldIdx]
		if oldIdx == q.CorrectAnswer {
			newCorrect = newIdx
		}
	}
	q.Options = shuffled
	q.CorrectAnswer = newCorrect
}

// stripCodeFence removes a surrounding markdown code fence, with or without a
// language tag, from model output.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		firstLine := strings.TrimSpace(s[:idx])
		if firstLine == "" || isFenceTag(firstLine) {
			s = s[idx+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func isFenceTag(s string) bool {
	for _, r := range s {
		if !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9') {
			return false
		}
	}
	return true
}

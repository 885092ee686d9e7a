package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"medstudy/pkg/domain"
	"medstudy/pkg/hashing"
)

// fakeGenerator returns scripted responses in order, then repeats the last.
type fakeGenerator struct {
	responses []string
	errs      []error
	calls     int
	prompts   []string
}

func (f *fakeGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	idx := f.calls
	f.calls++
	f.prompts = append(f.prompts, userPrompt)
	if idx < len(f.errs) && f.errs[idx] != nil {
		return "", f.errs[idx]
	}
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	if idx < 0 {
		return "", errors.New("no scripted response")
	}
	return f.responses[idx], nil
}

func validQuizJSON(n int) string {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"id":"q%d","text":"A 54-year-old presents with vignette %d. What is the diagnosis?","options":["A","B","C","D"],"correctAnswer":%d,"reason":"because"}`, i, i, i%4)
	}
	b.WriteString("]")
	return b.String()
}

func TestGenerateQuestionsParsesFencedJSON(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"```json\n" + validQuizJSON(5) + "\n```"}}
	qg := NewQuizGenerator(gen, RetryPolicy{Attempts: 1})

	questions, err := qg.GenerateQuestions(context.Background(), "material", "user-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(questions) != 5 {
		t.Fatalf("got %d questions, want 5", len(questions))
	}
	for _, q := range questions {
		if q.UserID != "user-1" {
			t.Fatalf("user id not set: %+v", q)
		}
		if q.ID == "" {
			t.Fatalf("display id not set: %+v", q)
		}
		if len(q.Options) != 4 {
			t.Fatalf("options = %v", q.Options)
		}
		if q.Hash != hashing.QuestionHash(q.Text, "user-1") {
			t.Fatalf("hash must be derived from vignette text and user, got %s", q.Hash)
		}
	}
}

func TestGenerateQuestionsRetriesOnBadOutput(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		"this is not json",
		`[{"id":"q0","text":"x","options":["A","B"],"correctAnswer":0,"reason":"r"}]`,
		validQuizJSON(5),
	}}
	qg := NewQuizGenerator(gen, RetryPolicy{Attempts: 3})

	questions, err := qg.GenerateQuestions(context.Background(), "material", "user-1")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if gen.calls != 3 {
		t.Fatalf("calls = %d, want 3", gen.calls)
	}
	if len(questions) != 5 {
		t.Fatalf("got %d questions, want 5", len(questions))
	}
}

func TestGenerateQuestionsExhaustsRetries(t *testing.T) {
	gen := &fakeGenerator{responses: []string{"garbage"}}
	qg := NewQuizGenerator(gen, RetryPolicy{Attempts: 3})

	_, err := qg.GenerateQuestions(context.Background(), "material", "user-1")
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if gen.calls != 3 {
		t.Fatalf("calls = %d, want 3", gen.calls)
	}
}

func TestGenerateQuestionsRejectsOutOfRangeAnswer(t *testing.T) {
	gen := &fakeGenerator{responses: []string{
		`[{"id":"q0","text":"x","options":["A","B","C","D"],"correctAnswer":4,"reason":"r"}]`,
	}}
	qg := NewQuizGenerator(gen, RetryPolicy{Attempts: 1})

	if _, err := qg.GenerateQuestions(context.Background(), "material", "user-1"); err == nil {
		t.Fatal("expected validation error for correctAnswer out of range")
	}
}

func TestGenerateFocusedQuestionsIncludesSeeds(t *testing.T) {
	gen := &fakeGenerator{responses: []string{validQuizJSON(5)}}
	qg := NewQuizGenerator(gen, RetryPolicy{Attempts: 1})

	seeds := []domain.Question{{Text: "What causes aortic stenosis?"}}
	if _, err := qg.GenerateFocusedQuestions(context.Background(), seeds, "user-1"); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(gen.prompts) != 1 || !strings.Contains(gen.prompts[0], "aortic stenosis") {
		t.Fatalf("seed questions missing from prompt: %q", gen.prompts)
	}

	if _, err := qg.GenerateFocusedQuestions(context.Background(), nil, "user-1"); err == nil {
		t.Fatal("expected error for empty seed set")
	}
}

func TestRandomizeAnswerChoicesTracksCorrectIndex(t *testing.T) {
	for i := 0; i < 50; i++ {
		q := domain.Question{
			Options:       []string{"right", "w1", "w2", "w3"},
			CorrectAnswer: 0,
		}
		RandomizeAnswerChoices(&q)
		if len(q.Options) != 4 {
			t.Fatalf("options lost: %v", q.Options)
		}
		if q.Options[q.CorrectAnswer] != "right" {
			t.Fatalf("correct index does not follow shuffle: %v idx=%d", q.Options, q.CorrectAnswer)
		}
	}
}

func TestStripCodeFence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"[1]", "[1]"},
		{"```json\n[1]\n```", "[1]"},
		{"```\n[1]\n```", "[1]"},
		{"  ```json\n[1]\n```  ", "[1]"},
	}
	for _, c := range cases {
		if got := stripCodeFence(c.in); got != c.want {
			t.Fatalf("stripCodeFence(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

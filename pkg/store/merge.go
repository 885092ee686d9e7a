package store

import (
	"errors"
	"strings"
	"time"

	"medstudy/pkg/domain"
)

var (
	// ErrInitialSetIncomplete is returned when the merge engine is asked to
	// create a brand-new question set without the full text and short title
	// that first creation requires.
	ErrInitialSetIncomplete = errors.New("creating a question set requires full text and short title")
)

// dedupeHashes keeps first occurrence order while dropping repeats.
func dedupeHashes(hashes []string) []string {
	out := make([]string, 0, len(hashes))
	seen := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// newQuestionSet builds the insert-branch record. FullText and ShortTitle are
// a caller contract on first creation.
func newQuestionSet(p UpsertQuestionSetParams, now time.Time) (domain.QuestionSet, error) {
	if strings.TrimSpace(p.FullText) == "" || strings.TrimSpace(p.ShortTitle) == "" {
		return domain.QuestionSet{}, ErrInitialSetIncomplete
	}
	return domain.QuestionSet{
		ContentHash:      p.ContentHash,
		OtherContentHash: p.OtherContentHash,
		UserID:           p.UserID,
		QuestionHashes:   dedupeHashes(p.QuestionHashes),
		ContentNames:     append([]string(nil), p.ContentNames...),
		FullText:         p.FullText,
		ShortTitle:       p.ShortTitle,
		Summary:          p.Summary,
		QuizMode:         p.QuizMode,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// mergeQuestionSet reconciles one new generation batch into an existing set:
// question hashes are unioned (existing order kept, unseen hashes appended),
// content names survive unless a non-empty replacement is supplied, text
// fields only overwrite when non-empty, the mode flag is last-write-wins, and
// the timestamp is refreshed. The result is written back in a single write so
// a storage fault leaves no partial state.
func mergeQuestionSet(existing domain.QuestionSet, p UpsertQuestionSetParams, now time.Time) domain.QuestionSet {
	merged := existing

	union := dedupeHashes(existing.QuestionHashes)
	seen := make(map[string]struct{}, len(union))
	for _, h := range union {
		seen[h] = struct{}{}
	}
	for _, h := range dedupeHashes(p.QuestionHashes) {
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		union = append(union, h)
	}
	merged.QuestionHashes = union

	if len(p.ContentNames) > 0 {
		merged.ContentNames = append([]string(nil), p.ContentNames...)
	}
	if strings.TrimSpace(p.FullText) != "" {
		merged.FullText = p.FullText
	}
	if strings.TrimSpace(p.ShortTitle) != "" {
		merged.ShortTitle = p.ShortTitle
	}
	if strings.TrimSpace(p.Summary) != "" {
		merged.Summary = p.Summary
	}
	if strings.TrimSpace(p.OtherContentHash) != "" {
		merged.OtherContentHash = p.OtherContentHash
	}
	merged.QuizMode = p.QuizMode
	merged.UpdatedAt = now
	return merged
}

// maskedExistence applies the untitled-masking policy: a record whose short
// title is still empty or the fallback sentinel never finished background
// processing and is reported as absent, so callers re-process instead of
// serving a half-done file.
func maskedExistence(rec domain.FileRecord, found bool) FileExistence {
	if !found {
		return FileExistence{}
	}
	ex := FileExistence{Found: true, Record: rec}
	title := strings.TrimSpace(rec.ShortTitle)
	if title != "" && title != domain.UntitledTitle {
		ex.Exists = true
	}
	return ex
}

func mergeKey(contentHash, userID string) string {
	return contentHash + "|" + userID
}

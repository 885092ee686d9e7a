package store

import (
	"fmt"
	"sync"
	"time"

	"medstudy/pkg/domain"
)

// MemoryStore keeps all state in-process. It backs handler and merge-engine
// tests and implements the same contract as GormStore.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]domain.User
	email     map[string]string // email -> user ID
	files     map[string]domain.FileRecord
	links     map[string]map[string]time.Time // userID -> fileHash -> linkedAt
	linkOrder map[string][]string             // userID -> hashes in link order
	sets      map[string]domain.QuestionSet   // mergeKey -> set
	questions map[string]domain.Question
	feedback  []domain.Feedback
	merges    *keyedMutex
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[string]domain.User),
		email:     make(map[string]string),
		files:     make(map[string]domain.FileRecord),
		links:     make(map[string]map[string]time.Time),
		linkOrder: make(map[string][]string),
		sets:      make(map[string]domain.QuestionSet),
		questions: make(map[string]domain.Question),
		merges:    newKeyedMutex(),
	}
}

// CreateUser registers a new user; duplicate emails are rejected.
func (m *MemoryStore) CreateUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.email[u.Email]; exists {
		return fmt.Errorf("create user: email already registered")
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveFile stores or refreshes a file record without clearing extracted text.
func (m *MemoryStore) SaveFile(f domain.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.files[f.FileHash]; ok {
		existing.Filename = f.Filename
		existing.Bucket = f.Bucket
		existing.StoragePath = f.StoragePath
		existing.UpdatedAt = f.UpdatedAt
		m.files[f.FileHash] = existing
		return nil
	}
	m.files[f.FileHash] = f
	return nil
}

// GetFile retrieves a file record.
func (m *MemoryStore) GetFile(fileHash string) (domain.FileRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[fileHash]
	return f, ok, nil
}

// FileExists applies the untitled-masking policy over GetFile.
func (m *MemoryStore) FileExists(fileHash string) (FileExistence, error) {
	rec, found, err := m.GetFile(fileHash)
	if err != nil {
		return FileExistence{}, err
	}
	return maskedExistence(rec, found), nil
}

// SetFileText writes extracted text and title; missing record is an error.
func (m *MemoryStore) SetFileText(fileHash, text, shortTitle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[fileHash]
	if !ok {
		return fmt.Errorf("set file text: no record for hash %s", fileHash)
	}
	f.Text = text
	f.ShortTitle = shortTitle
	f.UpdatedAt = time.Now().UTC()
	m.files[fileHash] = f
	return nil
}

// GetFileTexts returns extracted text per requested hash.
func (m *MemoryStore) GetFileTexts(fileHashes []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(fileHashes))
	for _, h := range fileHashes {
		if f, ok := m.files[h]; ok {
			out[h] = f.Text
		}
	}
	return out, nil
}

// LinkFileToUser appends or refreshes a user-file link.
func (m *MemoryStore) LinkFileToUser(userID, fileHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[userID]; !ok {
		return fmt.Errorf("link file: user %s not found", userID)
	}
	byHash, ok := m.links[userID]
	if !ok {
		byHash = make(map[string]time.Time)
		m.links[userID] = byHash
	}
	if _, linked := byHash[fileHash]; !linked {
		m.linkOrder[userID] = append(m.linkOrder[userID], fileHash)
	}
	byHash[fileHash] = time.Now().UTC()
	return nil
}

// UnlinkFilesFromUser removes links; file records stay.
func (m *MemoryStore) UnlinkFilesFromUser(userID string, fileHashes []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byHash := m.links[userID]
	drop := make(map[string]struct{}, len(fileHashes))
	for _, h := range fileHashes {
		drop[h] = struct{}{}
		delete(byHash, h)
	}
	kept := m.linkOrder[userID][:0]
	for _, h := range m.linkOrder[userID] {
		if _, gone := drop[h]; !gone {
			kept = append(kept, h)
		}
	}
	m.linkOrder[userID] = kept
	return nil
}

// ListUserFiles returns linked files in link order.
func (m *MemoryStore) ListUserFiles(userID string) ([]domain.UserFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byHash := m.links[userID]
	out := make([]domain.UserFile, 0, len(byHash))
	for _, h := range m.linkOrder[userID] {
		linkedAt, ok := byHash[h]
		if !ok {
			continue
		}
		f := m.files[h]
		out = append(out, domain.UserFile{
			UserID:     userID,
			FileHash:   h,
			Filename:   f.Filename,
			ShortTitle: f.ShortTitle,
			LinkedAt:   linkedAt,
		})
	}
	return out, nil
}

// UpsertQuestionSet runs the merge engine against the in-memory map.
func (m *MemoryStore) UpsertQuestionSet(p UpsertQuestionSetParams) (MergeOutcome, error) {
	unlock := m.merges.Lock(mergeKey(p.ContentHash, p.UserID))
	defer unlock()

	now := time.Now().UTC()
	key := mergeKey(p.ContentHash, p.UserID)

	m.mu.RLock()
	existing, found := m.sets[key]
	m.mu.RUnlock()

	var merged domain.QuestionSet
	outcome := OutcomeAppended
	if !found {
		var err error
		merged, err = newQuestionSet(p, now)
		if err != nil {
			return "", err
		}
		outcome = OutcomeInserted
	} else {
		merged = mergeQuestionSet(existing, p, now)
	}

	m.mu.Lock()
	m.sets[key] = merged
	m.mu.Unlock()
	return outcome, nil
}

// QuestionSetExists reports presence and question count.
func (m *MemoryStore) QuestionSetExists(contentHash, userID string) (bool, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.sets[mergeKey(contentHash, userID)]
	if !ok {
		return false, 0, nil
	}
	return true, len(set.QuestionHashes), nil
}

// GetQuestionSet retrieves one set.
func (m *MemoryStore) GetQuestionSet(contentHash, userID string) (domain.QuestionSet, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.sets[mergeKey(contentHash, userID)]
	return set, ok, nil
}

// ListQuestionSets returns the user's sets, most recently touched first.
func (m *MemoryStore) ListQuestionSets(userID string) ([]domain.QuestionSet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.QuestionSet, 0)
	for _, set := range m.sets {
		if set.UserID == userID {
			out = append(out, set)
		}
	}
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].UpdatedAt.After(out[i].UpdatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

// TouchQuestionSet refreshes the set's timestamp; absent sets are a no-op.
func (m *MemoryStore) TouchQuestionSet(contentHash, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mergeKey(contentHash, userID)
	set, ok := m.sets[key]
	if !ok {
		return nil
	}
	set.UpdatedAt = time.Now().UTC()
	m.sets[key] = set
	return nil
}

// UpdateQuestionSetTitle renames a set.
func (m *MemoryStore) UpdateQuestionSetTitle(contentHash, userID, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := mergeKey(contentHash, userID)
	set, ok := m.sets[key]
	if !ok {
		return fmt.Errorf("update title: question set not found")
	}
	set.ShortTitle = title
	set.UpdatedAt = time.Now().UTC()
	m.sets[key] = set
	return nil
}

// DeleteQuestionsFromSet drops hashes from the set and their question rows.
func (m *MemoryStore) DeleteQuestionsFromSet(contentHash, userID string, questionHashes []string) error {
	if len(questionHashes) == 0 {
		return nil
	}
	unlock := m.merges.Lock(mergeKey(contentHash, userID))
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	key := mergeKey(contentHash, userID)
	set, ok := m.sets[key]
	if !ok {
		return fmt.Errorf("delete questions: question set not found")
	}
	drop := make(map[string]struct{}, len(questionHashes))
	for _, h := range questionHashes {
		drop[h] = struct{}{}
		delete(m.questions, h)
	}
	kept := make([]string, 0, len(set.QuestionHashes))
	for _, h := range set.QuestionHashes {
		if _, gone := drop[h]; !gone {
			kept = append(kept, h)
		}
	}
	set.QuestionHashes = kept
	set.UpdatedAt = time.Now().UTC()
	m.sets[key] = set
	return nil
}

// DeleteQuestionSet removes a set and, unconditionally, every question row it
// references (matching the source system; see DESIGN.md).
func (m *MemoryStore) DeleteQuestionSet(contentHash, userID string) error {
	unlock := m.merges.Lock(mergeKey(contentHash, userID))
	defer unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	key := mergeKey(contentHash, userID)
	set, ok := m.sets[key]
	if !ok {
		return fmt.Errorf("delete question set: not found")
	}
	for _, h := range set.QuestionHashes {
		delete(m.questions, h)
	}
	delete(m.sets, key)
	return nil
}

// SaveQuestions upserts a batch, preserving starred flags on existing rows.
func (m *MemoryStore) SaveQuestions(questions []domain.Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range questions {
		if existing, ok := m.questions[q.Hash]; ok {
			q.Starred = existing.Starred
			q.CreatedAt = existing.CreatedAt
		}
		if q.CreatedAt.IsZero() {
			q.CreatedAt = time.Now().UTC()
		}
		m.questions[q.Hash] = q
	}
	return nil
}

// GetQuestionsByHashes returns questions in requested-hash order.
func (m *MemoryStore) GetQuestionsByHashes(questionHashes []string) ([]domain.Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Question, 0, len(questionHashes))
	for _, h := range questionHashes {
		if q, ok := m.questions[h]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// SetQuestionStarred toggles one starred flag.
func (m *MemoryStore) SetQuestionStarred(questionHash string, starred bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[questionHash]
	if !ok {
		return fmt.Errorf("star question: not found")
	}
	q.Starred = starred
	m.questions[questionHash] = q
	return nil
}

// StarQuestionsByHashes bulk-updates starred flags.
func (m *MemoryStore) StarQuestionsByHashes(questionHashes []string, starred bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range questionHashes {
		if q, ok := m.questions[h]; ok {
			q.Starred = starred
			m.questions[h] = q
		}
	}
	return nil
}

// SaveFeedback records a feedback submission.
func (m *MemoryStore) SaveFeedback(f domain.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, f)
	return nil
}

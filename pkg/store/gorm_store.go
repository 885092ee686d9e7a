package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	"medstudy/pkg/domain"
)

const migrateLockID int64 = 52915291

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db     *gorm.DB
	merges *keyedMutex
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrently starting processes do not race the schema.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&UserModel{},
			&PdfModel{},
			&UserPdfModel{},
			&QuestionSetModel{},
			&QuestionModel{},
			&FeedbackModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db, merges: newKeyedMutex()}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// CreateUser registers a new user.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	if err := s.db.Create(&model).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(email string) (bool, error) {
	var count int64
	if err := s.db.Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.Where("email = ?", email).First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// SaveFile stores or updates a file record keyed by content hash. Re-saving
// the same hash refreshes metadata but never clears extracted text.
func (s *GormStore) SaveFile(f domain.FileRecord) error {
	model := fileToModel(f)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "file_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"filename", "bucket_name", "storage_path", "updated_at"}),
	}).Create(&model).Error
}

// GetFile retrieves a file record by hash.
func (s *GormStore) GetFile(fileHash string) (domain.FileRecord, bool, error) {
	var model PdfModel
	if err := s.db.First(&model, "file_hash = ?", fileHash).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.FileRecord{}, false, nil
		}
		return domain.FileRecord{}, false, err
	}
	return fileFromModel(model), true, nil
}

// FileExists answers the dedup question for a file hash, applying the
// untitled-masking policy.
func (s *GormStore) FileExists(fileHash string) (FileExistence, error) {
	rec, found, err := s.GetFile(fileHash)
	if err != nil {
		return FileExistence{}, err
	}
	return maskedExistence(rec, found), nil
}

// SetFileText writes extracted text and title to an existing file record.
// A missing record is an error, not a no-op: the pipeline must never
// "succeed" against a row that was deleted underneath it.
func (s *GormStore) SetFileText(fileHash, text, shortTitle string) error {
	res := s.db.Model(&PdfModel{}).
		Where("file_hash = ?", fileHash).
		Updates(map[string]any{
			"text":        text,
			"short_title": shortTitle,
			"updated_at":  time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("set file text: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("set file text: no record for hash %s", fileHash)
	}
	return nil
}

// GetFileTexts returns extracted text per hash for the requested hashes.
func (s *GormStore) GetFileTexts(fileHashes []string) (map[string]string, error) {
	out := make(map[string]string, len(fileHashes))
	if len(fileHashes) == 0 {
		return out, nil
	}
	var models []PdfModel
	if err := s.db.Where("file_hash IN ?", fileHashes).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.FileHash] = m.Text
	}
	return out, nil
}

// LinkFileToUser associates a file hash with a user; re-linking refreshes the
// timestamp. A missing user is an error.
func (s *GormStore) LinkFileToUser(userID, fileHash string) error {
	if _, ok, err := s.GetUserByID(userID); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("link file: user %s not found", userID)
	}
	model := UserPdfModel{UserID: userID, FileHash: fileHash, LinkedAt: time.Now().UTC()}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "file_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"linked_at"}),
	}).Create(&model).Error
}

// UnlinkFilesFromUser removes per-user links; the file records themselves stay.
func (s *GormStore) UnlinkFilesFromUser(userID string, fileHashes []string) error {
	if len(fileHashes) == 0 {
		return nil
	}
	return s.db.Delete(&UserPdfModel{}, "user_id = ? AND file_hash IN ?", userID, fileHashes).Error
}

// ListUserFiles returns the user's linked files, most recently linked first.
func (s *GormStore) ListUserFiles(userID string) ([]domain.UserFile, error) {
	var links []UserPdfModel
	if err := s.db.Where("user_id = ?", userID).Order("linked_at DESC").Find(&links).Error; err != nil {
		return nil, err
	}
	if len(links) == 0 {
		return []domain.UserFile{}, nil
	}
	hashes := make([]string, 0, len(links))
	for _, l := range links {
		hashes = append(hashes, l.FileHash)
	}
	var pdfs []PdfModel
	if err := s.db.Where("file_hash IN ?", hashes).Find(&pdfs).Error; err != nil {
		return nil, err
	}
	byHash := make(map[string]PdfModel, len(pdfs))
	for _, p := range pdfs {
		byHash[p.FileHash] = p
	}
	out := make([]domain.UserFile, 0, len(links))
	for _, l := range links {
		p := byHash[l.FileHash]
		out = append(out, domain.UserFile{
			UserID:     l.UserID,
			FileHash:   l.FileHash,
			Filename:   p.Filename,
			ShortTitle: p.ShortTitle,
			LinkedAt:   l.LinkedAt,
		})
	}
	return out, nil
}

// UpsertQuestionSet runs the merge engine: create on first sight, union-append
// afterwards. The read-merge-write sequence is serialized per
// (content hash, user) key; the merged record lands in one write.
func (s *GormStore) UpsertQuestionSet(p UpsertQuestionSetParams) (MergeOutcome, error) {
	unlock := s.merges.Lock(mergeKey(p.ContentHash, p.UserID))
	defer unlock()

	now := time.Now().UTC()
	existing, found, err := s.GetQuestionSet(p.ContentHash, p.UserID)
	if err != nil {
		return "", fmt.Errorf("upsert question set: %w", err)
	}

	var merged domain.QuestionSet
	outcome := OutcomeAppended
	if !found {
		merged, err = newQuestionSet(p, now)
		if err != nil {
			return "", err
		}
		outcome = OutcomeInserted
	} else {
		merged = mergeQuestionSet(existing, p, now)
	}

	model, err := questionSetToModel(merged)
	if err != nil {
		return "", fmt.Errorf("encode question set: %w", err)
	}
	if err := s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "content_hash"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"other_content_hash", "question_hashes", "content_names",
			"full_text", "short_title", "summary", "quiz_mode", "updated_at",
		}),
	}).Create(&model).Error; err != nil {
		return "", fmt.Errorf("write question set: %w", err)
	}
	return outcome, nil
}

// QuestionSetExists reports presence and accumulated question count.
func (s *GormStore) QuestionSetExists(contentHash, userID string) (bool, int, error) {
	set, found, err := s.GetQuestionSet(contentHash, userID)
	if err != nil {
		return false, 0, err
	}
	if !found {
		return false, 0, nil
	}
	return true, len(set.QuestionHashes), nil
}

// GetQuestionSet retrieves one set.
func (s *GormStore) GetQuestionSet(contentHash, userID string) (domain.QuestionSet, bool, error) {
	var model QuestionSetModel
	err := s.db.First(&model, "content_hash = ? AND user_id = ?", contentHash, userID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.QuestionSet{}, false, nil
		}
		return domain.QuestionSet{}, false, err
	}
	set, err := questionSetFromModel(model)
	if err != nil {
		return domain.QuestionSet{}, false, fmt.Errorf("decode question set: %w", err)
	}
	return set, true, nil
}

// ListQuestionSets returns the user's sets, most recently touched first.
func (s *GormStore) ListQuestionSets(userID string) ([]domain.QuestionSet, error) {
	var models []QuestionSetModel
	if err := s.db.Where("user_id = ?", userID).Order("updated_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]domain.QuestionSet, 0, len(models))
	for _, m := range models {
		set, err := questionSetFromModel(m)
		if err != nil {
			return nil, fmt.Errorf("decode question set: %w", err)
		}
		out = append(out, set)
	}
	return out, nil
}

// TouchQuestionSet refreshes a set's last-modified timestamp. Touching an
// absent set is a no-op: it is a freshness signal, not a write of record.
func (s *GormStore) TouchQuestionSet(contentHash, userID string) error {
	return s.db.Model(&QuestionSetModel{}).
		Where("content_hash = ? AND user_id = ?", contentHash, userID).
		Update("updated_at", time.Now().UTC()).Error
}

// UpdateQuestionSetTitle renames a set.
func (s *GormStore) UpdateQuestionSetTitle(contentHash, userID, title string) error {
	res := s.db.Model(&QuestionSetModel{}).
		Where("content_hash = ? AND user_id = ?", contentHash, userID).
		Updates(map[string]any{"short_title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update title: question set not found")
	}
	return nil
}

// DeleteQuestionsFromSet removes specific hashes from a set and deletes those
// question rows. The list rewrite goes through the same per-key lock as the
// merge engine so it cannot interleave with a concurrent append.
func (s *GormStore) DeleteQuestionsFromSet(contentHash, userID string, questionHashes []string) error {
	if len(questionHashes) == 0 {
		return nil
	}
	unlock := s.merges.Lock(mergeKey(contentHash, userID))
	defer unlock()

	set, found, err := s.GetQuestionSet(contentHash, userID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("delete questions: question set not found")
	}
	drop := make(map[string]struct{}, len(questionHashes))
	for _, h := range questionHashes {
		drop[h] = struct{}{}
	}
	kept := make([]string, 0, len(set.QuestionHashes))
	for _, h := range set.QuestionHashes {
		if _, gone := drop[h]; !gone {
			kept = append(kept, h)
		}
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&QuestionSetModel{}).
			Where("content_hash = ? AND user_id = ?", contentHash, userID).
			Updates(map[string]any{"question_hashes": raw, "updated_at": time.Now().UTC()}).Error; err != nil {
			return err
		}
		return tx.Delete(&QuestionModel{}, "hash IN ?", questionHashes).Error
	})
}

// DeleteQuestionSet removes a set and every question row it references.
// The cascade is unconditional: hashes shared with the paired other-mode set
// are deleted too, matching the source system (see DESIGN.md).
func (s *GormStore) DeleteQuestionSet(contentHash, userID string) error {
	unlock := s.merges.Lock(mergeKey(contentHash, userID))
	defer unlock()

	set, found, err := s.GetQuestionSet(contentHash, userID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("delete question set: not found")
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if len(set.QuestionHashes) > 0 {
			if err := tx.Delete(&QuestionModel{}, "hash IN ?", set.QuestionHashes).Error; err != nil {
				return err
			}
		}
		return tx.Delete(&QuestionSetModel{}, "content_hash = ? AND user_id = ?", contentHash, userID).Error
	})
}

// SaveQuestions upserts a generation batch keyed by question hash.
// Regenerating an identical question overwrites its payload but never resets
// the starred flag the user set on the earlier copy.
func (s *GormStore) SaveQuestions(questions []domain.Question) error {
	if len(questions) == 0 {
		return nil
	}
	models := make([]QuestionModel, 0, len(questions))
	for _, q := range questions {
		model, err := questionToModel(q)
		if err != nil {
			return fmt.Errorf("encode question: %w", err)
		}
		models = append(models, model)
	}
	return s.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "hash"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"display_id", "text", "options", "correct_answer", "reason", "updated_at",
		}),
	}).CreateInBatches(&models, 50).Error
}

// GetQuestionsByHashes returns questions in the order of the requested hashes.
func (s *GormStore) GetQuestionsByHashes(questionHashes []string) ([]domain.Question, error) {
	if len(questionHashes) == 0 {
		return []domain.Question{}, nil
	}
	var models []QuestionModel
	if err := s.db.Where("hash IN ?", questionHashes).Find(&models).Error; err != nil {
		return nil, err
	}
	byHash := make(map[string]QuestionModel, len(models))
	for _, m := range models {
		byHash[m.Hash] = m
	}
	out := make([]domain.Question, 0, len(models))
	for _, h := range questionHashes {
		m, ok := byHash[h]
		if !ok {
			continue
		}
		q, err := questionFromModel(m)
		if err != nil {
			return nil, fmt.Errorf("decode question: %w", err)
		}
		out = append(out, q)
	}
	return out, nil
}

// SetQuestionStarred toggles one question's starred flag.
func (s *GormStore) SetQuestionStarred(questionHash string, starred bool) error {
	res := s.db.Model(&QuestionModel{}).
		Where("hash = ?", questionHash).
		Updates(map[string]any{"starred": starred, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("star question: not found")
	}
	return nil
}

// StarQuestionsByHashes bulk-updates starred flags.
func (s *GormStore) StarQuestionsByHashes(questionHashes []string, starred bool) error {
	if len(questionHashes) == 0 {
		return nil
	}
	return s.db.Model(&QuestionModel{}).
		Where("hash IN ?", questionHashes).
		Updates(map[string]any{"starred": starred, "updated_at": time.Now().UTC()}).Error
}

// SaveFeedback records a feedback submission.
func (s *GormStore) SaveFeedback(f domain.Feedback) error {
	model := FeedbackModel{ID: f.ID, UserID: f.UserID, Text: f.Text, CreatedAt: f.CreatedAt}
	return s.db.Create(&model).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:        u.ID,
		Email:     u.Email,
		Password:  u.Password,
		Name:      u.Name,
		UserLevel: u.UserLevel,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:        m.ID,
		Email:     m.Email,
		Password:  m.Password,
		Name:      m.Name,
		UserLevel: m.UserLevel,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func fileToModel(f domain.FileRecord) PdfModel {
	return PdfModel{
		FileHash:    f.FileHash,
		Filename:    f.Filename,
		BucketName:  f.Bucket,
		StoragePath: f.StoragePath,
		Text:        f.Text,
		ShortTitle:  f.ShortTitle,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

func fileFromModel(m PdfModel) domain.FileRecord {
	return domain.FileRecord{
		FileHash:    m.FileHash,
		Filename:    m.Filename,
		Bucket:      m.BucketName,
		StoragePath: m.StoragePath,
		Text:        m.Text,
		ShortTitle:  m.ShortTitle,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func questionSetToModel(set domain.QuestionSet) (QuestionSetModel, error) {
	hashes, err := json.Marshal(set.QuestionHashes)
	if err != nil {
		return QuestionSetModel{}, err
	}
	names, err := json.Marshal(set.ContentNames)
	if err != nil {
		return QuestionSetModel{}, err
	}
	return QuestionSetModel{
		ContentHash:      set.ContentHash,
		UserID:           set.UserID,
		OtherContentHash: set.OtherContentHash,
		QuestionHashes:   hashes,
		ContentNames:     names,
		FullText:         set.FullText,
		ShortTitle:       set.ShortTitle,
		Summary:          set.Summary,
		QuizMode:         set.QuizMode,
		CreatedAt:        set.CreatedAt,
		UpdatedAt:        set.UpdatedAt,
	}, nil
}

func questionSetFromModel(m QuestionSetModel) (domain.QuestionSet, error) {
	var hashes []string
	if len(m.QuestionHashes) > 0 {
		if err := json.Unmarshal(m.QuestionHashes, &hashes); err != nil {
			return domain.QuestionSet{}, err
		}
	}
	var names []string
	if len(m.ContentNames) > 0 {
		if err := json.Unmarshal(m.ContentNames, &names); err != nil {
			return domain.QuestionSet{}, err
		}
	}
	return domain.QuestionSet{
		ContentHash:      m.ContentHash,
		UserID:           m.UserID,
		OtherContentHash: m.OtherContentHash,
		QuestionHashes:   hashes,
		ContentNames:     names,
		FullText:         m.FullText,
		ShortTitle:       m.ShortTitle,
		Summary:          m.Summary,
		QuizMode:         m.QuizMode,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}, nil
}

func questionToModel(q domain.Question) (QuestionModel, error) {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return QuestionModel{}, err
	}
	createdAt := q.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return QuestionModel{
		Hash:          q.Hash,
		UserID:        q.UserID,
		DisplayID:     q.ID,
		Text:          q.Text,
		Options:       options,
		CorrectAnswer: q.CorrectAnswer,
		Reason:        q.Reason,
		Starred:       q.Starred,
		CreatedAt:     createdAt,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

func questionFromModel(m QuestionModel) (domain.Question, error) {
	var options []string
	if len(m.Options) > 0 {
		if err := json.Unmarshal(m.Options, &options); err != nil {
			return domain.Question{}, err
		}
	}
	return domain.Question{
		Hash:          m.Hash,
		UserID:        m.UserID,
		ID:            m.DisplayID,
		Text:          m.Text,
		Options:       options,
		CorrectAnswer: m.CorrectAnswer,
		Reason:        m.Reason,
		Starred:       m.Starred,
		CreatedAt:     m.CreatedAt,
	}, nil
}

package store

import (
	"medstudy/pkg/domain"
)

// MergeOutcome reports which branch the question-set merge took, so callers
// can decide whether first-creation work (title generation) is needed.
type MergeOutcome string

const (
	OutcomeInserted MergeOutcome = "inserted"
	OutcomeAppended MergeOutcome = "appended"
)

// UpsertQuestionSetParams carries one generation batch into the merge engine.
// FullText, ShortTitle and Summary are required when the set does not exist
// yet; on append they only overwrite when non-empty.
type UpsertQuestionSetParams struct {
	ContentHash      string
	OtherContentHash string
	UserID           string
	QuestionHashes   []string
	ContentNames     []string
	FullText         string
	ShortTitle       string
	Summary          string
	QuizMode         bool
}

// FileExistence is the dedup oracle's answer for a file hash. Exists is the
// policy-level answer (false while the record is still untitled); Found
// reports raw row presence.
type FileExistence struct {
	Exists bool
	Found  bool
	Record domain.FileRecord
}

// Store defines persistence for users, files, question sets, and questions.
type Store interface {
	// users
	CreateUser(domain.User) error
	HasUserEmail(email string) (bool, error)
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)

	// files
	SaveFile(domain.FileRecord) error
	GetFile(fileHash string) (domain.FileRecord, bool, error)
	FileExists(fileHash string) (FileExistence, error)
	SetFileText(fileHash, text, shortTitle string) error
	GetFileTexts(fileHashes []string) (map[string]string, error)
	LinkFileToUser(userID, fileHash string) error
	UnlinkFilesFromUser(userID string, fileHashes []string) error
	ListUserFiles(userID string) ([]domain.UserFile, error)

	// question sets
	UpsertQuestionSet(UpsertQuestionSetParams) (MergeOutcome, error)
	QuestionSetExists(contentHash, userID string) (bool, int, error)
	GetQuestionSet(contentHash, userID string) (domain.QuestionSet, bool, error)
	ListQuestionSets(userID string) ([]domain.QuestionSet, error)
	TouchQuestionSet(contentHash, userID string) error
	UpdateQuestionSetTitle(contentHash, userID, title string) error
	DeleteQuestionsFromSet(contentHash, userID string, questionHashes []string) error
	DeleteQuestionSet(contentHash, userID string) error

	// questions
	SaveQuestions([]domain.Question) error
	GetQuestionsByHashes(questionHashes []string) ([]domain.Question, error)
	SetQuestionStarred(questionHash string, starred bool) error
	StarQuestionsByHashes(questionHashes []string, starred bool) error

	// feedback
	SaveFeedback(domain.Feedback) error
}

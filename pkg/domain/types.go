package domain

import "time"

// UntitledTitle is the fallback short title written when title generation
// fails. A file record still carrying it is treated as not fully processed.
const UntitledTitle = "Untitled PDF"

// User is a registered account. Password holds a salted hash, never the
// raw credential.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Password  string    `json:"-"`
	UserLevel string    `json:"userLevel,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FileRecord is one uploaded PDF's content, keyed by the digest of its raw
// bytes. Filename is display-only: identical bytes under different names
// dedupe to the same record.
type FileRecord struct {
	FileHash    string    `json:"fileHash"`
	Filename    string    `json:"filename"`
	Bucket      string    `json:"bucket"`
	StoragePath string    `json:"storagePath"`
	Text        string    `json:"-"`
	ShortTitle  string    `json:"shortTitle"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// UserFile is a per-user link to a FileRecord. Linking an already-linked hash
// refreshes LinkedAt instead of duplicating the entry.
type UserFile struct {
	UserID     string    `json:"-"`
	FileHash   string    `json:"fileHash"`
	Filename   string    `json:"filename"`
	ShortTitle string    `json:"shortTitle"`
	LinkedAt   time.Time `json:"linkedAt"`
}

// QuestionSet accumulates generated questions for one (content hash, user)
// pair. QuestionHashes is set-like: merges union, never replace.
type QuestionSet struct {
	ContentHash      string    `json:"contentHash"`
	OtherContentHash string    `json:"otherContentHash"`
	UserID           string    `json:"-"`
	QuestionHashes   []string  `json:"questionHashes"`
	ContentNames     []string  `json:"contentNames"`
	FullText         string    `json:"-"`
	ShortTitle       string    `json:"shortTitle"`
	Summary          string    `json:"-"`
	QuizMode         bool      `json:"quizMode"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Question is one generated multiple-choice question. Hash identifies the
// question text scoped to a user and never changes when the display order of
// options is reshuffled.
type Question struct {
	Hash          string    `json:"hash"`
	UserID        string    `json:"-"`
	ID            string    `json:"id"`
	Text          string    `json:"text"`
	Options       []string  `json:"options"`
	CorrectAnswer int       `json:"correctAnswer"`
	Reason        string    `json:"reason"`
	Starred       bool      `json:"starred"`
	CreatedAt     time.Time `json:"-"`
}

// Feedback is a free-form user submission.
type Feedback struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

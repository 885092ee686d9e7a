package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID        string `gorm:"primaryKey"`
	Email     string `gorm:"uniqueIndex;not null"`
	Password  string `gorm:"not null"`
	Name      string
	UserLevel string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type PdfModel struct {
	FileHash    string `gorm:"primaryKey"`
	Filename    string `gorm:"not null"`
	BucketName  string
	StoragePath string
	Text        string `gorm:"type:text"`
	ShortTitle  string
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time
}

type UserPdfModel struct {
	UserID   string    `gorm:"primaryKey"`
	FileHash string    `gorm:"primaryKey"`
	LinkedAt time.Time `gorm:"not null"`
}

type QuestionSetModel struct {
	ContentHash      string         `gorm:"primaryKey"`
	UserID           string         `gorm:"primaryKey"`
	OtherContentHash string         `gorm:"index"`
	QuestionHashes   datatypes.JSON `gorm:"type:jsonb"`
	ContentNames     datatypes.JSON `gorm:"type:jsonb"`
	FullText         string         `gorm:"type:text"`
	ShortTitle       string
	Summary          string    `gorm:"type:text"`
	QuizMode         bool      `gorm:"not null"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null;index"`
}

type QuestionModel struct {
	Hash          string `gorm:"primaryKey"`
	UserID        string `gorm:"not null;index"`
	DisplayID     string
	Text          string         `gorm:"type:text;not null"`
	Options       datatypes.JSON `gorm:"type:jsonb"`
	CorrectAnswer int            `gorm:"not null"`
	Reason        string         `gorm:"type:text"`
	Starred       bool           `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null"`
	UpdatedAt     time.Time
}

type FeedbackModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"index"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

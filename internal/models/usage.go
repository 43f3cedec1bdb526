package models

import "time"

// The usage tables below are owned by other services. They are mapped here so the
// quota and referral milestone queries can count rows; this module never writes them
// outside of tests.

// Experience is a user's recorded experience entry.
type Experience struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"size:64;not null;index"`
	CreatedAt time.Time `gorm:"index"`
}

func (Experience) TableName() string { return "experiences" }

// ESDocument is a generated entry-sheet document.
type ESDocument struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"size:64;not null;index"`
	CreatedAt time.Time `gorm:"index"`
}

func (ESDocument) TableName() string { return "es_documents" }

// InterviewSession is a practice interview session.
type InterviewSession struct {
	ID        string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"size:64;not null;index"`
	CreatedAt time.Time `gorm:"index"`
}

func (InterviewSession) TableName() string { return "interview_sessions" }

package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/models"
)

// UsageCounter reads activity tables owned by other services.
type UsageCounter struct {
	db *gorm.DB
}

// NewUsageCounter constructs a UsageCounter.
func NewUsageCounter(db *gorm.DB) (*UsageCounter, error) {
	if db == nil {
		return nil, errors.New("usage counter: db is required")
	}
	return &UsageCounter{db: db}, nil
}

// Experiences counts every experience the user has recorded.
func (u *UsageCounter) Experiences(ctx context.Context, userID string) (int64, error) {
	return u.count(ctx, &models.Experience{}, userID, nil)
}

// ESDocuments counts the user's ES documents, optionally only those created at or after since.
func (u *UsageCounter) ESDocuments(ctx context.Context, userID string, since *time.Time) (int64, error) {
	return u.count(ctx, &models.ESDocument{}, userID, since)
}

// InterviewSessions counts the user's interview sessions, optionally only those created at or after since.
func (u *UsageCounter) InterviewSessions(ctx context.Context, userID string, since *time.Time) (int64, error) {
	return u.count(ctx, &models.InterviewSession{}, userID, since)
}

// ReachedReferralMilestone reports whether the user has at least one experience
// and at least one ES document.
func (u *UsageCounter) ReachedReferralMilestone(ctx context.Context, userID string) (bool, error) {
	experiences, err := u.Experiences(ctx, userID)
	if err != nil || experiences < 1 {
		return false, err
	}
	documents, err := u.ESDocuments(ctx, userID, nil)
	if err != nil {
		return false, err
	}
	return documents >= 1, nil
}

func (u *UsageCounter) count(ctx context.Context, model any, userID string, since *time.Time) (int64, error) {
	query := u.db.WithContext(ensureContext(ctx)).Model(model).Where("user_id = ?", userID)
	if since != nil {
		query = query.Where("created_at >= ?", since.UTC())
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("usage counter: %w", err)
	}
	return count, nil
}

// startOfMonth returns midnight UTC on the first day of t's month.
func startOfMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

package models

import "time"

// Entitlement is the per-user trial record. TrialEndsAt only ever moves forward.
type Entitlement struct {
	UserID            string     `gorm:"primaryKey;size:64" json:"user_id"`
	TrialEndsAt       *time.Time `json:"trial_ends_at,omitempty"`
	TrialSource       *string    `gorm:"size:32" json:"trial_source,omitempty"`
	InviteCode        string     `gorm:"uniqueIndex;size:16;not null" json:"invite_code"`
	InvitedByCode     *string    `gorm:"size:16;index" json:"invited_by_code,omitempty"`
	SurveyCompletedAt *time.Time `json:"survey_completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func (Entitlement) TableName() string { return "entitlements" }

// TrialActive reports whether the trial is still running at the supplied instant.
func (e Entitlement) TrialActive(now time.Time) bool {
	return e.TrialEndsAt != nil && e.TrialEndsAt.After(now)
}

// TrialRemaining returns the time left on the trial, or zero once it has lapsed.
func (e Entitlement) TrialRemaining(now time.Time) time.Duration {
	if !e.TrialActive(now) {
		return 0
	}
	return e.TrialEndsAt.Sub(now)
}

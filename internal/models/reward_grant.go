package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RewardType identifies why trial days were granted.
type RewardType string

const (
	RewardSignupBonus   RewardType = "signup-bonus"
	RewardSurveyBonus   RewardType = "survey-bonus"
	RewardReferralBonus RewardType = "referral-bonus"
)

// RewardTypes lists every reward type the ledger accepts.
var RewardTypes = []RewardType{RewardSignupBonus, RewardSurveyBonus, RewardReferralBonus}

// Valid reports whether the reward type is known.
func (t RewardType) Valid() bool {
	switch t {
	case RewardSignupBonus, RewardSurveyBonus, RewardReferralBonus:
		return true
	default:
		return false
	}
}

// RewardGrant is an append-only ledger row. (UserID, RewardType, SourceID) is the
// idempotency key and is enforced by the uk_reward_grant unique index.
type RewardGrant struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UserID     string     `gorm:"size:64;not null;uniqueIndex:uk_reward_grant,priority:1" json:"user_id"`
	RewardType RewardType `gorm:"size:32;not null;uniqueIndex:uk_reward_grant,priority:2;index" json:"reward_type"`
	SourceID   string     `gorm:"size:128;not null;uniqueIndex:uk_reward_grant,priority:3" json:"source_id"`
	Days       int        `gorm:"not null" json:"days"`
	GrantedAt  time.Time  `gorm:"not null;index" json:"granted_at"`
	Notes      *string    `gorm:"size:512" json:"notes,omitempty"`
}

func (RewardGrant) TableName() string { return "reward_ledger" }

// BeforeCreate ensures a UUID is present before persisting.
func (g *RewardGrant) BeforeCreate(tx *gorm.DB) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	return nil
}

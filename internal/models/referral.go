package models

import "time"

// ReferralStatus tracks a referral through qualification.
type ReferralStatus string

const (
	ReferralPending   ReferralStatus = "pending"
	ReferralQualified ReferralStatus = "qualified"
	ReferralRewarded  ReferralStatus = "rewarded"
	ReferralBlocked   ReferralStatus = "blocked"
)

// Valid reports whether the status is one of the known states.
func (s ReferralStatus) Valid() bool {
	switch s {
	case ReferralPending, ReferralQualified, ReferralRewarded, ReferralBlocked:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether next is the direct successor of s.
// Allowed moves: pending→qualified, qualified→rewarded, pending→blocked.
func (s ReferralStatus) CanTransitionTo(next ReferralStatus) bool {
	switch s {
	case ReferralPending:
		return next == ReferralQualified || next == ReferralBlocked
	case ReferralQualified:
		return next == ReferralRewarded
	default:
		return false
	}
}

// Referral binds a referred user to the inviter whose code they used.
// A user can be referred at most once (unique ReferredID).
type Referral struct {
	BaseModel
	InviterID     string         `gorm:"size:64;not null;index" json:"inviter_id"`
	InviteCode    string         `gorm:"size:16;not null" json:"invite_code"`
	ReferredID    string         `gorm:"size:64;not null;uniqueIndex" json:"referred_id"`
	Status        ReferralStatus `gorm:"size:16;not null;index" json:"status"`
	QualifiedAt   *time.Time     `json:"qualified_at,omitempty"`
	RewardedAt    *time.Time     `json:"rewarded_at,omitempty"`
	BlockedReason *string        `gorm:"size:256" json:"blocked_reason,omitempty"`
}

func (Referral) TableName() string { return "referrals" }

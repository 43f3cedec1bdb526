package models

import "time"

// Campaign is a capacity-limited signup promotion. ClaimedSlots never exceeds MaxSlots.
type Campaign struct {
	BaseModel
	Key          string     `gorm:"uniqueIndex;size:64;not null" json:"key"`
	Name         string     `gorm:"size:128" json:"name"`
	Enabled      bool       `gorm:"not null" json:"enabled"`
	MaxSlots     int        `gorm:"not null" json:"max_slots"`
	ClaimedSlots int        `gorm:"not null;default:0" json:"claimed_slots"`
	BonusDays    int        `gorm:"not null;default:0" json:"bonus_days"` // 0 uses the configured signup bonus
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	EndsAt       *time.Time `json:"ends_at,omitempty"`
}

func (Campaign) TableName() string { return "campaigns" }

// RemainingSlots returns how many claims the campaign can still accept.
func (c Campaign) RemainingSlots() int {
	remaining := c.MaxSlots - c.ClaimedSlots
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Started reports whether the campaign window has opened at the supplied instant.
func (c Campaign) Started(now time.Time) bool {
	return c.StartsAt == nil || !now.Before(*c.StartsAt)
}

// Ended reports whether the campaign window has closed at the supplied instant.
func (c Campaign) Ended(now time.Time) bool {
	return c.EndsAt != nil && now.After(*c.EndsAt)
}

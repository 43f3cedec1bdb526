package models

import (
	"time"
)

// CacheEntry backs the SQL cache store used for rate-limit counters and
// idempotency markers when Redis is not configured. A zero ExpiresAt never expires.
type CacheEntry struct {
	Key       string    `gorm:"primaryKey;size:256"`
	Value     []byte
	ExpiresAt time.Time `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (CacheEntry) TableName() string { return "cache_entries" }

// Expired reports whether the entry has a deadline that has passed.
func (e CacheEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

package cache

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/trialkit/internal/models"
)

var errDatabaseStoreNil = errors.New("cache: database store not initialised")

// DatabaseStore implements Store on the primary SQL database using the cache_entries table.
type DatabaseStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// IncrementWithTTL atomically increments a counter for the supplied key. The window
// restarts once the previous one has elapsed.
func (s *DatabaseStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if s == nil {
		return 0, 0, errDatabaseStoreNil
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.now()
	var (
		count  int64
		expiry time.Time
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&entry, "cache_entries.key = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			count = 1
			expiry = now.Add(window)
			return tx.Create(&models.CacheEntry{
				Key:       key,
				Value:     []byte("1"),
				ExpiresAt: expiry,
			}).Error
		}
		if err != nil {
			return err
		}

		if entry.Expired(now) {
			count = 1
			entry.ExpiresAt = now.Add(window)
		} else {
			current, _ := strconv.ParseInt(string(entry.Value), 10, 64)
			count = current + 1
		}
		expiry = entry.ExpiresAt
		entry.Value = []byte(strconv.FormatInt(count, 10))
		return tx.Save(&entry).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return count, expiry.Sub(now), nil
}

// Set upserts the value for a given key with expiry. A non-positive ttl never expires.
func (s *DatabaseStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s == nil {
		return errDatabaseStoreNil
	}

	entry := models.CacheEntry{
		Key:       key,
		Value:     value,
		ExpiresAt: s.expiry(ttl),
	}

	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "expires_at", "updated_at"}),
		}).Create(&entry).Error
}

// SetIfAbsent inserts the key unless a live entry already holds it.
func (s *DatabaseStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s == nil {
		return false, errDatabaseStoreNil
	}

	now := s.now()
	stored := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.CacheEntry
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&entry, "cache_entries.key = ?", key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.CacheEntry{
				Key:       key,
				Value:     value,
				ExpiresAt: s.expiry(ttl),
			})
			stored = res.RowsAffected == 1
			return res.Error
		}
		if err != nil {
			return err
		}
		if !entry.Expired(now) {
			return nil
		}

		entry.Value = value
		entry.ExpiresAt = s.expiry(ttl)
		stored = true
		return tx.Save(&entry).Error
	})
	if err != nil {
		return false, err
	}
	return stored, nil
}

// Get retrieves a value by key, respecting expiry.
func (s *DatabaseStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil {
		return nil, false, errDatabaseStoreNil
	}

	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Take(&entry, "cache_entries.key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	if entry.Expired(s.now()) {
		_ = s.Delete(ctx, key)
		return nil, false, nil
	}

	return entry.Value, true, nil
}

// Delete removes keys from the store.
func (s *DatabaseStore) Delete(ctx context.Context, keys ...string) error {
	if s == nil {
		return errDatabaseStoreNil
	}
	if len(keys) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Where("cache_entries.key IN ?", keys).Delete(&models.CacheEntry{}).Error
}

// PurgeExpired deletes entries whose deadline is before the supplied instant and
// returns how many rows were removed. Entries without a deadline are kept.
func (s *DatabaseStore) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	if s == nil {
		return 0, errDatabaseStoreNil
	}

	res := s.db.WithContext(ctx).
		Where("expires_at > ? AND expires_at < ?", time.Time{}, before.UTC()).
		Delete(&models.CacheEntry{})
	return res.RowsAffected, res.Error
}

func (s *DatabaseStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

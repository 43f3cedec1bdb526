package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/models"
	"github.com/charlesng35/trialkit/pkg/logger"
)

const (
	defaultEventRetentionDays = 90
	defaultCacheSpec          = "@every 15m"
	defaultEventSpec          = "@daily"
)

// ExpiredPurger removes cache entries whose deadline has passed.
type ExpiredPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// Cleaner coordinates background maintenance: purging expired cache entries such as
// rate-limit windows and dedup markers, and pruning old domain events.
type Cleaner struct {
	db        *gorm.DB
	cache     ExpiredPurger
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	retention int

	cacheSchedule string
	eventSchedule string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithEventRetentionDays adjusts how long domain events are kept. Zero disables pruning.
func WithEventRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days >= 0 {
			cleaner.retention = days
		}
	}
}

// WithCacheSchedule overrides the cron specification for cache cleanup.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// WithEventSchedule overrides the cron specification for event pruning.
func WithEventSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.eventSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner. A nil cache skips cache cleanup (Redis expires its
// own keys); a nil db skips event pruning.
func NewCleaner(db *gorm.DB, cache ExpiredPurger, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:            db,
		cache:         cache,
		now:           func() time.Time { return time.Now().UTC() },
		retention:     defaultEventRetentionDays,
		cacheSchedule: defaultCacheSpec,
		eventSchedule: defaultEventSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

func (c *Cleaner) enabled() bool {
	return c.cache != nil || (c.db != nil && c.retention > 0)
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one cleanup is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled() {
		return nil
	}

	if c.cache != nil {
		if _, err := c.cron.AddFunc(c.cacheSchedule, func() {
			removed, err := c.cache.PurgeExpired(context.Background(), c.now())
			if err != nil {
				c.log.Warn("cache cleanup failed", zap.Error(err))
				return
			}
			if removed > 0 {
				c.log.Debug("expired cache entries purged", zap.Int64("removed", removed))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule cache cleanup: %w", err)
		}
	}

	if c.db != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.eventSchedule, func() {
			if _, err := PruneEvents(context.Background(), c.db, c.eventCutoff()); err != nil {
				c.log.Warn("event pruning failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule event pruning: %w", err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.cache != nil {
		if _, err := c.cache.PurgeExpired(ctx, c.now()); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("cache cleanup: %w", err))
		}
	}

	if c.db != nil && c.retention > 0 {
		if _, err := PruneEvents(ctx, c.db, c.eventCutoff()); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

func (c *Cleaner) eventCutoff() time.Time {
	return c.now().AddDate(0, 0, -c.retention)
}

// PruneEvents deletes domain events recorded before the cutoff.
func PruneEvents(ctx context.Context, db *gorm.DB, before time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("prune events: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("created_at < ?", before.UTC()).
		Delete(&models.DomainEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("prune events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

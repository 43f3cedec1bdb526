package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/cache"
	"github.com/charlesng35/trialkit/internal/models"
	"github.com/charlesng35/trialkit/pkg/logger"
	"github.com/charlesng35/trialkit/pkg/metrics"
)

// Event names emitted after successful state changes.
const (
	EventEntitlementProvisioned = "entitlement.provisioned"
	EventCampaignSlotClaimed    = "campaign.slot_claimed"
	EventRewardGranted          = "reward.granted"
	EventSurveyCompleted        = "survey.completed"
	EventReferralBound          = "referral.bound"
	EventReferralQualified      = "referral.qualified"
	EventReferralRewarded       = "referral.rewarded"
	EventReferralBlocked        = "referral.blocked"
)

// Event is a fire-and-forget analytics record.
type Event struct {
	Name   string
	UserID string
	Source string
	// DedupKey, when set, lets DedupTracker drop repeats of the same logical event.
	DedupKey string
	Metadata map[string]any
}

// EventTracker receives domain events. Implementations must not assume they run
// inside a database transaction.
type EventTracker interface {
	Track(ctx context.Context, event Event) error
}

// trackEvent delivers the event while tolerating tracker failures.
func trackEvent(tracker EventTracker, ctx context.Context, event Event) {
	if tracker == nil {
		return
	}
	if err := tracker.Track(ensureContext(ctx), event); err != nil {
		metrics.EventFailures.Inc()
		logger.WithModule("events").Warn("failed to track event",
			zap.String("event", event.Name),
			zap.String("user_id", event.UserID),
			zap.Error(err),
		)
	}
}

// LogTracker writes events to a zap logger.
type LogTracker struct {
	log *zap.Logger
}

// NewLogTracker defaults to the module logger when log is nil.
func NewLogTracker(log *zap.Logger) *LogTracker {
	if log == nil {
		log = logger.WithModule("events")
	}
	return &LogTracker{log: log}
}

func (t *LogTracker) Track(_ context.Context, event Event) error {
	t.log.Info("domain event",
		zap.String("event", event.Name),
		zap.String("user_id", event.UserID),
		zap.String("source", event.Source),
		zap.Any("metadata", event.Metadata),
	)
	return nil
}

// DatabaseTracker persists events to the domain_events table.
type DatabaseTracker struct {
	db *gorm.DB
}

// NewDatabaseTracker constructs a DatabaseTracker.
func NewDatabaseTracker(db *gorm.DB) (*DatabaseTracker, error) {
	if db == nil {
		return nil, errors.New("event tracker: db is required")
	}
	return &DatabaseTracker{db: db}, nil
}

func (t *DatabaseTracker) Track(ctx context.Context, event Event) error {
	if strings.TrimSpace(event.Name) == "" {
		return errors.New("event tracker: name is required")
	}
	record := models.DomainEvent{
		UserID: event.UserID,
		Name:   event.Name,
		Source: event.Source,
	}
	if len(event.Metadata) > 0 {
		record.Metadata = datatypes.JSONMap(event.Metadata)
	}
	return t.db.WithContext(ensureContext(ctx)).Create(&record).Error
}

// MultiTracker fans an event out to every tracker and joins their errors.
type MultiTracker []EventTracker

func (m MultiTracker) Track(ctx context.Context, event Event) error {
	var err error
	for _, tracker := range m {
		if tracker == nil {
			continue
		}
		err = multierr.Append(err, tracker.Track(ctx, event))
	}
	return err
}

const defaultEventDedupTTL = 24 * time.Hour

// DedupTracker forwards each DedupKey at most once within the TTL. Events without
// a key always pass through. The key is claimed before delivery and released if
// delivery fails, so concurrent duplicates are delivered once.
type DedupTracker struct {
	next    EventTracker
	deduper cache.Deduper
	ttl     time.Duration
}

// NewDedupTracker wraps next with duplicate suppression backed by deduper.
func NewDedupTracker(next EventTracker, deduper cache.Deduper, ttl time.Duration) *DedupTracker {
	if ttl <= 0 {
		ttl = defaultEventDedupTTL
	}
	return &DedupTracker{next: next, deduper: deduper, ttl: ttl}
}

func (t *DedupTracker) Track(ctx context.Context, event Event) error {
	if event.DedupKey == "" || t.deduper == nil {
		return t.next.Track(ctx, event)
	}

	claimed, err := t.deduper.Claim(ctx, event.DedupKey, t.ttl)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}
	if err := t.next.Track(ctx, event); err != nil {
		if releaseErr := t.deduper.Release(ctx, event.DedupKey); releaseErr != nil {
			return multierr.Append(err, releaseErr)
		}
		return err
	}
	return nil
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/models"
	"github.com/charlesng35/trialkit/pkg/logger"
	"github.com/charlesng35/trialkit/pkg/metrics"
)

// QuotaType names a quota-gated action.
type QuotaType string

const (
	QuotaExperience       QuotaType = "experience"
	QuotaESGeneration     QuotaType = "es_generation"
	QuotaInterviewSession QuotaType = "interview_session"
)

// QuotaLimits maps an effective plan to per-action limits.
type QuotaLimits map[Plan]map[QuotaType]int64

// DefaultQuotaLimits applies when configuration does not override a limit.
var DefaultQuotaLimits = QuotaLimits{
	PlanFree: {
		QuotaExperience:       3,
		QuotaESGeneration:     5,
		QuotaInterviewSession: 2,
	},
	PlanStandard: {
		QuotaExperience:       50,
		QuotaESGeneration:     100,
		QuotaInterviewSession: 30,
	},
}

// QuotaStatus is the result of a quota check.
type QuotaStatus struct {
	QuotaType QuotaType `json:"quota_type"`
	Plan      Plan      `json:"plan"`
	Allowed   bool      `json:"allowed"`
	Current   int64     `json:"current"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
}

// QuotaOption customises QuotaService behaviour.
type QuotaOption func(*QuotaService)

// WithQuotaClock injects a custom clock primarily for testing.
func WithQuotaClock(clock func() time.Time) QuotaOption {
	return func(s *QuotaService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithQuotaLimits overrides individual limits. Negative values are ignored.
func WithQuotaLimits(limits QuotaLimits) QuotaOption {
	return func(s *QuotaService) {
		for plan, perType := range limits {
			if s.limits[plan] == nil {
				s.limits[plan] = make(map[QuotaType]int64, len(perType))
			}
			for quotaType, limit := range perType {
				if limit >= 0 {
					s.limits[plan][quotaType] = limit
				}
			}
		}
	}
}

// WithPlanResolver replaces the default effective-plan resolution.
func WithPlanResolver(resolver PlanResolver) QuotaOption {
	return func(s *QuotaService) {
		if resolver != nil {
			s.resolver = resolver
		}
	}
}

// WithQuotaLocker serialises WithinQuota and Reserve per user and quota type.
func WithQuotaLocker(locker Locker) QuotaOption {
	return func(s *QuotaService) {
		s.locker = locker
	}
}

// QuotaService enforces plan limits on quota-gated actions. Checks are advisory:
// concurrent requests from one user may overshoot a limit by one unless a
// Locker is configured and callers go through WithinQuota or Reserve.
type QuotaService struct {
	db       *gorm.DB
	usage    *UsageCounter
	resolver PlanResolver
	limits   QuotaLimits
	locker   Locker
	now      func() time.Time
	log      *zap.Logger
}

// NewQuotaService constructs a QuotaService.
func NewQuotaService(db *gorm.DB, usage *UsageCounter, opts ...QuotaOption) (*QuotaService, error) {
	if db == nil {
		return nil, errors.New("quota service: db is required")
	}
	if usage == nil {
		return nil, errors.New("quota service: usage counter is required")
	}

	service := &QuotaService{
		db:       db,
		usage:    usage,
		resolver: NewPlanResolver(nil),
		limits:   make(QuotaLimits, len(DefaultQuotaLimits)),
		now:      utcClock,
		log:      logger.WithModule("quota"),
	}
	for plan, perType := range DefaultQuotaLimits {
		service.limits[plan] = make(map[QuotaType]int64, len(perType))
		for quotaType, limit := range perType {
			service.limits[plan][quotaType] = limit
		}
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// ParseQuotaType validates a quota type supplied by a caller.
func ParseQuotaType(value string) (QuotaType, error) {
	quotaType := QuotaType(strings.ToLower(strings.TrimSpace(value)))
	switch quotaType {
	case QuotaExperience, QuotaESGeneration, QuotaInterviewSession:
		return quotaType, nil
	default:
		return "", ErrUnknownQuotaType
	}
}

// CheckQuota computes the user's usage against the limit of their effective plan.
func (s *QuotaService) CheckQuota(ctx context.Context, userID string, account Account, quotaType QuotaType) (QuotaStatus, error) {
	ctx = ensureContext(ctx)
	if _, err := ParseQuotaType(string(quotaType)); err != nil {
		return QuotaStatus{}, err
	}

	now := s.now().UTC()
	trialEndsAt, err := s.trialEndsAt(ctx, userID)
	if err != nil {
		return QuotaStatus{}, err
	}
	plan := s.resolver(account, trialEndsAt, now)

	limit, ok := s.limits[plan][quotaType]
	if !ok {
		return QuotaStatus{}, ErrUnknownQuotaType
	}

	current, err := s.current(ctx, userID, quotaType, now)
	if err != nil {
		return QuotaStatus{}, err
	}

	status := QuotaStatus{
		QuotaType: quotaType,
		Plan:      plan,
		Allowed:   current < limit,
		Current:   current,
		Limit:     limit,
		Remaining: max(limit-current, 0),
	}

	result := "allow"
	if !status.Allowed {
		result = "deny"
	}
	metrics.QuotaChecks.WithLabelValues(string(quotaType), string(plan), result).Inc()
	return status, nil
}

// EnforceQuota returns a *QuotaExceededError when the action is not allowed.
func (s *QuotaService) EnforceQuota(ctx context.Context, userID string, account Account, quotaType QuotaType) (QuotaStatus, error) {
	status, err := s.CheckQuota(ctx, userID, account, quotaType)
	if err != nil {
		return status, err
	}
	if !status.Allowed {
		s.log.Debug("quota exceeded",
			zap.String("user_id", userID),
			zap.String("quota_type", string(quotaType)),
			zap.Int64("current", status.Current),
			zap.Int64("limit", status.Limit),
		)
		return status, &QuotaExceededError{
			QuotaType: quotaType,
			Plan:      status.Plan,
			Current:   status.Current,
			Limit:     status.Limit,
		}
	}
	return status, nil
}

// WithinQuota enforces the quota and then runs fn, which should perform the
// gated write. When a Locker is configured the check and fn run under a per-user
// lock, closing the check-then-act window across instances.
func (s *QuotaService) WithinQuota(ctx context.Context, userID string, account Account, quotaType QuotaType, fn func(ctx context.Context) error) error {
	ctx = ensureContext(ctx)
	if fn == nil {
		return errors.New("quota service: callback is required")
	}
	return s.withLock(ctx, userID, quotaType, func() error {
		if _, err := s.EnforceQuota(ctx, userID, account, quotaType); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// Reserve enforces the quota while holding the same lock as WithinQuota, so a
// remote writer that calls it before its own insert is serialised with every
// other gated write for the user.
func (s *QuotaService) Reserve(ctx context.Context, userID string, account Account, quotaType QuotaType) (QuotaStatus, error) {
	ctx = ensureContext(ctx)
	var status QuotaStatus
	err := s.withLock(ctx, userID, quotaType, func() error {
		var err error
		status, err = s.EnforceQuota(ctx, userID, account, quotaType)
		return err
	})
	return status, err
}

func (s *QuotaService) withLock(ctx context.Context, userID string, quotaType QuotaType, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	unlock, err := s.locker.Lock(ctx, quotaLockKey(userID, quotaType))
	if err != nil {
		return fmt.Errorf("quota service: acquire lock: %w", err)
	}
	defer func() {
		if err := unlock(); err != nil {
			s.log.Warn("failed to release quota lock", zap.String("user_id", userID), zap.Error(err))
		}
	}()
	return fn()
}

func (s *QuotaService) current(ctx context.Context, userID string, quotaType QuotaType, now time.Time) (int64, error) {
	switch quotaType {
	case QuotaExperience:
		return s.usage.Experiences(ctx, userID)
	case QuotaESGeneration:
		since := startOfMonth(now)
		return s.usage.ESDocuments(ctx, userID, &since)
	case QuotaInterviewSession:
		since := startOfMonth(now)
		return s.usage.InterviewSessions(ctx, userID, &since)
	default:
		return 0, ErrUnknownQuotaType
	}
}

func (s *QuotaService) trialEndsAt(ctx context.Context, userID string) (*time.Time, error) {
	var entitlement models.Entitlement
	err := s.db.WithContext(ctx).Select("user_id", "trial_ends_at").
		Take(&entitlement, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("quota service: load entitlement: %w", err)
	}
	return entitlement.TrialEndsAt, nil
}

func quotaLockKey(userID string, quotaType QuotaType) string {
	return "quota:" + string(quotaType) + ":" + userID
}

package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/trialkit/internal/models"
	apperrors "github.com/charlesng35/trialkit/pkg/errors"
	"github.com/charlesng35/trialkit/pkg/logger"
	"github.com/charlesng35/trialkit/pkg/metrics"
)

// DefaultReferralCap is the number of referral bonuses an inviter can earn.
const DefaultReferralCap = 5

var errBindRace = errors.New("referral: concurrent bind")

// BindResult reports the outcome of BindReferral.
type BindResult struct {
	Referral *models.Referral
	Created  bool
}

// QualifyResult reports the outcome of CheckAndQualify. Status is empty when the
// user has no referral.
type QualifyResult struct {
	Status          models.ReferralStatus `json:"status"`
	Rewarded        bool                  `json:"rewarded"`
	InviterRewarded bool                  `json:"inviter_rewarded"`
}

// ReferralStats summarises an inviter's referrals.
type ReferralStats struct {
	InviteCode       string `json:"invite_code"`
	Pending          int64  `json:"pending"`
	Qualified        int64  `json:"qualified"`
	Rewarded         int64  `json:"rewarded"`
	Blocked          int64  `json:"blocked"`
	// BonusesGranted and BonusesRemaining count only bonuses earned as an
	// inviter. The bonus for being referred is not part of the cap.
	BonusesGranted   int64  `json:"bonuses_granted"`
	BonusesRemaining int64  `json:"bonuses_remaining"`
}

// ReferralOption customises ReferralService behaviour.
type ReferralOption func(*ReferralService)

// WithReferralClock injects a custom clock primarily for testing.
func WithReferralClock(clock func() time.Time) ReferralOption {
	return func(s *ReferralService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithReferralCap overrides how many referral bonuses an inviter can earn.
func WithReferralCap(limit int) ReferralOption {
	return func(s *ReferralService) {
		if limit >= 0 {
			s.cap = limit
		}
	}
}

// WithReferralTracker sets the tracker notified after bindings and transitions.
func WithReferralTracker(tracker EventTracker) ReferralOption {
	return func(s *ReferralService) {
		s.tracker = tracker
	}
}

// ReferralService binds invite codes and drives referrals through
// pending → qualified → rewarded.
type ReferralService struct {
	db      *gorm.DB
	ledger  *RewardLedger
	usage   *UsageCounter
	cap     int
	tracker EventTracker
	now     func() time.Time
	log     *zap.Logger
}

// NewReferralService constructs a ReferralService.
func NewReferralService(db *gorm.DB, ledger *RewardLedger, usage *UsageCounter, opts ...ReferralOption) (*ReferralService, error) {
	if db == nil {
		return nil, errors.New("referral service: db is required")
	}
	if ledger == nil {
		return nil, errors.New("referral service: reward ledger is required")
	}
	if usage == nil {
		return nil, errors.New("referral service: usage counter is required")
	}

	service := &ReferralService{
		db:     db,
		ledger: ledger,
		usage:  usage,
		cap:    DefaultReferralCap,
		now:    utcClock,
		log:    logger.WithModule("referrals"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// BindReferral records that referredUserID signed up with inviteCode. Repeating
// the same binding succeeds without changes; binding a different code fails.
func (s *ReferralService) BindReferral(ctx context.Context, referredUserID, inviteCode string) (BindResult, error) {
	ctx = ensureContext(ctx)
	referredUserID = strings.TrimSpace(referredUserID)
	if referredUserID == "" {
		return BindResult{}, apperrors.NewBadRequest("user id is required")
	}

	code := NormaliseInviteCode(inviteCode)
	if !ValidInviteCode(code) {
		return BindResult{}, ErrInviteCodeMalformed
	}

	inviter, err := findByInviteCode(s.db.WithContext(ctx), code)
	if err != nil {
		return BindResult{}, err
	}
	if inviter.UserID == referredUserID {
		return BindResult{}, ErrSelfReferral
	}

	var referredCount int64
	if err := s.db.WithContext(ctx).Model(&models.Entitlement{}).
		Where("user_id = ?", referredUserID).Count(&referredCount).Error; err != nil {
		return BindResult{}, fmt.Errorf("referral service: load entitlement: %w", err)
	}
	if referredCount == 0 {
		return BindResult{}, ErrEntitlementNotFound
	}

	if existing, err := s.GetByReferred(ctx, referredUserID); err == nil {
		return sameBinding(existing, inviter.UserID, code)
	} else if !errors.Is(err, ErrReferralNotFound) {
		return BindResult{}, err
	}

	// Referral bonuses are keyed by (user, counterpart), so a reverse binding
	// would collide with the grants of the forward one.
	var reverse int64
	if err := s.db.WithContext(ctx).Model(&models.Referral{}).
		Where("inviter_id = ? AND referred_id = ?", referredUserID, inviter.UserID).
		Count(&reverse).Error; err != nil {
		return BindResult{}, fmt.Errorf("referral service: check reverse referral: %w", err)
	}
	if reverse > 0 {
		return BindResult{}, ErrReferralCycle
	}

	referral := &models.Referral{
		InviterID:  inviter.UserID,
		InviteCode: code,
		ReferredID: referredUserID,
		Status:     models.ReferralPending,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(referral).Error; err != nil {
			if isUniqueConstraintError(err) {
				return errBindRace
			}
			return fmt.Errorf("referral service: create referral: %w", err)
		}

		res := tx.Model(&models.Entitlement{}).
			Where("user_id = ?", referredUserID).
			Update("invited_by_code", code)
		if res.Error != nil {
			return fmt.Errorf("referral service: stamp invite code: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrEntitlementNotFound
		}
		return nil
	})
	if errors.Is(err, errBindRace) {
		existing, getErr := s.GetByReferred(ctx, referredUserID)
		if getErr != nil {
			return BindResult{}, getErr
		}
		return sameBinding(existing, inviter.UserID, code)
	}
	if err != nil {
		return BindResult{}, err
	}

	metrics.ReferralTransitions.WithLabelValues(string(models.ReferralPending)).Inc()
	trackEvent(s.tracker, ctx, Event{
		Name:     EventReferralBound,
		UserID:   referredUserID,
		Source:   inviter.UserID,
		DedupKey: EventReferralBound + ":" + referredUserID,
		Metadata: map[string]any{"invite_code": code},
	})
	return BindResult{Referral: referral, Created: true}, nil
}

// CheckAndQualify advances the user's pending referral once the milestone is
// reached, rewarding both parties. It is a no-op in every other situation and is
// safe to call after each quota-gated write.
func (s *ReferralService) CheckAndQualify(ctx context.Context, userID string) (QualifyResult, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)

	referral, err := s.GetByReferred(ctx, userID)
	if errors.Is(err, ErrReferralNotFound) {
		return QualifyResult{}, nil
	}
	if err != nil {
		return QualifyResult{}, err
	}
	if !referral.Status.CanTransitionTo(models.ReferralQualified) {
		return QualifyResult{Status: referral.Status}, nil
	}

	reached, err := s.usage.ReachedReferralMilestone(ctx, userID)
	if err != nil {
		return QualifyResult{}, err
	}
	if !reached {
		return QualifyResult{Status: models.ReferralPending}, nil
	}

	var (
		result        QualifyResult
		inviterGrant  *models.RewardGrant
		referredGrant *models.RewardGrant
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		res := tx.Model(&models.Referral{}).
			Where("id = ? AND status = ?", referral.ID, models.ReferralPending).
			Updates(map[string]any{"status": models.ReferralQualified, "qualified_at": now})
		if res.Error != nil {
			return fmt.Errorf("referral service: qualify: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Another caller won the transition.
			var current models.Referral
			if err := tx.Select("status").Take(&current, "id = ?", referral.ID).Error; err != nil {
				return err
			}
			result.Status = current.Status
			return nil
		}

		granted, err := s.rewardInviter(ctx, tx, referral)
		if err != nil {
			return err
		}
		inviterGrant = granted

		grant, err := s.ledger.GrantTx(ctx, tx, GrantInput{
			UserID:     referral.ReferredID,
			RewardType: models.RewardReferralBonus,
			SourceID:   referral.InviterID,
			Notes:      "referred by " + referral.InviteCode,
		})
		if err != nil {
			return err
		}
		referredGrant = grant.Grant

		res = tx.Model(&models.Referral{}).
			Where("id = ? AND status = ?", referral.ID, models.ReferralQualified).
			Updates(map[string]any{"status": models.ReferralRewarded, "rewarded_at": now})
		if res.Error != nil {
			return fmt.Errorf("referral service: reward: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("referral service: referral %s left qualified state mid-transaction", referral.ID)
		}

		result = QualifyResult{
			Status:          models.ReferralRewarded,
			Rewarded:        true,
			InviterRewarded: inviterGrant != nil,
		}
		return nil
	})
	if err != nil {
		return QualifyResult{}, err
	}
	if !result.Rewarded {
		return result, nil
	}

	metrics.ReferralTransitions.WithLabelValues(string(models.ReferralQualified)).Inc()
	metrics.ReferralTransitions.WithLabelValues(string(models.ReferralRewarded)).Inc()
	s.log.Info("referral rewarded",
		zap.String("referral_id", referral.ID),
		zap.String("inviter_id", referral.InviterID),
		zap.String("referred_id", referral.ReferredID),
		zap.Bool("inviter_rewarded", result.InviterRewarded),
	)
	for _, name := range []string{EventReferralQualified, EventReferralRewarded} {
		trackEvent(s.tracker, ctx, Event{
			Name:     name,
			UserID:   referral.ReferredID,
			Source:   referral.InviterID,
			DedupKey: name + ":" + referral.ID,
			Metadata: map[string]any{"inviter_rewarded": result.InviterRewarded},
		})
	}
	s.ledger.emitGranted(ctx, inviterGrant)
	s.ledger.emitGranted(ctx, referredGrant)
	return result, nil
}

// rewardInviter grants the inviter's bonus unless the cap is reached. The
// inviter's entitlement row is locked so concurrent qualifications for the same
// inviter count grants one at a time.
func (s *ReferralService) rewardInviter(ctx context.Context, tx *gorm.DB, referral *models.Referral) (*models.RewardGrant, error) {
	var inviter models.Entitlement
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("user_id").
		Take(&inviter, "user_id = ?", referral.InviterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warn("inviter has no entitlement, skipping inviter bonus",
			zap.String("inviter_id", referral.InviterID),
			zap.String("referral_id", referral.ID),
		)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("referral service: lock inviter: %w", err)
	}

	count, err := countInviterBonuses(tx, referral.InviterID)
	if err != nil {
		return nil, err
	}
	if count >= int64(s.cap) {
		s.log.Info("inviter reached referral cap",
			zap.String("inviter_id", referral.InviterID),
			zap.Int64("grants", count),
		)
		return nil, nil
	}

	grant, err := s.ledger.GrantTx(ctx, tx, GrantInput{
		UserID:     referral.InviterID,
		RewardType: models.RewardReferralBonus,
		SourceID:   referral.ReferredID,
		Notes:      "invited " + referral.ReferredID,
	})
	if err != nil {
		return nil, err
	}
	return grant.Grant, nil
}

// Block moves a pending referral to blocked. Referrals in any other state are
// left untouched and false is returned.
func (s *ReferralService) Block(ctx context.Context, referredUserID, reason string) (bool, error) {
	ctx = ensureContext(ctx)
	referredUserID = strings.TrimSpace(referredUserID)

	referral, err := s.GetByReferred(ctx, referredUserID)
	if errors.Is(err, ErrReferralNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !referral.Status.CanTransitionTo(models.ReferralBlocked) {
		return false, nil
	}

	res := s.db.WithContext(ctx).Model(&models.Referral{}).
		Where("id = ? AND status = ?", referral.ID, referral.Status).
		Updates(map[string]any{"status": models.ReferralBlocked, "blocked_reason": optionalString(reason)})
	if res.Error != nil {
		return false, fmt.Errorf("referral service: block: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	metrics.ReferralTransitions.WithLabelValues(string(models.ReferralBlocked)).Inc()
	trackEvent(s.tracker, ctx, Event{
		Name:     EventReferralBlocked,
		UserID:   referredUserID,
		DedupKey: EventReferralBlocked + ":" + referredUserID,
		Metadata: map[string]any{"reason": strings.TrimSpace(reason)},
	})
	return true, nil
}

// GetByReferred returns the referral naming userID as the referred party.
func (s *ReferralService) GetByReferred(ctx context.Context, userID string) (*models.Referral, error) {
	var referral models.Referral
	err := s.db.WithContext(ensureContext(ctx)).Take(&referral, "referred_id = ?", strings.TrimSpace(userID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrReferralNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("referral service: get referral: %w", err)
	}
	return &referral, nil
}

// Stats summarises the referrals made with the inviter's code.
func (s *ReferralService) Stats(ctx context.Context, inviterID string) (ReferralStats, error) {
	ctx = ensureContext(ctx)
	inviterID = strings.TrimSpace(inviterID)

	var inviter models.Entitlement
	err := s.db.WithContext(ctx).Select("user_id", "invite_code").Take(&inviter, "user_id = ?", inviterID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ReferralStats{}, ErrEntitlementNotFound
	}
	if err != nil {
		return ReferralStats{}, fmt.Errorf("referral service: load inviter: %w", err)
	}

	var rows []struct {
		Status models.ReferralStatus
		Total  int64
	}
	if err := s.db.WithContext(ctx).Model(&models.Referral{}).
		Select("status, COUNT(*) AS total").
		Where("inviter_id = ?", inviterID).
		Group("status").
		Scan(&rows).Error; err != nil {
		return ReferralStats{}, fmt.Errorf("referral service: count referrals: %w", err)
	}

	stats := ReferralStats{InviteCode: inviter.InviteCode}
	for _, row := range rows {
		switch row.Status {
		case models.ReferralPending:
			stats.Pending = row.Total
		case models.ReferralQualified:
			stats.Qualified = row.Total
		case models.ReferralRewarded:
			stats.Rewarded = row.Total
		case models.ReferralBlocked:
			stats.Blocked = row.Total
		}
	}

	granted, err := countInviterBonuses(s.db.WithContext(ctx), inviterID)
	if err != nil {
		return ReferralStats{}, err
	}
	stats.BonusesGranted = granted
	stats.BonusesRemaining = max(int64(s.cap)-granted, 0)
	return stats, nil
}

// countInviterBonuses counts the referral bonuses a user earned as an inviter;
// the cap applies to this number only. The bonus they received for being
// referred is sourced from their own inviter and is excluded.
func countInviterBonuses(tx *gorm.DB, inviterID string) (int64, error) {
	query := tx.Model(&models.RewardGrant{}).
		Where("user_id = ? AND reward_type = ?", inviterID, models.RewardReferralBonus)

	var own models.Referral
	err := tx.Session(&gorm.Session{NewDB: true}).
		Select("inviter_id").
		Take(&own, "referred_id = ?", inviterID).Error
	switch {
	case err == nil:
		query = query.Where("source_id <> ?", own.InviterID)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return 0, fmt.Errorf("referral service: load own referral: %w", err)
	}

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("referral service: count inviter bonuses: %w", err)
	}
	return count, nil
}

func sameBinding(existing *models.Referral, inviterID, code string) (BindResult, error) {
	if existing.InviterID == inviterID && existing.InviteCode == code {
		return BindResult{Referral: existing, Created: false}, nil
	}
	return BindResult{}, ErrReferralAlreadyBound
}

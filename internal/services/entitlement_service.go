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
	"github.com/charlesng35/trialkit/pkg/crypto"
	apperrors "github.com/charlesng35/trialkit/pkg/errors"
	"github.com/charlesng35/trialkit/pkg/logger"
)

const (
	inviteCodeLength      = 8
	maxInviteCodeAttempts = 5
	hoursPerDay           = 24
)

// SurveyResult reports the outcome of CompleteSurvey.
type SurveyResult struct {
	Completed        bool
	AlreadyCompleted bool
	Grant            *models.RewardGrant
}

// TrialStatus summarises a user's trial for display.
type TrialStatus struct {
	Entitlement   *models.Entitlement  `json:"entitlement"`
	TrialActive   bool                 `json:"trial_active"`
	DaysRemaining int                  `json:"days_remaining"`
	EffectivePlan Plan                 `json:"effective_plan"`
	Grants        []models.RewardGrant `json:"grants"`
}

// EntitlementOption customises EntitlementService behaviour.
type EntitlementOption func(*EntitlementService)

// WithEntitlementClock injects a custom clock primarily for testing.
func WithEntitlementClock(clock func() time.Time) EntitlementOption {
	return func(s *EntitlementService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithEntitlementTracker sets the tracker notified after provisioning and survey completion.
func WithEntitlementTracker(tracker EventTracker) EntitlementOption {
	return func(s *EntitlementService) {
		s.tracker = tracker
	}
}

// WithEntitlementPlanResolver sets the resolver used by Status.
func WithEntitlementPlanResolver(resolver PlanResolver) EntitlementOption {
	return func(s *EntitlementService) {
		if resolver != nil {
			s.resolver = resolver
		}
	}
}

// WithInviteCodeGenerator replaces the random invite code source.
func WithInviteCodeGenerator(generate func() (string, error)) EntitlementOption {
	return func(s *EntitlementService) {
		if generate != nil {
			s.generateCode = generate
		}
	}
}

// EntitlementService provisions and reads per-user entitlements.
type EntitlementService struct {
	db           *gorm.DB
	ledger       *RewardLedger
	resolver     PlanResolver
	tracker      EventTracker
	generateCode func() (string, error)
	now          func() time.Time
	log          *zap.Logger
}

// NewEntitlementService constructs an EntitlementService.
func NewEntitlementService(db *gorm.DB, ledger *RewardLedger, opts ...EntitlementOption) (*EntitlementService, error) {
	if db == nil {
		return nil, errors.New("entitlement service: db is required")
	}
	if ledger == nil {
		return nil, errors.New("entitlement service: reward ledger is required")
	}

	service := &EntitlementService{
		db:       db,
		ledger:   ledger,
		resolver: NewPlanResolver(nil),
		generateCode: func() (string, error) {
			return crypto.GenerateCode(inviteCodeLength, crypto.CodeAlphabet)
		},
		now: utcClock,
		log: logger.WithModule("entitlements"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// NormaliseInviteCode trims and upper-cases a user-supplied invite code.
func NormaliseInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidInviteCode reports whether code has the shape of a generated invite code.
func ValidInviteCode(code string) bool {
	if len(code) != inviteCodeLength {
		return false
	}
	for _, r := range code {
		if !strings.ContainsRune(crypto.CodeAlphabet, r) {
			return false
		}
	}
	return true
}

// Provision creates the user's entitlement with a fresh invite code. It is
// idempotent: an existing entitlement is returned with created == false.
func (s *EntitlementService) Provision(ctx context.Context, userID string) (*models.Entitlement, bool, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, false, apperrors.NewBadRequest("user id is required")
	}

	if existing, err := s.Get(ctx, userID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrEntitlementNotFound) {
		return nil, false, err
	}

	for attempt := 0; attempt < maxInviteCodeAttempts; attempt++ {
		code, err := s.generateCode()
		if err != nil {
			return nil, false, fmt.Errorf("entitlement service: generate invite code: %w", err)
		}

		entitlement := &models.Entitlement{UserID: userID, InviteCode: code}
		err = s.db.WithContext(ctx).Create(entitlement).Error
		if err == nil {
			s.log.Info("entitlement provisioned", zap.String("user_id", userID))
			trackEvent(s.tracker, ctx, Event{
				Name:     EventEntitlementProvisioned,
				UserID:   userID,
				DedupKey: EventEntitlementProvisioned + ":" + userID,
			})
			return entitlement, true, nil
		}
		if !isUniqueConstraintError(err) {
			return nil, false, fmt.Errorf("entitlement service: create entitlement: %w", err)
		}

		// Either a concurrent request provisioned this user or the code collided.
		if existing, getErr := s.Get(ctx, userID); getErr == nil {
			return existing, false, nil
		}
		s.log.Debug("invite code collision, retrying", zap.Int("attempt", attempt+1))
	}

	return nil, false, errors.New("entitlement service: could not allocate a unique invite code")
}

// Get returns the user's entitlement.
func (s *EntitlementService) Get(ctx context.Context, userID string) (*models.Entitlement, error) {
	var entitlement models.Entitlement
	err := s.db.WithContext(ensureContext(ctx)).Take(&entitlement, "user_id = ?", strings.TrimSpace(userID)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEntitlementNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("entitlement service: get entitlement: %w", err)
	}
	return &entitlement, nil
}

// GetByInviteCode resolves an invite code to its owner's entitlement.
func (s *EntitlementService) GetByInviteCode(ctx context.Context, code string) (*models.Entitlement, error) {
	return findByInviteCode(s.db.WithContext(ensureContext(ctx)), NormaliseInviteCode(code))
}

func findByInviteCode(tx *gorm.DB, code string) (*models.Entitlement, error) {
	var entitlement models.Entitlement
	err := tx.Take(&entitlement, "invite_code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidInviteCode
	}
	if err != nil {
		return nil, fmt.Errorf("entitlement service: resolve invite code: %w", err)
	}
	return &entitlement, nil
}

// CompleteSurvey stamps the one-time survey completion and grants the survey
// bonus in one transaction. Later submissions report AlreadyCompleted.
func (s *EntitlementService) CompleteSurvey(ctx context.Context, userID, submissionID string) (SurveyResult, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	submissionID = strings.TrimSpace(submissionID)
	if userID == "" {
		return SurveyResult{}, apperrors.NewBadRequest("user id is required")
	}
	if submissionID == "" {
		return SurveyResult{}, apperrors.NewBadRequest("submission id is required")
	}

	var result SurveyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Entitlement{}).
			Where("user_id = ? AND survey_completed_at IS NULL", userID).
			Update("survey_completed_at", s.now().UTC())
		if res.Error != nil {
			return fmt.Errorf("entitlement service: stamp survey: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.Entitlement{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrEntitlementNotFound
			}
			result.AlreadyCompleted = true
			return nil
		}

		grant, err := s.ledger.GrantTx(ctx, tx, GrantInput{
			UserID:     userID,
			RewardType: models.RewardSurveyBonus,
			SourceID:   submissionID,
		})
		if err != nil {
			return err
		}
		result.Completed = true
		result.Grant = grant.Grant
		return nil
	})
	if err != nil {
		return SurveyResult{}, err
	}

	if result.Completed {
		trackEvent(s.tracker, ctx, Event{
			Name:     EventSurveyCompleted,
			UserID:   userID,
			Source:   submissionID,
			DedupKey: EventSurveyCompleted + ":" + userID,
		})
		s.ledger.emitGranted(ctx, result.Grant)
	}
	return result, nil
}

// Status returns the trial view for the user.
func (s *EntitlementService) Status(ctx context.Context, userID string, account Account) (*TrialStatus, error) {
	entitlement, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	grants, err := s.ledger.ListGrants(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	remaining := entitlement.TrialRemaining(now)
	days := int(remaining / (hoursPerDay * time.Hour))
	if remaining%(hoursPerDay*time.Hour) > 0 {
		days++
	}

	return &TrialStatus{
		Entitlement:   entitlement,
		TrialActive:   entitlement.TrialActive(now),
		DaysRemaining: days,
		EffectivePlan: s.resolver(account, entitlement.TrialEndsAt, now),
		Grants:        grants,
	}, nil
}

// Delete removes the user's entitlement together with the referral that names
// them as the referred party. Ledger rows are kept for audit.
func (s *EntitlementService) Delete(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	return s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("referred_id = ?", userID).Delete(&models.Referral{}).Error; err != nil {
			return fmt.Errorf("entitlement service: delete referrals: %w", err)
		}
		res := tx.Where("user_id = ?", userID).Delete(&models.Entitlement{})
		if res.Error != nil {
			return fmt.Errorf("entitlement service: delete entitlement: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrEntitlementNotFound
		}
		return nil
	})
}

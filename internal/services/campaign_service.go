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
	"github.com/charlesng35/trialkit/pkg/validator"
)

// errClaimRace aborts a claim transaction whose grant already exists so the slot
// increment is rolled back.
var errClaimRace = errors.New("campaign: grant already recorded")

// ClaimResult reports the outcome of ClaimSlot.
type ClaimResult struct {
	Claimed        bool
	AlreadyClaimed bool
	Campaign       *models.Campaign
	Grant          *models.RewardGrant
}

// CampaignInput describes a campaign provisioned from configuration.
type CampaignInput struct {
	Key       string
	Name      string
	Enabled   bool
	MaxSlots  int
	BonusDays int
	StartsAt  *time.Time
	EndsAt    *time.Time
}

// CampaignOption customises CampaignService behaviour.
type CampaignOption func(*CampaignService)

// WithCampaignClock injects a custom clock primarily for testing.
func WithCampaignClock(clock func() time.Time) CampaignOption {
	return func(s *CampaignService) {
		if clock != nil {
			s.now = clock
		}
	}
}

// WithCampaignTracker sets the tracker notified after successful claims.
func WithCampaignTracker(tracker EventTracker) CampaignOption {
	return func(s *CampaignService) {
		s.tracker = tracker
	}
}

// CampaignService allocates capacity-limited signup slots.
type CampaignService struct {
	db      *gorm.DB
	ledger  *RewardLedger
	tracker EventTracker
	now     func() time.Time
	log     *zap.Logger
}

// NewCampaignService constructs a CampaignService.
func NewCampaignService(db *gorm.DB, ledger *RewardLedger, opts ...CampaignOption) (*CampaignService, error) {
	if db == nil {
		return nil, errors.New("campaign service: db is required")
	}
	if ledger == nil {
		return nil, errors.New("campaign service: reward ledger is required")
	}

	service := &CampaignService{
		db:     db,
		ledger: ledger,
		now:    utcClock,
		log:    logger.WithModule("campaigns"),
	}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// ClaimSlot reserves one slot of the campaign for the user and grants the signup
// bonus in the same transaction. Repeated calls by the same user return
// AlreadyClaimed without consuming another slot.
func (s *CampaignService) ClaimSlot(ctx context.Context, userID, campaignKey string) (ClaimResult, error) {
	ctx = ensureContext(ctx)
	userID = strings.TrimSpace(userID)
	campaignKey = strings.TrimSpace(campaignKey)
	if userID == "" {
		return ClaimResult{}, apperrors.NewBadRequest("user id is required")
	}
	if campaignKey == "" {
		return ClaimResult{}, apperrors.NewBadRequest("campaign key is required")
	}

	claimed, err := s.hasClaimed(s.db.WithContext(ctx), userID, campaignKey)
	if err != nil {
		return ClaimResult{}, err
	}
	if claimed {
		metrics.CampaignClaims.WithLabelValues(campaignKey, "already_claimed").Inc()
		return ClaimResult{AlreadyClaimed: true}, nil
	}

	var result ClaimResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var campaign models.Campaign
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&campaign, "campaigns.key = ?", campaignKey).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCampaignNotFound
		}
		if err != nil {
			return fmt.Errorf("campaign service: load campaign: %w", err)
		}

		if err := checkClaimable(campaign, s.now()); err != nil {
			return err
		}

		res := tx.Model(&models.Campaign{}).
			Where("id = ? AND claimed_slots < max_slots", campaign.ID).
			Updates(map[string]any{"claimed_slots": gorm.Expr("claimed_slots + 1")})
		if res.Error != nil {
			return fmt.Errorf("campaign service: reserve slot: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrCampaignFull
		}

		grant, err := s.ledger.GrantTx(ctx, tx, GrantInput{
			UserID:     userID,
			RewardType: models.RewardSignupBonus,
			SourceID:   campaignKey,
			Days:       campaign.BonusDays,
			Notes:      "campaign " + campaignKey,
		})
		if err != nil {
			return err
		}
		if grant.AlreadyExists {
			return errClaimRace
		}

		campaign.ClaimedSlots++
		result = ClaimResult{Claimed: true, Campaign: &campaign, Grant: grant.Grant}
		return nil
	})

	switch {
	case errors.Is(err, errClaimRace):
		metrics.CampaignClaims.WithLabelValues(campaignKey, "already_claimed").Inc()
		return ClaimResult{AlreadyClaimed: true}, nil
	case errors.Is(err, ErrCampaignNotFound):
		// Unknown keys come straight from the URL; keep them out of the label set.
		metrics.CampaignClaims.WithLabelValues("unknown", "not_found").Inc()
		return ClaimResult{}, err
	case err != nil:
		metrics.CampaignClaims.WithLabelValues(campaignKey, claimFailureLabel(err)).Inc()
		return ClaimResult{}, err
	}

	metrics.CampaignClaims.WithLabelValues(campaignKey, "claimed").Inc()
	s.log.Info("campaign slot claimed",
		zap.String("campaign", campaignKey),
		zap.String("user_id", userID),
		zap.Int("claimed_slots", result.Campaign.ClaimedSlots),
	)
	trackEvent(s.tracker, ctx, Event{
		Name:     EventCampaignSlotClaimed,
		UserID:   userID,
		Source:   campaignKey,
		DedupKey: EventCampaignSlotClaimed + ":" + userID + ":" + campaignKey,
		Metadata: map[string]any{
			"claimed_slots": result.Campaign.ClaimedSlots,
			"max_slots":     result.Campaign.MaxSlots,
		},
	})
	s.ledger.emitGranted(ctx, result.Grant)
	return result, nil
}

// Get returns the campaign identified by key.
func (s *CampaignService) Get(ctx context.Context, key string) (*models.Campaign, error) {
	var campaign models.Campaign
	err := s.db.WithContext(ensureContext(ctx)).Take(&campaign, "campaigns.key = ?", strings.TrimSpace(key)).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCampaignNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("campaign service: get campaign: %w", err)
	}
	return &campaign, nil
}

// Upsert creates or updates a campaign definition. Capacity is never reduced
// below the number of slots already claimed.
func (s *CampaignService) Upsert(ctx context.Context, input CampaignInput) (*models.Campaign, error) {
	input.Key = strings.TrimSpace(input.Key)
	if !validator.IsSlug(input.Key) {
		return nil, apperrors.NewBadRequest("campaign key must be a slug")
	}
	if input.MaxSlots < 0 {
		return nil, apperrors.NewBadRequest("max slots must not be negative")
	}
	if input.BonusDays < 0 {
		return nil, apperrors.NewBadRequest("bonus days must not be negative")
	}
	if input.StartsAt != nil && input.EndsAt != nil && input.EndsAt.Before(*input.StartsAt) {
		return nil, apperrors.NewBadRequest("campaign must end after it starts")
	}

	var campaign models.Campaign
	err := s.db.WithContext(ensureContext(ctx)).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Take(&campaign, "campaigns.key = ?", input.Key).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			campaign = models.Campaign{Key: input.Key}
			applyCampaignInput(&campaign, input)
			return tx.Create(&campaign).Error
		}
		if err != nil {
			return err
		}

		applyCampaignInput(&campaign, input)
		if campaign.MaxSlots < campaign.ClaimedSlots {
			campaign.MaxSlots = campaign.ClaimedSlots
		}
		return tx.Model(&campaign).Select("name", "enabled", "max_slots", "bonus_days", "starts_at", "ends_at").
			Updates(&campaign).Error
	})
	if err != nil {
		return nil, fmt.Errorf("campaign service: upsert %s: %w", input.Key, err)
	}
	return &campaign, nil
}

func (s *CampaignService) hasClaimed(tx *gorm.DB, userID, campaignKey string) (bool, error) {
	var count int64
	err := tx.Model(&models.RewardGrant{}).
		Where("user_id = ? AND reward_type = ? AND source_id = ?", userID, models.RewardSignupBonus, campaignKey).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("campaign service: lookup grant: %w", err)
	}
	return count > 0, nil
}

// checkClaimable applies the campaign preconditions in their documented order.
func checkClaimable(campaign models.Campaign, now time.Time) error {
	switch {
	case !campaign.Enabled:
		return ErrCampaignDisabled
	case !campaign.Started(now):
		return ErrCampaignNotStarted
	case campaign.Ended(now):
		return ErrCampaignEnded
	case campaign.ClaimedSlots >= campaign.MaxSlots:
		return ErrCampaignFull
	}
	return nil
}

func applyCampaignInput(campaign *models.Campaign, input CampaignInput) {
	campaign.Name = strings.TrimSpace(input.Name)
	campaign.Enabled = input.Enabled
	campaign.MaxSlots = input.MaxSlots
	campaign.BonusDays = input.BonusDays
	campaign.StartsAt = input.StartsAt
	campaign.EndsAt = input.EndsAt
}

func claimFailureLabel(err error) string {
	switch {
	case errors.Is(err, ErrCampaignNotFound):
		return "not_found"
	case errors.Is(err, ErrCampaignDisabled):
		return "disabled"
	case errors.Is(err, ErrCampaignNotStarted):
		return "not_started"
	case errors.Is(err, ErrCampaignEnded):
		return "ended"
	case errors.Is(err, ErrCampaignFull):
		return "full"
	default:
		return "error"
	}
}

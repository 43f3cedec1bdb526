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

	"github.com/charlesng35/trialkit/internal/database"
	"github.com/charlesng35/trialkit/internal/models"
	apperrors "github.com/charlesng35/trialkit/pkg/errors"
	"github.com/charlesng35/trialkit/pkg/logger"
	"github.com/charlesng35/trialkit/pkg/metrics"
)

// DefaultRewardDays is used when configuration does not override a reward type.
var DefaultRewardDays = map[models.RewardType]int{
	models.RewardSignupBonus:   30,
	models.RewardSurveyBonus:   7,
	models.RewardReferralBonus: 14,
}

// GrantInput identifies a single reward. (UserID, RewardType, SourceID) is the
// idempotency key. Days == 0 selects the configured amount for the reward type.
type GrantInput struct {
	UserID     string
	RewardType models.RewardType
	SourceID   string
	Days       int
	Notes      string
}

// GrantResult reports what a grant call did. Exactly one of Granted and
// AlreadyExists is true on success.
type GrantResult struct {
	Granted       bool
	AlreadyExists bool
	Grant         *models.RewardGrant
}

// RewardLedgerOption customises RewardLedger behaviour.
type RewardLedgerOption func(*RewardLedger)

// WithRewardClock injects a custom clock primarily for testing.
func WithRewardClock(clock func() time.Time) RewardLedgerOption {
	return func(l *RewardLedger) {
		if clock != nil {
			l.now = clock
		}
	}
}

// WithRewardDays overrides the day count per reward type. Unknown types and
// non-positive values are ignored.
func WithRewardDays(days map[models.RewardType]int) RewardLedgerOption {
	return func(l *RewardLedger) {
		for rewardType, value := range days {
			if rewardType.Valid() && value > 0 {
				l.days[rewardType] = value
			}
		}
	}
}

// WithRewardTracker sets the tracker notified after standalone grants commit.
func WithRewardTracker(tracker EventTracker) RewardLedgerOption {
	return func(l *RewardLedger) {
		l.tracker = tracker
	}
}

// RewardLedger records idempotent reward grants and extends trials atomically.
type RewardLedger struct {
	db      *gorm.DB
	days    map[models.RewardType]int
	tracker EventTracker
	now     func() time.Time
	log     *zap.Logger
}

// NewRewardLedger constructs a RewardLedger.
func NewRewardLedger(db *gorm.DB, opts ...RewardLedgerOption) (*RewardLedger, error) {
	if db == nil {
		return nil, errors.New("reward ledger: db is required")
	}

	ledger := &RewardLedger{
		db:   db,
		days: make(map[models.RewardType]int, len(models.RewardTypes)),
		now:  utcClock,
		log:  logger.WithModule("rewards"),
	}
	for _, rewardType := range models.RewardTypes {
		ledger.days[rewardType] = DefaultRewardDays[rewardType]
	}
	for _, opt := range opts {
		opt(ledger)
	}
	for _, rewardType := range models.RewardTypes {
		if ledger.days[rewardType] <= 0 {
			return nil, fmt.Errorf("reward ledger: no days configured for %s", rewardType)
		}
	}
	return ledger, nil
}

// DaysFor returns the configured number of days for a reward type.
func (l *RewardLedger) DaysFor(rewardType models.RewardType) int {
	return l.days[rewardType]
}

// Grant records the reward and extends the user's trial in its own transaction.
func (l *RewardLedger) Grant(ctx context.Context, in GrantInput) (GrantResult, error) {
	ctx = ensureContext(ctx)

	var result GrantResult
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = l.GrantTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return GrantResult{}, err
	}

	if result.Granted {
		l.emitGranted(ctx, result.Grant)
	}
	return result, nil
}

// GrantTx performs the grant inside the caller's transaction. A returned error
// must abort that transaction; the caller emits events after it commits.
func (l *RewardLedger) GrantTx(ctx context.Context, tx *gorm.DB, in GrantInput) (GrantResult, error) {
	in, err := l.normalise(in)
	if err != nil {
		return GrantResult{}, err
	}
	tx = tx.WithContext(ensureContext(ctx))

	now := l.now().UTC()
	grant := &models.RewardGrant{
		UserID:     in.UserID,
		RewardType: in.RewardType,
		SourceID:   in.SourceID,
		Days:       in.Days,
		GrantedAt:  now,
		Notes:      optionalString(in.Notes),
	}

	var inserted bool
	// The savepoint keeps the outer transaction usable if a driver reports the
	// conflict as an error instead of honouring DO NOTHING.
	err = tx.Transaction(func(sp *gorm.DB) error {
		res := sp.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "reward_type"}, {Name: "source_id"}},
			DoNothing: true,
		}).Create(grant)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected > 0
		return nil
	})
	if err != nil && !isUniqueConstraintError(err) {
		metrics.RewardGrants.WithLabelValues(string(in.RewardType), "error").Inc()
		return GrantResult{}, fmt.Errorf("reward ledger: insert grant: %w", err)
	}
	if err != nil || !inserted {
		metrics.RewardGrants.WithLabelValues(string(in.RewardType), "exists").Inc()
		return GrantResult{AlreadyExists: true}, nil
	}

	res := tx.Model(&models.Entitlement{}).
		Where("user_id = ?", in.UserID).
		Updates(map[string]any{
			"trial_ends_at": database.TrialExtensionExpr(tx, now, in.Days),
			"trial_source":  string(in.RewardType),
		})
	if res.Error != nil {
		metrics.RewardGrants.WithLabelValues(string(in.RewardType), "error").Inc()
		return GrantResult{}, fmt.Errorf("reward ledger: extend trial: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Entitlements are provisioned at account creation; reaching this is a bug upstream.
		l.log.Error("grant for user without entitlement",
			zap.String("user_id", in.UserID),
			zap.String("reward_type", string(in.RewardType)),
			zap.String("source_id", in.SourceID),
		)
		metrics.RewardGrants.WithLabelValues(string(in.RewardType), "error").Inc()
		return GrantResult{}, ErrEntitlementNotFound
	}

	metrics.RewardGrants.WithLabelValues(string(in.RewardType), "granted").Inc()
	metrics.RewardDays.WithLabelValues(string(in.RewardType)).Add(float64(in.Days))
	return GrantResult{Granted: true, Grant: grant}, nil
}

// ListGrants returns a user's ledger rows, oldest first.
func (l *RewardLedger) ListGrants(ctx context.Context, userID string) ([]models.RewardGrant, error) {
	var grants []models.RewardGrant
	err := l.db.WithContext(ensureContext(ctx)).
		Where("user_id = ?", strings.TrimSpace(userID)).
		Order("granted_at ASC").
		Find(&grants).Error
	if err != nil {
		return nil, fmt.Errorf("reward ledger: list grants: %w", err)
	}
	return grants, nil
}

// CountGrants counts a user's grants of one reward type.
func (l *RewardLedger) CountGrants(ctx context.Context, userID string, rewardType models.RewardType) (int64, error) {
	return countGrants(l.db.WithContext(ensureContext(ctx)), userID, rewardType)
}

func countGrants(tx *gorm.DB, userID string, rewardType models.RewardType) (int64, error) {
	var count int64
	err := tx.Model(&models.RewardGrant{}).
		Where("user_id = ? AND reward_type = ?", userID, rewardType).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("reward ledger: count grants: %w", err)
	}
	return count, nil
}

func (l *RewardLedger) normalise(in GrantInput) (GrantInput, error) {
	in.UserID = strings.TrimSpace(in.UserID)
	in.SourceID = strings.TrimSpace(in.SourceID)
	if in.UserID == "" {
		return in, apperrors.NewBadRequest("user id is required")
	}
	if in.SourceID == "" {
		return in, apperrors.NewBadRequest("source id is required")
	}
	if !in.RewardType.Valid() {
		return in, ErrInvalidRewardType
	}
	if in.Days < 0 {
		return in, ErrInvalidRewardDays
	}
	if in.Days == 0 {
		in.Days = l.days[in.RewardType]
	}
	if in.Days <= 0 {
		return in, ErrInvalidRewardDays
	}
	return in, nil
}

func (l *RewardLedger) emitGranted(ctx context.Context, grant *models.RewardGrant) {
	if grant == nil {
		return
	}
	trackEvent(l.tracker, ctx, Event{
		Name:     EventRewardGranted,
		UserID:   grant.UserID,
		Source:   grant.SourceID,
		DedupKey: fmt.Sprintf("%s:%s:%s:%s", EventRewardGranted, grant.UserID, grant.RewardType, grant.SourceID),
		Metadata: map[string]any{
			"reward_type": string(grant.RewardType),
			"days":        grant.Days,
		},
	})
}

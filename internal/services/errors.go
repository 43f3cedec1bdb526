package services

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	apperrors "github.com/charlesng35/trialkit/pkg/errors"
)

var (
	// ErrCampaignNotFound indicates no campaign exists for the requested key.
	ErrCampaignNotFound = apperrors.New("CAMPAIGN_NOT_FOUND", "Campaign not found", http.StatusNotFound)
	// ErrCampaignDisabled indicates the campaign exists but is switched off.
	ErrCampaignDisabled = apperrors.New("CAMPAIGN_DISABLED", "Campaign is not active", http.StatusConflict)
	// ErrCampaignNotStarted indicates the campaign window has not opened yet.
	ErrCampaignNotStarted = apperrors.New("CAMPAIGN_NOT_STARTED", "Campaign has not started yet", http.StatusConflict)
	// ErrCampaignEnded indicates the campaign window has closed.
	ErrCampaignEnded = apperrors.New("CAMPAIGN_ENDED", "Campaign has ended", http.StatusConflict)
	// ErrCampaignFull indicates every slot has been claimed.
	ErrCampaignFull = apperrors.New("CAMPAIGN_FULL", "All campaign slots have been claimed", http.StatusConflict)

	// ErrEntitlementNotFound indicates the user has no provisioned entitlement.
	ErrEntitlementNotFound = apperrors.New("ENTITLEMENT_NOT_FOUND", "Entitlement not found", http.StatusNotFound)

	// ErrInvalidRewardType rejects reward types the ledger does not know.
	ErrInvalidRewardType = apperrors.New("VALIDATION_REWARD_TYPE", "Unknown reward type", http.StatusBadRequest)
	// ErrInvalidRewardDays rejects negative or unconfigured day counts.
	ErrInvalidRewardDays = apperrors.New("VALIDATION_REWARD_DAYS", "Reward days must be positive", http.StatusBadRequest)

	// ErrInviteCodeMalformed rejects codes that cannot be valid before touching the database.
	ErrInviteCodeMalformed = apperrors.New("VALIDATION_INVITE_CODE", "Invite code is malformed", http.StatusBadRequest)
	// ErrInvalidInviteCode indicates the code does not belong to any user.
	ErrInvalidInviteCode = apperrors.New("INVITE_CODE_INVALID", "Invite code not found", http.StatusNotFound)
	// ErrSelfReferral prevents users from redeeming their own code.
	ErrSelfReferral = apperrors.New("REFERRAL_SELF", "You cannot use your own invite code", http.StatusBadRequest)
	// ErrReferralCycle rejects a code whose owner was referred by the redeeming user.
	ErrReferralCycle = apperrors.New("REFERRAL_CYCLE", "You cannot use the invite code of someone you referred", http.StatusConflict)
	// ErrReferralNotFound indicates the user was never referred.
	ErrReferralNotFound = apperrors.New("REFERRAL_NOT_FOUND", "Referral not found", http.StatusNotFound)
	// ErrReferralAlreadyBound indicates the user was already referred by someone else.
	ErrReferralAlreadyBound = apperrors.New("REFERRAL_ALREADY_BOUND", "An invite code has already been applied", http.StatusConflict)

	// ErrUnknownQuotaType rejects quota types with no configured limit.
	ErrUnknownQuotaType = apperrors.New("VALIDATION_QUOTA_TYPE", "Unknown quota type", http.StatusBadRequest)
	// ErrQuotaExceeded is the client-facing form of QuotaExceededError.
	ErrQuotaExceeded = apperrors.New("QUOTA_EXCEEDED", "Plan limit reached", http.StatusForbidden)
)

// QuotaExceededError reports a rejected quota-gated action. It unwraps to
// ErrQuotaExceeded so handlers render it like any other AppError.
type QuotaExceededError struct {
	QuotaType QuotaType
	Plan      Plan
	Current   int64
	Limit     int64
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %s %d/%d on %s plan", e.QuotaType, e.Current, e.Limit, e.Plan)
}

func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded.WithDetails(map[string]any{
		"quota_type": string(e.QuotaType),
		"plan":       string(e.Plan),
		"current":    e.Current,
		"limit":      e.Limit,
	})
}

// isUniqueConstraintError detects database uniqueness constraint violations across vendors.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr != nil && pgErr.Code == "23505" {
		return true
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr != nil && myErr.Number == 1062 {
		return true
	}

	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "unique constraint") ||
		strings.Contains(lower, "duplicate")
}

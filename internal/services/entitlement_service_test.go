package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/trialkit/internal/models"
)

func TestEntitlementProvisionIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, created, err := env.entitlements.Provision(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, created)
	require.True(t, ValidInviteCode(first.InviteCode))
	require.Nil(t, first.TrialEndsAt)

	second, created, err := env.entitlements.Provision(ctx, "u-1")
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.InviteCode, second.InviteCode)

	found, err := env.entitlements.GetByInviteCode(ctx, " "+first.InviteCode)
	require.NoError(t, err)
	require.Equal(t, "u-1", found.UserID)

	_, err = env.entitlements.GetByInviteCode(ctx, "NOPE2345")
	require.ErrorIs(t, err, ErrInvalidInviteCode)
	require.Contains(t, env.tracker.Names(), EventEntitlementProvisioned)
}

func TestEntitlementProvisionRetriesCodeCollisions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	codes := []string{"AAAA2222", "AAAA2222", "BBBB3333"}
	entitlements, err := NewEntitlementService(env.db, env.ledger, WithInviteCodeGenerator(func() (string, error) {
		code := codes[0]
		codes = codes[1:]
		return code, nil
	}))
	require.NoError(t, err)

	first, _, err := entitlements.Provision(ctx, "u-1")
	require.NoError(t, err)
	require.Equal(t, "AAAA2222", first.InviteCode)

	second, created, err := entitlements.Provision(ctx, "u-2")
	require.NoError(t, err)
	require.True(t, created)
	require.Equal(t, "BBBB3333", second.InviteCode)
}

func TestEntitlementProvisionGivesUpAfterRepeatedCollisions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	entitlements, err := NewEntitlementService(env.db, env.ledger, WithInviteCodeGenerator(func() (string, error) {
		return "SAME2222", nil
	}))
	require.NoError(t, err)

	_, _, err = entitlements.Provision(ctx, "u-1")
	require.NoError(t, err)
	_, _, err = entitlements.Provision(ctx, "u-2")
	require.Error(t, err)

	broken, err := NewEntitlementService(env.db, env.ledger, WithInviteCodeGenerator(func() (string, error) {
		return "", errors.New("entropy exhausted")
	}))
	require.NoError(t, err)
	_, _, err = broken.Provision(ctx, "u-3")
	require.Error(t, err)
}

func TestEntitlementCompleteSurveyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provision(t, "u-1")

	result, err := env.entitlements.CompleteSurvey(ctx, "u-1", "form-123")
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.NotNil(t, result.Grant)
	require.Equal(t, "form-123", result.Grant.SourceID)

	entitlement := env.entitlement(t, "u-1")
	require.NotNil(t, entitlement.SurveyCompletedAt)
	requireTrialEnds(t, env.clock.Now().Add(days(DefaultRewardDays[models.RewardSurveyBonus])), entitlement)

	// A second submission, even with a new id, earns nothing.
	again, err := env.entitlements.CompleteSurvey(ctx, "u-1", "form-456")
	require.NoError(t, err)
	require.False(t, again.Completed)
	require.True(t, again.AlreadyCompleted)
	require.Equal(t, int64(1), env.grantCount(t, "u-1", models.RewardSurveyBonus))

	_, err = env.entitlements.CompleteSurvey(ctx, "ghost", "form-1")
	require.ErrorIs(t, err, ErrEntitlementNotFound)

	_, err = env.entitlements.CompleteSurvey(ctx, "u-1", " ")
	require.Error(t, err)
}

func TestEntitlementStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.provision(t, "u-1")

	status, err := env.entitlements.Status(ctx, "u-1", Account{Plan: PlanFree})
	require.NoError(t, err)
	require.False(t, status.TrialActive)
	require.Equal(t, 0, status.DaysRemaining)
	require.Equal(t, PlanFree, status.EffectivePlan)
	require.Empty(t, status.Grants)

	_, err = env.ledger.Grant(ctx, GrantInput{UserID: "u-1", RewardType: models.RewardSurveyBonus, SourceID: "s-1", Days: 7})
	require.NoError(t, err)
	env.clock.Set(env.clock.Now().Add(days(1)).Add(-1))

	status, err = env.entitlements.Status(ctx, "u-1", Account{Plan: PlanFree})
	require.NoError(t, err)
	require.True(t, status.TrialActive)
	require.Equal(t, 7, status.DaysRemaining)
	require.Equal(t, PlanStandard, status.EffectivePlan)
	require.Len(t, status.Grants, 1)

	_, err = env.entitlements.Status(ctx, "ghost", Account{})
	require.ErrorIs(t, err, ErrEntitlementNotFound)
}

func TestEntitlementDeleteRemovesReferralButKeepsLedger(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inviter := env.provision(t, "inviter")
	env.provision(t, "friend")

	_, err := env.referrals.BindReferral(ctx, "friend", inviter.InviteCode)
	require.NoError(t, err)
	_, err = env.ledger.Grant(ctx, GrantInput{UserID: "friend", RewardType: models.RewardSurveyBonus, SourceID: "s-1"})
	require.NoError(t, err)

	require.NoError(t, env.entitlements.Delete(ctx, "friend"))

	_, err = env.entitlements.Get(ctx, "friend")
	require.ErrorIs(t, err, ErrEntitlementNotFound)
	_, err = env.referrals.GetByReferred(ctx, "friend")
	require.ErrorIs(t, err, ErrReferralNotFound)
	require.Equal(t, int64(1), env.grantCount(t, "friend", models.RewardSurveyBonus))

	require.ErrorIs(t, env.entitlements.Delete(ctx, "friend"), ErrEntitlementNotFound)
}

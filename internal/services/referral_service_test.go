package services

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/trialkit/internal/models"
)

func TestReferralBindValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inviter := env.provision(t, "inviter")
	env.provision(t, "friend")

	_, err := env.referrals.BindReferral(ctx, "friend", "bad code!")
	require.ErrorIs(t, err, ErrInviteCodeMalformed)

	_, err = env.referrals.BindReferral(ctx, "friend", "ZZZZ2222")
	require.ErrorIs(t, err, ErrInvalidInviteCode)

	_, err = env.referrals.BindReferral(ctx, "inviter", inviter.InviteCode)
	require.ErrorIs(t, err, ErrSelfReferral)

	_, err = env.referrals.BindReferral(ctx, "nobody", inviter.InviteCode)
	require.ErrorIs(t, err, ErrEntitlementNotFound)
}

func TestReferralBindIsIdempotentForSameCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inviter := env.provision(t, "inviter")
	other := env.provision(t, "other")
	env.provision(t, "friend")

	// Codes are accepted case-insensitively with surrounding whitespace.
	first, err := env.referrals.BindReferral(ctx, "friend", "  "+strings.ToLower(inviter.InviteCode)+" ")
	require.NoError(t, err)
	require.True(t, first.Created)
	require.Equal(t, models.ReferralPending, first.Referral.Status)
	require.Equal(t, "inviter", first.Referral.InviterID)

	friend := env.entitlement(t, "friend")
	require.NotNil(t, friend.InvitedByCode)
	require.Equal(t, inviter.InviteCode, *friend.InvitedByCode)

	again, err := env.referrals.BindReferral(ctx, "friend", inviter.InviteCode)
	require.NoError(t, err)
	require.False(t, again.Created)
	require.Equal(t, first.Referral.ID, again.Referral.ID)

	_, err = env.referrals.BindReferral(ctx, "friend", other.InviteCode)
	require.ErrorIs(t, err, ErrReferralAlreadyBound)
	require.Contains(t, env.tracker.Names(), EventReferralBound)
}

func TestReferralLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inviter := env.provision(t, "inviter")
	env.provision(t, "friend")

	_, err := env.referrals.BindReferral(ctx, "friend", inviter.InviteCode)
	require.NoError(t, err)

	// No activity yet.
	result, err := env.referrals.CheckAndQualify(ctx, "friend")
	require.NoError(t, err)
	require.Equal(t, models.ReferralPending, result.Status)
	require.False(t, result.Rewarded)

	// One experience is not enough on its own.
	env.addExperience(t, "friend", env.clock.Now())
	result, err = env.referrals.CheckAndQualify(ctx, "friend")
	require.NoError(t, err)
	require.Equal(t, models.ReferralPending, result.Status)

	env.addESDocument(t, "friend", env.clock.Now())
	result, err = env.referrals.CheckAndQualify(ctx, "friend")
	require.NoError(t, err)
	require.Equal(t, models.ReferralRewarded, result.Status)
	require.True(t, result.Rewarded)
	require.True(t, result.InviterRewarded)

	require.Equal(t, int64(1), env.grantCount(t, "inviter", models.RewardReferralBonus))
	require.Equal(t, int64(1), env.grantCount(t, "friend", models.RewardReferralBonus))

	referralDays := days(DefaultRewardDays[models.RewardReferralBonus])
	requireTrialEnds(t, env.clock.Now().Add(referralDays), env.entitlement(t, "inviter"))
	requireTrialEnds(t, env.clock.Now().Add(referralDays), env.entitlement(t, "friend"))

	referral, err := env.referrals.GetByReferred(ctx, "friend")
	require.NoError(t, err)
	require.Equal(t, models.ReferralRewarded, referral.Status)
	require.NotNil(t, referral.QualifiedAt)
	require.NotNil(t, referral.RewardedAt)

	// Further checks are no-ops.
	result, err = env.referrals.CheckAndQualify(ctx, "friend")
	require.NoError(t, err)
	require.Equal(t, models.ReferralRewarded, result.Status)
	require.False(t, result.Rewarded)
	require.Equal(t, int64(1), env.grantCount(t, "inviter", models.RewardReferralBonus))

	names := env.tracker.Names()
	require.Contains(t, names, EventReferralQualified)
	require.Contains(t, names, EventReferralRewarded)
}

func TestReferralRejectsMutualBinding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	alice := env.provision(t, "alice")
	bob := env.provision(t, "bob")

	_, err := env.referrals.BindReferral(ctx, "bob", alice.InviteCode)
	require.NoError(t, err)

	_, err = env.referrals.BindReferral(ctx, "alice", bob.InviteCode)
	require.ErrorIs(t, err, ErrReferralCycle)
	_, err = env.referrals.GetByReferred(ctx, "alice")
	require.ErrorIs(t, err, ErrReferralNotFound)
	require.Nil(t, env.entitlement(t, "alice").InvitedByCode)

	env.addExperience(t, "bob", env.clock.Now())
	env.addESDocument(t, "bob", env.clock.Now())
	result, err := env.referrals.CheckAndQualify(ctx, "bob")
	require.NoError(t, err)
	require.True(t, result.InviterRewarded)
	require.Equal(t, int64(1), env.grantCount(t, "alice", models.RewardReferralBonus))
	require.Equal(t, int64(1), env.grantCount(t, "bob", models.RewardReferralBonus))

	// Longer chains do not share grant keys and stay allowed.
	carol := env.provision(t, "carol")
	_, err = env.referrals.BindReferral(ctx, "carol", bob.InviteCode)
	require.NoError(t, err)
	_, err = env.referrals.BindReferral(ctx, "alice", carol.InviteCode)
	require.NoError(t, err)
}

func TestReferralCheckWithoutReferralIsNoop(t *testing.T) {
	env := newTestEnv(t)
	env.provision(t, "solo")

	result, err := env.referrals.CheckAndQualify(context.Background(), "solo")
	require.NoError(t, err)
	require.Empty(t, result.Status)
	require.False(t, result.Rewarded)
}

func TestReferralCapEnforcement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inviter := env.provision(t, "inviter")

	qualify := func(userID string) QualifyResult {
		env.provision(t, userID)
		_, err := env.referrals.BindReferral(ctx, userID, inviter.InviteCode)
		require.NoError(t, err)
		env.addExperience(t, userID, env.clock.Now())
		env.addESDocument(t, userID, env.clock.Now())
		result, err := env.referrals.CheckAndQualify(ctx, userID)
		require.NoError(t, err)
		return result
	}

	for i := 0; i < DefaultReferralCap; i++ {
		result := qualify(fmt.Sprintf("friend-%d", i))
		require.True(t, result.InviterRewarded)
	}
	require.Equal(t, int64(DefaultReferralCap), env.grantCount(t, "inviter", models.RewardReferralBonus))
	trialBefore := *env.entitlement(t, "inviter").TrialEndsAt

	result := qualify("friend-extra")
	require.Equal(t, models.ReferralRewarded, result.Status)
	require.True(t, result.Rewarded)
	require.False(t, result.InviterRewarded)

	require.Equal(t, int64(DefaultReferralCap), env.grantCount(t, "inviter", models.RewardReferralBonus))
	require.Equal(t, int64(1), env.grantCount(t, "friend-extra", models.RewardReferralBonus))
	require.WithinDuration(t, trialBefore, *env.entitlement(t, "inviter").TrialEndsAt, 0)

	stats, err := env.referrals.Stats(ctx, "inviter")
	require.NoError(t, err)
	require.Equal(t, int64(DefaultReferralCap+1), stats.Rewarded)
	require.Equal(t, int64(DefaultReferralCap), stats.BonusesGranted)
	require.Equal(t, int64(0), stats.BonusesRemaining)
	require.Equal(t, inviter.InviteCode, stats.InviteCode)
}

func TestReferralOwnBonusDoesNotCountTowardCap(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	root := env.provision(t, "root")
	middle := env.provision(t, "middle")
	env.provision(t, "leaf")

	referrals, err := NewReferralService(env.db, env.ledger, env.usage,
		WithReferralClock(env.clock.Now), WithReferralCap(1))
	require.NoError(t, err)

	_, err = referrals.BindReferral(ctx, "middle", root.InviteCode)
	require.NoError(t, err)
	env.addExperience(t, "middle", env.clock.Now())
	env.addESDocument(t, "middle", env.clock.Now())
	_, err = referrals.CheckAndQualify(ctx, "middle")
	require.NoError(t, err)
	require.Equal(t, int64(1), env.grantCount(t, "middle", models.RewardReferralBonus))

	_, err = referrals.BindReferral(ctx, "leaf", middle.InviteCode)
	require.NoError(t, err)
	env.addExperience(t, "leaf", env.clock.Now())
	env.addESDocument(t, "leaf", env.clock.Now())
	result, err := referrals.CheckAndQualify(ctx, "leaf")
	require.NoError(t, err)
	require.True(t, result.InviterRewarded)
	require.Equal(t, int64(2), env.grantCount(t, "middle", models.RewardReferralBonus))

	stats, err := referrals.Stats(ctx, "middle")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.BonusesGranted)
	require.Equal(t, int64(0), stats.BonusesRemaining)
}

func TestReferralBlock(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inviter := env.provision(t, "inviter")
	env.provision(t, "friend")

	_, err := env.referrals.BindReferral(ctx, "friend", inviter.InviteCode)
	require.NoError(t, err)

	blocked, err := env.referrals.Block(ctx, "friend", "duplicate device")
	require.NoError(t, err)
	require.True(t, blocked)

	// Blocked is terminal.
	blocked, err = env.referrals.Block(ctx, "friend", "again")
	require.NoError(t, err)
	require.False(t, blocked)

	env.addExperience(t, "friend", env.clock.Now())
	env.addESDocument(t, "friend", env.clock.Now())
	result, err := env.referrals.CheckAndQualify(ctx, "friend")
	require.NoError(t, err)
	require.Equal(t, models.ReferralBlocked, result.Status)
	require.Equal(t, int64(0), env.grantCount(t, "friend", models.RewardReferralBonus))

	referral, err := env.referrals.GetByReferred(ctx, "friend")
	require.NoError(t, err)
	require.NotNil(t, referral.BlockedReason)
	require.Equal(t, "duplicate device", *referral.BlockedReason)

	stats, err := env.referrals.Stats(ctx, "inviter")
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Blocked)
	require.Equal(t, int64(DefaultReferralCap), stats.BonusesRemaining)
}

func TestReferralBlockLeavesSettledReferralsAlone(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inviter := env.provision(t, "inviter")
	env.provision(t, "friend")

	blocked, err := env.referrals.Block(ctx, "stranger", "no referral")
	require.NoError(t, err)
	require.False(t, blocked)

	_, err = env.referrals.BindReferral(ctx, "friend", inviter.InviteCode)
	require.NoError(t, err)
	env.addExperience(t, "friend", env.clock.Now())
	env.addESDocument(t, "friend", env.clock.Now())
	result, err := env.referrals.CheckAndQualify(ctx, "friend")
	require.NoError(t, err)
	require.True(t, result.Rewarded)

	blocked, err = env.referrals.Block(ctx, "friend", "too late")
	require.NoError(t, err)
	require.False(t, blocked)

	referral, err := env.referrals.GetByReferred(ctx, "friend")
	require.NoError(t, err)
	require.Equal(t, models.ReferralRewarded, referral.Status)
	require.Nil(t, referral.BlockedReason)
	require.NotContains(t, env.tracker.Names(), EventReferralBlocked)
}

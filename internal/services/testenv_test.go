package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/database/testutil"
	"github.com/charlesng35/trialkit/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 4, 15, 10, 30, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingTracker struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingTracker) Track(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, event)
	return nil
}

func (r *recordingTracker) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, event := range r.events {
		names[i] = event.Name
	}
	return names
}

type testEnv struct {
	db           *gorm.DB
	clock        *testClock
	tracker      *recordingTracker
	ledger       *RewardLedger
	usage        *UsageCounter
	campaigns    *CampaignService
	referrals    *ReferralService
	quota        *QuotaService
	entitlements *EntitlementService
}

func newTestEnv(t *testing.T, campaigns ...models.Campaign) *testEnv {
	t.Helper()

	opts := []testutil.TestDBOption{testutil.WithAutoMigrate()}
	if len(campaigns) > 0 {
		opts = append(opts, testutil.WithCampaigns(campaigns...))
	}
	db := testutil.MustOpenTestDB(t, opts...)

	env := &testEnv{db: db, clock: newTestClock(), tracker: &recordingTracker{}}

	var err error
	env.ledger, err = NewRewardLedger(db, WithRewardClock(env.clock.Now), WithRewardTracker(env.tracker))
	require.NoError(t, err)
	env.usage, err = NewUsageCounter(db)
	require.NoError(t, err)
	env.campaigns, err = NewCampaignService(db, env.ledger,
		WithCampaignClock(env.clock.Now), WithCampaignTracker(env.tracker))
	require.NoError(t, err)
	env.referrals, err = NewReferralService(db, env.ledger, env.usage,
		WithReferralClock(env.clock.Now), WithReferralTracker(env.tracker))
	require.NoError(t, err)
	env.quota, err = NewQuotaService(db, env.usage, WithQuotaClock(env.clock.Now))
	require.NoError(t, err)
	env.entitlements, err = NewEntitlementService(db, env.ledger,
		WithEntitlementClock(env.clock.Now), WithEntitlementTracker(env.tracker))
	require.NoError(t, err)
	return env
}

func (e *testEnv) provision(t *testing.T, userID string) *models.Entitlement {
	t.Helper()
	entitlement, _, err := e.entitlements.Provision(context.Background(), userID)
	require.NoError(t, err)
	return entitlement
}

func (e *testEnv) entitlement(t *testing.T, userID string) *models.Entitlement {
	t.Helper()
	entitlement, err := e.entitlements.Get(context.Background(), userID)
	require.NoError(t, err)
	return entitlement
}

func (e *testEnv) grantCount(t *testing.T, userID string, rewardType models.RewardType) int64 {
	t.Helper()
	count, err := e.ledger.CountGrants(context.Background(), userID, rewardType)
	require.NoError(t, err)
	return count
}

func (e *testEnv) addExperience(t *testing.T, userID string, at time.Time) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.Experience{ID: uuid.NewString(), UserID: userID, CreatedAt: at.UTC()}).Error)
}

func (e *testEnv) addESDocument(t *testing.T, userID string, at time.Time) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.ESDocument{ID: uuid.NewString(), UserID: userID, CreatedAt: at.UTC()}).Error)
}

func (e *testEnv) addInterviewSession(t *testing.T, userID string, at time.Time) {
	t.Helper()
	require.NoError(t, e.db.Create(&models.InterviewSession{ID: uuid.NewString(), UserID: userID, CreatedAt: at.UTC()}).Error)
}

func requireTrialEnds(t *testing.T, want time.Time, entitlement *models.Entitlement) {
	t.Helper()
	require.NotNil(t, entitlement.TrialEndsAt)
	require.WithinDuration(t, want, *entitlement.TrialEndsAt, time.Second)
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}

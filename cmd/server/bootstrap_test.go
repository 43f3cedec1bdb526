package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/charlesng35/trialkit/internal/app"
	"github.com/charlesng35/trialkit/internal/cache"
	testutil "github.com/charlesng35/trialkit/internal/database/testutil"
	"github.com/charlesng35/trialkit/internal/middleware"
	"github.com/charlesng35/trialkit/internal/models"
)

func testConfig(t *testing.T) *app.Config {
	t.Helper()

	cfg, err := app.LoadConfig(t.TempDir())
	require.NoError(t, err)
	cfg.Auth.JWT.Secret = "bootstrap-secret"
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = filepath.Join(t.TempDir(), "trialkit.sqlite")
	cfg.Campaigns = []app.CampaignConfig{{Key: "Launch", Name: "Launch", Enabled: true, MaxSlots: 25}}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestBootstrapRuntime(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	stack, err := bootstrapRuntime(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, stack.Shutdown(context.Background())) })

	require.NotNil(t, stack.Router)
	require.NotNil(t, stack.Cleaner)
	require.NotNil(t, stack.RateStore)
	require.Nil(t, stack.Redis)

	campaign, err := stack.Services.Campaigns.Get(ctx, "launch")
	require.NoError(t, err)
	require.Equal(t, 25, campaign.MaxSlots)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	stack.Router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBootstrapRuntimeKeepsClaimedSlotsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	first, err := bootstrapRuntime(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, first.DB.Model(&models.Campaign{}).
		Where("campaigns.key = ?", "launch").
		Update("claimed_slots", 4).Error)
	require.NoError(t, first.Shutdown(ctx))

	cfg.Campaigns[0].MaxSlots = 30
	second, err := bootstrapRuntime(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = second.Shutdown(context.Background()) })

	campaign, err := second.Services.Campaigns.Get(ctx, "launch")
	require.NoError(t, err)
	require.Equal(t, 30, campaign.MaxSlots)
	require.Equal(t, 4, campaign.ClaimedSlots)
}

func TestBuildRateStore(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	dbStore := cache.NewDatabaseStore(db)

	require.Nil(t, buildRateStore(app.RateLimitConfig{Enabled: false}, dbStore, nil))

	memory := buildRateStore(app.RateLimitConfig{Enabled: true, Store: "memory"}, dbStore, nil)
	require.IsType(t, middleware.NewMemoryRateStore(), memory)

	database := buildRateStore(app.RateLimitConfig{Enabled: true, Store: "database"}, dbStore, nil)
	require.IsType(t, middleware.NewCacheRateStore(dbStore), database)

	fallback := buildRateStore(app.RateLimitConfig{Enabled: true, Store: "redis"}, dbStore, nil)
	require.IsType(t, middleware.NewCacheRateStore(dbStore), fallback)
}

func TestLoadApplicationConfigMissingPath(t *testing.T) {
	_, err := loadApplicationConfig(filepath.Join(t.TempDir(), "nope"))
	require.ErrorContains(t, err, "does not exist")
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	t.Setenv("TRIALKIT_AUTH_JWT_SECRET", "")
	err := run(context.Background(), []string{"-config", t.TempDir()})
	require.ErrorContains(t, err, "auth.jwt.secret")
}

package testutil

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/database"
	"github.com/charlesng35/trialkit/internal/models"
)

// TestDBOption customises the behaviour of MustOpenTestDB.
type TestDBOption func(*testDBConfig)

type testDBConfig struct {
	autoMigrate bool
	campaigns   []models.Campaign
}

// WithAutoMigrate enables automatic schema migration after opening the test database.
func WithAutoMigrate() TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
	}
}

// WithCampaigns migrates the schema and inserts the supplied campaigns.
func WithCampaigns(campaigns ...models.Campaign) TestDBOption {
	return func(cfg *testDBConfig) {
		cfg.autoMigrate = true
		cfg.campaigns = append(cfg.campaigns, campaigns...)
	}
}

// MustOpenTestDB opens an isolated in-memory SQLite database for tests. The pool is
// limited to one connection, so concurrent transactions queue the way row locks make
// them queue on a server database. The connection is closed via t.Cleanup.
func MustOpenTestDB(t *testing.T, opts ...TestDBOption) *gorm.DB {
	t.Helper()

	cfg := testDBConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := database.Open(database.Config{
		Driver:       "sqlite",
		DSN:          database.MemoryDSN(uuid.NewString()),
		MaxOpenConns: 1,
	})
	require.NoError(t, err)

	if cfg.autoMigrate {
		require.NoError(t, database.AutoMigrate(db))
	}
	if len(cfg.campaigns) > 0 {
		require.NoError(t, database.SeedCampaigns(db, cfg.campaigns))
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

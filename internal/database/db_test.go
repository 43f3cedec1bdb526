package database

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/charlesng35/trialkit/internal/models"
)

func TestOpenSQLiteMemory(t *testing.T) {
	db := openTestDB(t)

	if err := db.Exec("SELECT 1").Error; err != nil {
		t.Fatalf("expected health query to succeed: %v", err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "oracle"}); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
}

func TestAutoMigrateAndSeedCampaigns(t *testing.T) {
	db := openTestDB(t)

	seed := []models.Campaign{{Key: "launch", Name: "Launch", Enabled: true, MaxSlots: 100}}
	if err := AutoMigrateAndSeed(db, seed...); err != nil {
		t.Fatalf("auto migrate and seed failed: %v", err)
	}

	if err := db.Model(&models.Campaign{}).Where("campaigns.key = ?", "launch").Update("claimed_slots", 7).Error; err != nil {
		t.Fatalf("update campaign: %v", err)
	}

	// A restart must not reset progress.
	seed[0].MaxSlots = 5
	if err := AutoMigrateAndSeed(db, seed...); err != nil {
		t.Fatalf("second seed failed: %v", err)
	}

	var campaign models.Campaign
	if err := db.Take(&campaign, "campaigns.key = ?", "launch").Error; err != nil {
		t.Fatalf("load campaign: %v", err)
	}
	if campaign.ClaimedSlots != 7 || campaign.MaxSlots != 100 {
		t.Fatalf("existing campaign was modified: %+v", campaign)
	}
}

func TestAutoMigrateCreatesTables(t *testing.T) {
	db := openTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	for _, table := range []string{
		"entitlements", "campaigns", "reward_ledger", "referrals",
		"experiences", "es_documents", "interview_sessions", "domain_events", "cache_entries",
	} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("expected table %s", table)
		}
	}
	if !db.Migrator().HasIndex(&models.RewardGrant{}, "uk_reward_grant") {
		t.Fatalf("expected ledger idempotency index")
	}
}

func TestTrialExtensionExprStacksOnFutureDeadline(t *testing.T) {
	db := openTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	ent := models.Entitlement{UserID: "u-1", InviteCode: "ABCD2345", TrialEndsAt: &future}
	if err := db.Create(&ent).Error; err != nil {
		t.Fatalf("create entitlement: %v", err)
	}

	extend(t, db, "u-1", now, 7)
	assertTrialEnds(t, db, "u-1", future.AddDate(0, 0, 7))
}

func TestTrialExtensionExprStartsFromNowWhenExpiredOrEmpty(t *testing.T) {
	db := openTestDB(t)
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-72 * time.Hour)
	for _, ent := range []models.Entitlement{
		{UserID: "expired", InviteCode: "EXPD2345", TrialEndsAt: &past},
		{UserID: "empty", InviteCode: "EMPT2345"},
	} {
		if err := db.Create(&ent).Error; err != nil {
			t.Fatalf("create entitlement: %v", err)
		}
	}

	extend(t, db, "expired", now, 3)
	extend(t, db, "empty", now, 3)
	assertTrialEnds(t, db, "expired", now.AddDate(0, 0, 3))
	assertTrialEnds(t, db, "empty", now.AddDate(0, 0, 3))
}

func extend(t *testing.T, db *gorm.DB, userID string, now time.Time, days int) {
	t.Helper()
	res := db.Model(&models.Entitlement{}).
		Where("user_id = ?", userID).
		Update("trial_ends_at", TrialExtensionExpr(db, now, days))
	if res.Error != nil {
		t.Fatalf("extend trial: %v", res.Error)
	}
	if res.RowsAffected != 1 {
		t.Fatalf("expected one row updated, got %d", res.RowsAffected)
	}
}

func assertTrialEnds(t *testing.T, db *gorm.DB, userID string, want time.Time) {
	t.Helper()
	var ent models.Entitlement
	if err := db.Take(&ent, "user_id = ?", userID).Error; err != nil {
		t.Fatalf("load entitlement: %v", err)
	}
	if ent.TrialEndsAt == nil {
		t.Fatalf("trial_ends_at not set for %s", userID)
	}
	if diff := ent.TrialEndsAt.Sub(want); diff > time.Second || diff < -time.Second {
		t.Fatalf("expected trial to end at %s, got %s", want, ent.TrialEndsAt)
	}
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := Open(Config{Driver: "sqlite", DSN: MemoryDSN(uuid.NewString())})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	return db
}

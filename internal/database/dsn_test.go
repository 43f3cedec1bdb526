package database

import (
	"strings"
	"testing"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User: "trialkit",
		Name: "trialkit",
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	expected := "host=localhost port=5432 user=trialkit dbname=trialkit TimeZone=UTC sslmode=disable"
	if dsn != expected {
		t.Fatalf("expected %q, got %q", expected, dsn)
	}
}

func TestBuildPostgresDSNWithOptions(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "rewards",
		Name:     "entitlements",
		Host:     "pg.internal",
		Port:     6543,
		Password: "hunter2",
		Options: map[string]string{
			"sslmode":          "require",
			"application_name": "trialkit",
		},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	if !containsAll(
		dsn,
		"host=pg.internal",
		"port=6543",
		"user=rewards",
		"dbname=entitlements",
		"password=hunter2",
		"sslmode=require",
		"application_name=trialkit",
	) {
		t.Fatalf("dsn missing expected components: %q", dsn)
	}
	if strings.Contains(dsn, "sslmode=disable") {
		t.Fatalf("explicit sslmode should win: %q", dsn)
	}
}

func TestBuildPostgresDSNOverride(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{DSN: "postgres://u:p@h/db"})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}
	if dsn != "postgres://u:p@h/db" {
		t.Fatalf("expected override, got %q", dsn)
	}
}

func TestBuildPostgresDSNRequiresUserAndName(t *testing.T) {
	if _, err := buildPostgresDSN(Config{}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func TestBuildMySQLDSNDefaults(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User: "trialkit",
		Name: "trialkit",
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	expected := "trialkit@tcp(127.0.0.1:3306)/trialkit?charset=utf8mb4&loc=UTC&parseTime=True"
	if dsn != expected {
		t.Fatalf("expected %q, got %q", expected, dsn)
	}
}

func TestBuildMySQLDSNWithOptions(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "rewards",
		Password: "secret",
		Name:     "entitlements",
		Host:     "mysql.internal",
		Port:     3307,
		Options: map[string]string{
			"tls": "skip-verify",
		},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	if !containsAll(
		dsn,
		"rewards:secret@tcp(mysql.internal:3307)/entitlements?",
		"charset=utf8mb4",
		"loc=UTC",
		"parseTime=True",
		"tls=skip-verify",
	) {
		t.Fatalf("dsn missing expected components: %q", dsn)
	}
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	if _, err := buildMySQLDSN(Config{Host: "localhost"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func containsAll(value string, parts ...string) bool {
	for _, part := range parts {
		if !strings.Contains(value, part) {
			return false
		}
	}
	return true
}

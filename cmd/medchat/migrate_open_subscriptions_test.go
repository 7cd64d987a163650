package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/4xmen/medchat/internal/db"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/pkg/config"
)

func TestParseOpenSubscriptionsMigrationArgs(t *testing.T) {
	cfg := &config.Config{DatabasePath: "./data/medchat.db"}

	opts, err := parseOpenSubscriptionsMigrationArgs(cfg, []string{"--dry-run", "--database", "/tmp/test.db"})
	if err != nil {
		t.Fatalf("parseOpenSubscriptionsMigrationArgs returned error: %v", err)
	}
	if !opts.DryRun {
		t.Fatalf("DryRun = false, want true")
	}
	if opts.DatabasePath != "/tmp/test.db" {
		t.Fatalf("DatabasePath = %q, want %q", opts.DatabasePath, "/tmp/test.db")
	}

	if _, err := parseOpenSubscriptionsMigrationArgs(cfg, []string{"--database"}); err == nil {
		t.Fatalf("expected error for missing --database value")
	}
	if _, err := parseOpenSubscriptionsMigrationArgs(cfg, []string{"--force"}); err == nil {
		t.Fatalf("expected error for unknown flag")
	}
}

func TestRunMigrateUnknownTarget(t *testing.T) {
	cfg := &config.Config{DatabasePath: "x.db"}
	if err := runMigrate(cfg, &bytes.Buffer{}, nil); err == nil {
		t.Fatalf("expected error for missing target")
	}
	if err := runMigrate(cfg, &bytes.Buffer{}, []string{"conversations"}); err == nil {
		t.Fatalf("expected error for unknown target")
	}
}

// seedLegacyDatabase builds a base-schema database holding two open
// subscriptions for the same pair plus one unrelated pair.
func seedLegacyDatabase(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "legacy.db")

	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer database.Close()
	if err := database.MigrateTo(db.VersionBaseSchema); err != nil {
		t.Fatalf("base schema: %v", err)
	}

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	rows := []struct {
		id, patient, doctor, status string
		at                          time.Time
	}{
		{"old", "p1", "d1", models.SubscriptionApproved, base},
		{"new", "p1", "d1", models.SubscriptionRequested, base.Add(time.Hour)},
		{"closed", "p1", "d1", models.SubscriptionDenied, base.Add(2 * time.Hour)},
		{"solo", "p2", "d1", models.SubscriptionApproved, base},
	}
	for _, r := range rows {
		_, err := database.Conn().Exec(`
			INSERT INTO subscriptions (id, patient_id, doctor_id, status, requested_at, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		`, r.id, r.patient, r.doctor, r.status, r.at, r.at, r.at)
		if err != nil {
			t.Fatalf("insert %s: %v", r.id, err)
		}
	}
	return path
}

func subscriptionStatus(t *testing.T, database *db.DB, id string) string {
	t.Helper()
	var status string
	if err := database.Conn().Get(&status, "SELECT status FROM subscriptions WHERE id = ?", id); err != nil {
		t.Fatalf("status of %s: %v", id, err)
	}
	return status
}

func TestOpenSubscriptionsMigrationDryRun(t *testing.T) {
	path := seedLegacyDatabase(t)

	var out bytes.Buffer
	err := runOpenSubscriptionsMigration(context.Background(), &out, openSubscriptionsMigrationOptions{DatabasePath: path, DryRun: true})
	if err != nil {
		t.Fatalf("dry-run returned error: %v", err)
	}
	if !strings.Contains(out.String(), "Would cancel 1 duplicate open subscriptions across 1 pairs.") {
		t.Fatalf("unexpected dry-run output: %q", out.String())
	}

	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer database.Close()
	if got := subscriptionStatus(t, database, "old"); got != models.SubscriptionApproved {
		t.Fatalf("dry-run changed status to %q", got)
	}
	if v, _ := database.Version(); v != db.VersionBaseSchema {
		t.Fatalf("dry-run moved schema to version %d", v)
	}
}

func TestOpenSubscriptionsMigration(t *testing.T) {
	path := seedLegacyDatabase(t)

	var out bytes.Buffer
	if err := runOpenSubscriptionsMigration(context.Background(), &out, openSubscriptionsMigrationOptions{DatabasePath: path}); err != nil {
		t.Fatalf("migration returned error: %v", err)
	}
	if !strings.Contains(out.String(), "Cancelled 1 duplicate open subscriptions") {
		t.Fatalf("unexpected output: %q", out.String())
	}

	database, err := db.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer database.Close()

	want := map[string]string{
		"old":    models.SubscriptionCancelled,
		"new":    models.SubscriptionRequested,
		"closed": models.SubscriptionDenied,
		"solo":   models.SubscriptionApproved,
	}
	for id, status := range want {
		if got := subscriptionStatus(t, database, id); got != status {
			t.Errorf("status of %s = %q, want %q", id, got, status)
		}
	}
	if v, err := database.Version(); err != nil || v <= db.VersionBaseSchema {
		t.Fatalf("schema version = %d (%v), want latest", v, err)
	}

	out.Reset()
	if err := runOpenSubscriptionsMigration(context.Background(), &out, openSubscriptionsMigrationOptions{DatabasePath: path}); err != nil {
		t.Fatalf("second run returned error: %v", err)
	}
	if !strings.Contains(out.String(), "already migrated") {
		t.Fatalf("second run output = %q", out.String())
	}
}

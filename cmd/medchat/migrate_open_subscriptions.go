package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/4xmen/medchat/internal/db"
	"github.com/4xmen/medchat/internal/models"
	"github.com/4xmen/medchat/pkg/config"
)

type openSubscriptionsMigrationOptions struct {
	DatabasePath string
	DryRun       bool
}

type openSubscriptionRow struct {
	ID        string `db:"id"`
	PatientID string `db:"patient_id"`
	DoctorID  string `db:"doctor_id"`
}

func runMigrate(cfg *config.Config, out io.Writer, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing migration target (supported: open-subscriptions)")
	}

	switch args[0] {
	case "open-subscriptions":
		opts, err := parseOpenSubscriptionsMigrationArgs(cfg, args[1:])
		if err != nil {
			return err
		}
		return runOpenSubscriptionsMigration(context.Background(), out, opts)
	default:
		return fmt.Errorf("unknown migration target: %s", args[0])
	}
}

func parseOpenSubscriptionsMigrationArgs(cfg *config.Config, args []string) (openSubscriptionsMigrationOptions, error) {
	opts := openSubscriptionsMigrationOptions{DatabasePath: cfg.DatabasePath}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--dry-run":
			opts.DryRun = true
		case "--database":
			i++
			if i >= len(args) || strings.TrimSpace(args[i]) == "" {
				return opts, fmt.Errorf("--database requires a path")
			}
			opts.DatabasePath = args[i]
		default:
			return opts, fmt.Errorf("unknown migration flag: %s", args[i])
		}
	}

	if strings.TrimSpace(opts.DatabasePath) == "" {
		return opts, fmt.Errorf("database path cannot be empty")
	}

	return opts, nil
}

// runOpenSubscriptionsMigration cancels every open subscription that is not
// the newest for its patient and doctor pair, then applies the remaining
// schema migrations so the open-pair unique index can be built.
func runOpenSubscriptionsMigration(ctx context.Context, out io.Writer, opts openSubscriptionsMigrationOptions) error {
	database, err := db.Open(opts.DatabasePath)
	if err != nil {
		return err
	}
	defer database.Close()

	version, err := database.Version()
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > db.VersionBaseSchema {
		fmt.Fprintln(out, "Open subscriptions migration: already migrated (unique open-pair index present).")
		return nil
	}
	if err := database.MigrateTo(db.VersionBaseSchema); err != nil {
		return fmt.Errorf("failed to apply base schema: %w", err)
	}

	tx, err := database.Conn().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start migration transaction: %w", err)
	}
	defer tx.Rollback()

	stale, pairs, err := findStaleOpenSubscriptions(ctx, tx)
	if err != nil {
		return err
	}

	if opts.DryRun {
		fmt.Fprintf(out, "Dry-run successful. Database: %s\n", opts.DatabasePath)
		fmt.Fprintf(out, "Would cancel %d duplicate open subscriptions across %d pairs.\n", len(stale), pairs)
		return nil
	}

	if err := cancelSubscriptions(ctx, tx, stale); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	if err := database.Migrate(); err != nil {
		return fmt.Errorf("failed to apply remaining migrations: %w", err)
	}

	fmt.Fprintf(out, "Migration completed. Database: %s\n", opts.DatabasePath)
	fmt.Fprintf(out, "Cancelled %d duplicate open subscriptions across %d pairs.\n", len(stale), pairs)
	return nil
}

// findStaleOpenSubscriptions returns the ids to cancel and the number of
// pairs that had more than one open subscription.
func findStaleOpenSubscriptions(ctx context.Context, q sqlx.QueryerContext) ([]string, int, error) {
	var rows []openSubscriptionRow
	err := sqlx.SelectContext(ctx, q, &rows, `
		SELECT id, patient_id, doctor_id FROM subscriptions
		WHERE status IN (?, ?)
		ORDER BY patient_id, doctor_id, created_at DESC, rowid DESC
	`, models.SubscriptionRequested, models.SubscriptionApproved)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load open subscriptions: %w", err)
	}

	var stale []string
	pairs := 0
	var prevKey string
	counted := false
	for _, row := range rows {
		key := row.PatientID + "\x00" + row.DoctorID
		if key != prevKey {
			prevKey = key
			counted = false
			continue
		}
		if !counted {
			pairs++
			counted = true
		}
		stale = append(stale, row.ID)
	}
	return stale, pairs, nil
}

func cancelSubscriptions(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE subscriptions SET status = ?, is_active = 0, updated_at = ?
		WHERE id IN (?)
	`, models.SubscriptionCancelled, time.Now().UTC(), ids)
	if err != nil {
		return fmt.Errorf("failed to build cancel query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to cancel duplicate subscriptions: %w", err)
	}
	return nil
}

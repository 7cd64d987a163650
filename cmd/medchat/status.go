package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/4xmen/medchat/internal/db"
	"github.com/4xmen/medchat/internal/store/mongo"
	"github.com/4xmen/medchat/internal/store/sqlite"
	"github.com/4xmen/medchat/pkg/config"
)

type appStatus struct {
	GeneratedAt     time.Time
	Environment     string
	Port            string
	StoreDriver     string
	DatabasePath    string
	UsersByRole     map[string]int64
	Subscriptions   map[string]int64
	Messages        map[string]int64
	DBSize          int64
	DBWALSize       int64
	DBSHMSize       int64
	DBMetricsReady  bool
	DBWarning       string
	StorageWarnings []string
}

type statusOptions struct {
	JSON bool
}

// statsSource is the slice of a store the status report reads.
type statsSource interface {
	CountUsersByRole(ctx context.Context) (map[string]int64, error)
	CountSubscriptionsByStatus(ctx context.Context) (map[string]int64, error)
	CountMessagesByStatus(ctx context.Context) (map[string]int64, error)
	Close(ctx context.Context) error
}

func parseStatusArgs(args []string) (statusOptions, error) {
	opts := statusOptions{}
	for _, arg := range args {
		switch arg {
		case "--json", "-j":
			opts.JSON = true
		default:
			return opts, fmt.Errorf("unknown status flag: %s", arg)
		}
	}
	return opts, nil
}

func runStatus(cfg *config.Config, out io.Writer, args []string) error {
	opts, err := parseStatusArgs(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	status := collectStatus(ctx, cfg)
	if opts.JSON {
		return printStatusJSON(out, status)
	}
	printStatus(out, status)
	return nil
}

func collectStatus(ctx context.Context, cfg *config.Config) appStatus {
	status := appStatus{
		GeneratedAt:  time.Now(),
		Environment:  cfg.Environment,
		Port:         cfg.Port,
		StoreDriver:  cfg.StoreDriver,
		DatabasePath: cfg.DatabasePath,
	}

	if cfg.StoreDriver == "mongo" {
		status.DatabasePath = cfg.MongoURI + "/" + cfg.MongoDatabase
	} else {
		if size, err := fileSize(cfg.DatabasePath); err == nil {
			status.DBSize = size
		} else {
			status.StorageWarnings = append(status.StorageWarnings, fmt.Sprintf("database file: %v", err))
		}
		if size, err := fileSize(cfg.DatabasePath + "-wal"); err == nil {
			status.DBWALSize = size
		}
		if size, err := fileSize(cfg.DatabasePath + "-shm"); err == nil {
			status.DBSHMSize = size
		}
		if _, err := os.Stat(cfg.DatabasePath); err != nil {
			status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
			return status
		}
	}

	src, err := openStatsSource(ctx, cfg)
	if err != nil {
		status.DBWarning = fmt.Sprintf("database unavailable: %v", err)
		return status
	}
	defer src.Close(ctx)

	if status.UsersByRole, err = src.CountUsersByRole(ctx); err != nil {
		status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
		return status
	}
	if status.Subscriptions, err = src.CountSubscriptionsByStatus(ctx); err != nil {
		status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
		return status
	}
	if status.Messages, err = src.CountMessagesByStatus(ctx); err != nil {
		status.DBWarning = fmt.Sprintf("could not read database stats: %v", err)
		return status
	}

	status.DBMetricsReady = true
	return status
}

// openStatsSource opens SQLite without migrating so a status check never
// changes the schema.
func openStatsSource(ctx context.Context, cfg *config.Config) (statsSource, error) {
	if cfg.StoreDriver == "mongo" {
		s, err := mongo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	database, err := db.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	return &sqliteStats{Store: sqlite.New(database.Conn()), database: database}, nil
}

type sqliteStats struct {
	*sqlite.Store
	database *db.DB
}

func (s *sqliteStats) Close(context.Context) error {
	return s.database.Close()
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s is a directory", path)
	}
	return info.Size(), nil
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func total(counts map[string]int64) int64 {
	var n int64
	for _, v := range counts {
		n += v
	}
	return n
}

func printCounts(out io.Writer, label string, counts map[string]int64) {
	fmt.Fprintf(out, "  %-14s: %d\n", label, total(counts))
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(out, "    %-12s: %d\n", k, counts[k])
	}
}

func printStatus(out io.Writer, status appStatus) {
	totalDB := status.DBSize + status.DBWALSize + status.DBSHMSize

	fmt.Fprintln(out, "MedChat Status")
	fmt.Fprintf(out, "Generated at: %s\n", status.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Environment : %s\n", status.Environment)
	fmt.Fprintf(out, "Port        : %s\n", status.Port)
	fmt.Fprintf(out, "Store       : %s\n", status.StoreDriver)
	fmt.Fprintf(out, "Database    : %s\n", status.DatabasePath)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Data")
	if status.DBMetricsReady {
		printCounts(out, "Users", status.UsersByRole)
		printCounts(out, "Subscriptions", status.Subscriptions)
		printCounts(out, "Messages", status.Messages)
	} else {
		fmt.Fprintln(out, "  Database metrics : n/a")
	}

	if status.StoreDriver != "mongo" {
		fmt.Fprintln(out)
		fmt.Fprintln(out, "Storage")
		fmt.Fprintf(out, "  DB file      : %s\n", formatBytes(status.DBSize))
		fmt.Fprintf(out, "  DB WAL file  : %s\n", formatBytes(status.DBWALSize))
		fmt.Fprintf(out, "  DB SHM file  : %s\n", formatBytes(status.DBSHMSize))
		fmt.Fprintf(out, "  DB footprint : %s\n", formatBytes(totalDB))
	}

	if status.DBWarning != "" {
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Warning: %s\n", status.DBWarning)
	}

	if len(status.StorageWarnings) > 0 {
		fmt.Fprintln(out)
		for _, warning := range status.StorageWarnings {
			fmt.Fprintf(out, "Warning: %s\n", warning)
		}
	}
}

func printStatusJSON(out io.Writer, status appStatus) error {
	footprint := status.DBSize + status.DBWALSize + status.DBSHMSize
	payload := map[string]any{
		"generated_at":  status.GeneratedAt.Format(time.RFC3339),
		"environment":   status.Environment,
		"port":          status.Port,
		"store_driver":  status.StoreDriver,
		"database_path": status.DatabasePath,
		"metrics_ready": status.DBMetricsReady,
		"metrics": map[string]any{
			"users":                   total(status.UsersByRole),
			"users_by_role":           status.UsersByRole,
			"subscriptions":           total(status.Subscriptions),
			"subscriptions_by_status": status.Subscriptions,
			"messages":                total(status.Messages),
			"messages_by_status":      status.Messages,
		},
		"storage": map[string]any{
			"db_file_bytes":      status.DBSize,
			"db_wal_bytes":       status.DBWALSize,
			"db_shm_bytes":       status.DBSHMSize,
			"db_footprint_bytes": footprint,
			"db_footprint_hum":   formatBytes(footprint),
		},
		"warnings": map[string]any{
			"database": status.DBWarning,
			"storage":  status.StorageWarnings,
		},
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

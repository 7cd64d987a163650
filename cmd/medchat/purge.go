package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/4xmen/medchat/pkg/config"
)

type purgeOptions struct {
	Days int
}

// messagePurger is the retention slice of the message store.
type messagePurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

func parsePurgeArgs(cfg *config.Config, args []string) (purgeOptions, error) {
	opts := purgeOptions{Days: cfg.RetentionDays}

	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--days":
			i++
			if i >= len(args) {
				return opts, fmt.Errorf("--days requires a value")
			}
			days, err := strconv.Atoi(args[i])
			if err != nil || days <= 0 {
				return opts, fmt.Errorf("--days must be a positive integer")
			}
			opts.Days = days
		default:
			return opts, fmt.Errorf("unknown purge flag: %s", args[i])
		}
	}
	return opts, nil
}

func runPurge(cfg *config.Config, out io.Writer, args []string) error {
	opts, err := parsePurgeArgs(cfg, args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	return purgeMessages(ctx, s, out, opts, time.Now())
}

func purgeMessages(ctx context.Context, p messagePurger, out io.Writer, opts purgeOptions, now time.Time) error {
	cutoff := now.AddDate(0, 0, -opts.Days).UTC()
	n, err := p.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge messages: %w", err)
	}
	fmt.Fprintf(out, "Deleted %d messages created before %s.\n", n, cutoff.Format(time.RFC3339))
	return nil
}

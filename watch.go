package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScanResult tracks separate counters for each outcome of a directory scan.
type ScanResult struct {
	Found    int
	Analyzed int
	Skipped  int
	Errors   []string
}

// ScanWatchDir looks for CSV files in the watch directory and runs
// analyzeFn on every file that has not already been analyzed to
// completion. It has no scheduler dependency so it can be called from
// both the watch loop and a one-shot command.
func ScanWatchDir(ctx context.Context, cfg Config, db *sql.DB, analyzeFn func(ctx context.Context, path string) error) (ScanResult, error) {
	var result ScanResult
	if cfg.WatchDir == "" {
		return result, fmt.Errorf("watch_dir is not configured")
	}

	matches, err := filepath.Glob(filepath.Join(cfg.WatchDir, "*.csv"))
	if err != nil {
		return result, err
	}
	result.Found = len(matches)

	for _, path := range matches {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		base := filepath.Base(path)
		source := CleanSourceFilename(strings.TrimSuffix(base, filepath.Ext(base)))
		analyzed, dbErr := SourceFileAnalyzed(db, source)
		if dbErr != nil {
			log.Printf("watch: error checking source file %s: %v", source, dbErr)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", source, dbErr))
			continue
		}
		if analyzed {
			result.Skipped++
			continue
		}
		log.Printf("watch: analyzing new file %s", path)
		if runErr := analyzeFn(ctx, path); runErr != nil {
			log.Printf("watch: analysis of %s failed: %v", path, runErr)
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", source, runErr))
			continue
		}
		result.Analyzed++
	}
	return result, nil
}

// FormatScanSummary renders a single-line scan summary for logs and
// Slack posts.
func FormatScanSummary(result ScanResult) string {
	msg := fmt.Sprintf("found %d CSV files: %d analyzed, %d already done", result.Found, result.Analyzed, result.Skipped)
	if len(result.Errors) > 0 {
		msg += fmt.Sprintf("; errors: %s", strings.Join(result.Errors, "; "))
	}
	return msg
}

// StartWatchScheduler runs a cron-based loop that periodically scans the
// watch directory and analyzes new files. The schedule is a standard
// 5-field cron expression (minute hour day-of-month month day-of-week).
// Examples: "*/15 * * * *" (every 15 minutes), "0 9 * * *" (daily 9am).
// Stale checkpoints are swept after each scan. The loop blocks until
// ctx is cancelled or stopRequested (may be nil) reports true between
// scans.
func StartWatchScheduler(ctx context.Context, cfg Config, db *sql.DB, stopRequested func() bool, analyzeFn func(ctx context.Context, path string) error) error {
	schedule := strings.TrimSpace(cfg.WatchSchedule)
	if schedule == "" {
		return fmt.Errorf("watch_schedule is not configured")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid watch_schedule '%s': %w", schedule, err)
	}

	store := NewCheckpointStore(cfg.CheckpointDir)

	log.Printf("watch scheduled (cron: %s) on %s", schedule, cfg.WatchDir)
	for {
		now := time.Now()
		next := sched.Next(now)
		wait := next.Sub(now)
		log.Printf("next scan at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Second))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if stopRequested != nil && stopRequested() {
			return context.Canceled
		}

		result, scanErr := ScanWatchDir(ctx, cfg, db, analyzeFn)
		if scanErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("watch: scan error: %v", scanErr)
			continue
		}
		log.Printf("watch: scan complete: %s", FormatScanSummary(result))

		retention := time.Duration(cfg.CheckpointRetentionDays) * 24 * time.Hour
		if swept := store.SweepOlderThan(retention); swept > 0 {
			log.Printf("watch: swept %d stale checkpoints", swept)
		}
	}
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestScanWatchDirAnalyzesNewFiles(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	cfg := Config{WatchDir: dir}

	for _, name := range []string{"stream_a.csv", "stream_b.csv", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	// stream_a was already analyzed on a previous pass.
	if err := InsertAnalysisRun(db, AnalysisRun{
		JobID: "j1", SourceFile: "stream_a", State: JobCompleted, StartedAt: time.Now(),
	}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var analyzed []string
	result, err := ScanWatchDir(context.Background(), cfg, db, func(ctx context.Context, path string) error {
		analyzed = append(analyzed, filepath.Base(path))
		return nil
	})
	if err != nil {
		t.Fatalf("ScanWatchDir failed: %v", err)
	}
	if result.Found != 2 {
		t.Fatalf("expected 2 CSV files found, got %d", result.Found)
	}
	if result.Skipped != 1 || result.Analyzed != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(analyzed) != 1 || analyzed[0] != "stream_b.csv" {
		t.Fatalf("expected only stream_b to be analyzed, got %v", analyzed)
	}
}

func TestScanWatchDirCollectsErrors(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	cfg := Config{WatchDir: dir}

	if err := os.WriteFile(filepath.Join(dir, "broken.csv"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	result, err := ScanWatchDir(context.Background(), cfg, db, func(ctx context.Context, path string) error {
		return os.ErrInvalid
	})
	if err != nil {
		t.Fatalf("ScanWatchDir failed: %v", err)
	}
	if result.Analyzed != 0 || len(result.Errors) != 1 {
		t.Fatalf("expected 1 collected error, got %+v", result)
	}
	if !strings.Contains(result.Errors[0], "broken") {
		t.Fatalf("error should name the source file: %v", result.Errors)
	}
}

func TestScanWatchDirUnconfigured(t *testing.T) {
	db := newTestDB(t)
	if _, err := ScanWatchDir(context.Background(), Config{}, db, nil); err == nil {
		t.Fatalf("expected error for missing watch_dir")
	}
}

func TestScanWatchDirHonorsContext(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()
	cfg := Config{WatchDir: dir}
	if err := os.WriteFile(filepath.Join(dir, "a.csv"), []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ScanWatchDir(ctx, cfg, db, func(ctx context.Context, path string) error {
		t.Fatalf("analyzeFn should not run after cancellation")
		return nil
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestStartWatchSchedulerRejectsBadSchedule(t *testing.T) {
	db := newTestDB(t)
	cfg := Config{WatchDir: t.TempDir(), WatchSchedule: "not a cron line"}

	if err := StartWatchScheduler(context.Background(), cfg, db, nil, nil); err == nil {
		t.Fatalf("expected error for invalid schedule")
	}

	cfg.WatchSchedule = ""
	if err := StartWatchScheduler(context.Background(), cfg, db, nil, nil); err == nil {
		t.Fatalf("expected error for empty schedule")
	}
}

func TestFormatScanSummary(t *testing.T) {
	summary := FormatScanSummary(ScanResult{Found: 3, Analyzed: 1, Skipped: 2})
	if !strings.Contains(summary, "3 CSV files") || !strings.Contains(summary, "1 analyzed") {
		t.Fatalf("unexpected summary: %s", summary)
	}

	withErrors := FormatScanSummary(ScanResult{Found: 1, Errors: []string{"stream_x: boom"}})
	if !strings.Contains(withErrors, "stream_x: boom") {
		t.Fatalf("errors missing from summary: %s", withErrors)
	}
}

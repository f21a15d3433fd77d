package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const checkpointPrefix = "analysis_save_"

// JobCheckpoint is the persisted partial state of an analysis job. It
// is the only entity that survives a process restart.
type JobCheckpoint struct {
	JobID   string             `json:"job_id"`
	Records []ClassifiedRecord `json:"records"`
	Usage   UsageCounters      `json:"usage"`
	SavedAt time.Time          `json:"saved_at"`
}

// CheckpointStore persists job checkpoints as JSON files in a
// well-known directory. Writes go to a temp file first and are renamed
// into place so a kill mid-write never corrupts an existing checkpoint.
type CheckpointStore struct {
	dir string
}

func NewCheckpointStore(dir string) *CheckpointStore {
	if dir == "" {
		dir = os.TempDir()
	}
	return &CheckpointStore{dir: dir}
}

func (s *CheckpointStore) path(jobID string) string {
	return filepath.Join(s.dir, checkpointPrefix+jobID+".json")
}

// Save atomically persists the current partial result and usage,
// overwriting any prior checkpoint for the same job.
func (s *CheckpointStore) Save(jobID string, records []ClassifiedRecord, usage UsageCounters) error {
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	cp := JobCheckpoint{
		JobID:   jobID,
		Records: records,
		Usage:   usage,
		SavedAt: time.Now(),
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, checkpointPrefix+jobID+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path(jobID)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// Load returns the last successfully saved state for jobID, or nil if
// none exists. A corrupt or unreadable checkpoint is treated as absent,
// never as a fatal error.
func (s *CheckpointStore) Load(jobID string) (*JobCheckpoint, error) {
	data, err := os.ReadFile(s.path(jobID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		log.Printf("checkpoint read error job=%s: %v (treating as absent)", jobID, err)
		return nil, nil
	}
	var cp JobCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		log.Printf("checkpoint corrupt job=%s: %v (treating as absent)", jobID, err)
		return nil, nil
	}
	return &cp, nil
}

// Clear removes the persisted state for jobID. Idempotent.
func (s *CheckpointStore) Clear(jobID string) error {
	err := os.Remove(s.path(jobID))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint: %w", err)
	}
	return nil
}

// DiscoverLatest locates the most recently modified checkpoint in the
// store directory. Convenience for crash recovery when the job_id was
// lost with the process; primary addressing is always by job_id.
func (s *CheckpointStore) DiscoverLatest() (string, bool) {
	jobs := s.List()
	if len(jobs) == 0 {
		return "", false
	}
	latest := jobs[0]
	latestMod := s.modTime(latest)
	for _, jobID := range jobs[1:] {
		if mod := s.modTime(jobID); mod.After(latestMod) {
			latest, latestMod = jobID, mod
		}
	}
	return latest, true
}

// List returns the job IDs of every checkpoint currently stored.
func (s *CheckpointStore) List() []string {
	matches, err := filepath.Glob(filepath.Join(s.dir, checkpointPrefix+"*.json"))
	if err != nil {
		return nil
	}
	var jobs []string
	for _, path := range matches {
		base := filepath.Base(path)
		jobID := strings.TrimSuffix(strings.TrimPrefix(base, checkpointPrefix), ".json")
		if jobID != "" {
			jobs = append(jobs, jobID)
		}
	}
	return jobs
}

// SweepOlderThan removes checkpoints whose last save is older than age
// and returns how many were removed.
func (s *CheckpointStore) SweepOlderThan(age time.Duration) int {
	cutoff := time.Now().Add(-age)
	removed := 0
	for _, jobID := range s.List() {
		if s.modTime(jobID).Before(cutoff) {
			if err := s.Clear(jobID); err != nil {
				log.Printf("checkpoint sweep error job=%s: %v", jobID, err)
				continue
			}
			removed++
		}
	}
	return removed
}

func (s *CheckpointStore) modTime(jobID string) time.Time {
	info, err := os.Stat(s.path(jobID))
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

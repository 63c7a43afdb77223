// Package persistence implements atomic restart-state snapshotting and the
// restart-eligibility check.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// Snapshot is the restart/state-snapshot JSON shape from spec.md §6.
type Snapshot struct {
	RunID        uuid.UUID `json:"run_id"`
	State        string    `json:"state"`
	Runtime      float64   `json:"runtime"`
	Profile      string    `json:"profile"`
	Cost         float64   `json:"cost"`
	CurrentSegment int     `json:"current_segment"`
	SegmentPhase string    `json:"segment_phase"`
	Target       float64   `json:"target"`
	Temperature  float64   `json:"temperature"`
	Heat         bool      `json:"heat"`
	KwhRate      float64   `json:"kwh_rate"`
	CurrencyType string    `json:"currency_type"`
}

// Store wraps a single snapshot file with atomic, advisory-locked writes
// and reads.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Save writes the snapshot atomically: it creates a temp file in the same
// directory, takes an exclusive advisory lock on the same lock file Load
// takes a shared lock on, writes and fsyncs the temp file, renames it over
// the target, and removes the lock file. The rename is what makes the
// write atomic; the lock orders a write against concurrent Loads.
func (s *Store) Save(snap Snapshot) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tmp_state_*.json")
	if err != nil {
		return fmt.Errorf("persistence: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmp != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	lock := flock.New(s.path + ".lock")
	if err := lock.Lock(); err == nil {
		defer lock.Unlock()
	}

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("persistence: encoding snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("persistence: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("persistence: closing temp file: %w", err)
	}
	closed := tmp
	tmp = nil

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = closed
		return fmt.Errorf("persistence: renaming snapshot into place: %w", err)
	}
	os.Remove(s.path + ".lock")
	return nil
}

// Load reads the snapshot file under a shared advisory lock.
func (s *Store) Load() (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(s.path)
	if err != nil {
		return snap, fmt.Errorf("persistence: opening snapshot: %w", err)
	}
	defer f.Close()

	lock := flock.New(s.path + ".lock")
	if err := lock.RLock(); err == nil {
		defer lock.Unlock()
	}

	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return snap, fmt.Errorf("persistence: decoding snapshot: %w", err)
	}
	return snap, nil
}

// RestartEligible reports whether the snapshot file exists, was modified
// within window of now, and records state == RUNNING.
func (s *Store) RestartEligible(now time.Time, window time.Duration) bool {
	info, err := os.Stat(s.path)
	if err != nil {
		return false
	}
	if now.Sub(info.ModTime()) > window {
		return false
	}
	snap, err := s.Load()
	if err != nil {
		return false
	}
	return snap.State == "RUNNING"
}

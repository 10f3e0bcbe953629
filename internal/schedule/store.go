package schedule

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// lockRetryDelay is how often lock acquisition is retried until the timeout
const lockRetryDelay = 50 * time.Millisecond

// Config holds schedule store settings
type Config struct {
	// Path to the schedules JSON file
	Path string `toml:"path"`

	// How long to wait for the cross-process lock before giving up
	LockTimeout time.Duration `toml:"lock_timeout"`
}

// DefaultConfig returns sensible store defaults
func DefaultConfig() Config {
	return Config{
		Path:        "schedules/tasks.json",
		LockTimeout: 5 * time.Second,
	}
}

// Store owns the on-disk schedule file. Every operation serializes against
// concurrent processes through a sidecar lock file: mutations hold an
// exclusive lock across read-snapshot, mutate, and full rewrite; reads hold
// a shared lock. The JSON file maps schedule id to record and is rewritten
// in full on every mutation.
type Store struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	logger      *slog.Logger
}

// NewStore creates a Store and initializes an empty schedules file if none exists
func NewStore(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("schedule: store path must not be empty")
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultConfig().LockTimeout
	}

	s := &Store{
		path:        cfg.Path,
		lockPath:    cfg.Path + ".lock",
		lockTimeout: cfg.LockTimeout,
		logger:      logger,
	}

	// Schedules live alongside credentials, keep the directory private
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
		return nil, fmt.Errorf("schedule: create store directory: %w", err)
	}

	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		if err := s.writeSnapshot(map[string]storedRecord{}); err != nil {
			return nil, err
		}
		logger.Info("initialized schedules file", "path", cfg.Path)
	} else if err != nil {
		return nil, fmt.Errorf("schedule: stat store file: %w", err)
	}

	return s, nil
}

// Path returns the store file location
func (s *Store) Path() string {
	return s.path
}

// Create validates the input, assigns a fresh id, and persists the record
func (s *Store) Create(in CreateInput) (*Record, error) {
	if err := validateEmail(in.SenderEmail); err != nil {
		return nil, err
	}
	if err := validateCron(in.Cron); err != nil {
		return nil, err
	}

	rec := Record{
		ID:              uuid.NewString(),
		SenderEmail:     in.SenderEmail,
		SubjectKeywords: in.SubjectKeywords,
		Cron:            in.Cron,
		Enabled:         !in.Disabled,
		CreatedAt:       time.Now().UTC(),
		Description:     in.Description,
	}
	if rec.Description == "" {
		rec.Description = "Attachments from " + in.SenderEmail
	}

	err := s.mutate(func(snap map[string]storedRecord) error {
		snap[rec.ID] = rec.toStored()
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("created schedule",
		"schedule_id", rec.ID,
		"cron", rec.Cron,
		"enabled", rec.Enabled)

	return &rec, nil
}

// Get retrieves a schedule by id
func (s *Store) Get(id string) (*Record, error) {
	snap, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	stored, ok := snap[id]
	if !ok {
		return nil, ErrNotFound
	}

	rec := fromStored(id, stored)
	return &rec, nil
}

// List returns schedules ordered by creation time
func (s *Store) List(filter Filter) ([]Record, error) {
	snap, err := s.readLocked()
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(snap))
	for id, stored := range snap {
		rec := fromStored(id, stored)
		if filter.EnabledOnly && !rec.Enabled {
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID < records[j].ID
		}
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})

	return records, nil
}

// Update applies a partial update, re-validating any changed field
func (s *Store) Update(id string, in UpdateInput) (*Record, error) {
	if in.SenderEmail != nil {
		if err := validateEmail(*in.SenderEmail); err != nil {
			return nil, err
		}
	}
	if in.Cron != nil {
		if err := validateCron(*in.Cron); err != nil {
			return nil, err
		}
	}

	var updated Record
	err := s.mutate(func(snap map[string]storedRecord) error {
		stored, ok := snap[id]
		if !ok {
			return ErrNotFound
		}

		rec := fromStored(id, stored)
		if in.SenderEmail != nil {
			rec.SenderEmail = *in.SenderEmail
		}
		if in.SubjectKeywords != nil {
			rec.SubjectKeywords = *in.SubjectKeywords
		}
		if in.Cron != nil {
			rec.Cron = *in.Cron
		}
		if in.Description != nil {
			rec.Description = *in.Description
		}
		if in.Enabled != nil {
			rec.Enabled = *in.Enabled
		}

		snap[id] = rec.toStored()
		updated = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("updated schedule", "schedule_id", id)
	return &updated, nil
}

// MarkRun records the completion time of a processing pass for the schedule.
// The timestamp becomes the lower bound of the next search window.
func (s *Store) MarkRun(id string, ts time.Time) error {
	err := s.mutate(func(snap map[string]storedRecord) error {
		stored, ok := snap[id]
		if !ok {
			return ErrNotFound
		}
		stored.LastRun = &ts
		snap[id] = stored
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Debug("marked schedule as run", "schedule_id", id, "last_run", ts)
	return nil
}

// SetEnabled toggles a schedule without touching its other fields
func (s *Store) SetEnabled(id string, enabled bool) error {
	err := s.mutate(func(snap map[string]storedRecord) error {
		stored, ok := snap[id]
		if !ok {
			return ErrNotFound
		}
		stored.Enabled = enabled
		snap[id] = stored
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("toggled schedule", "schedule_id", id, "enabled", enabled)
	return nil
}

// Delete removes a schedule. Deleting an unknown id is ErrNotFound, not a
// silent success, so callers can detect double deletes.
func (s *Store) Delete(id string) error {
	err := s.mutate(func(snap map[string]storedRecord) error {
		if _, ok := snap[id]; !ok {
			return ErrNotFound
		}
		delete(snap, id)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("deleted schedule", "schedule_id", id)
	return nil
}

// Counts returns schedule statistics
func (s *Store) Counts() (Counts, error) {
	snap, err := s.readLocked()
	if err != nil {
		return Counts{}, err
	}

	counts := Counts{Total: len(snap)}
	for _, stored := range snap {
		if stored.Enabled {
			counts.Enabled++
		} else {
			counts.Disabled++
		}
	}
	return counts, nil
}

// mutate runs fn over the current snapshot under the exclusive lock and
// rewrites the file in full if fn succeeds. The lock is released on all paths.
func (s *Store) mutate(fn func(map[string]storedRecord) error) error {
	fl := flock.New(s.lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil && !isDeadline(err) {
		return fmt.Errorf("schedule: acquire store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, s.lockPath)
	}
	defer fl.Unlock()

	snap, err := s.readSnapshot()
	if err != nil {
		return err
	}

	if err := fn(snap); err != nil {
		return err
	}

	return s.writeSnapshot(snap)
}

// readLocked reads the snapshot under a shared lock
func (s *Store) readLocked() (map[string]storedRecord, error) {
	fl := flock.New(s.lockPath)

	ctx, cancel := context.WithTimeout(context.Background(), s.lockTimeout)
	defer cancel()

	locked, err := fl.TryRLockContext(ctx, lockRetryDelay)
	if err != nil && !isDeadline(err) {
		return nil, fmt.Errorf("schedule: acquire store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLockTimeout, s.lockPath)
	}
	defer fl.Unlock()

	return s.readSnapshot()
}

func (s *Store) readSnapshot() (map[string]storedRecord, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]storedRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("schedule: read store file: %w", err)
	}

	if len(data) == 0 {
		return map[string]storedRecord{}, nil
	}

	var snap map[string]storedRecord
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("schedule: corrupted store file %s: %w", s.path, err)
	}
	if snap == nil {
		snap = map[string]storedRecord{}
	}

	return snap, nil
}

// writeSnapshot writes the full snapshot to a temp file and renames it into
// place, so a crash mid-write never leaves a truncated store behind
func (s *Store) writeSnapshot(snap map[string]storedRecord) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("schedule: encode store file: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".tasks-*.json")
	if err != nil {
		return fmt.Errorf("schedule: create temp store file: %w", err)
	}

	if err := writeAndClose(tmp, data); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("schedule: write store file: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("schedule: replace store file: %w", err)
	}

	return nil
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func writeAndClose(f *os.File, data []byte) error {
	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

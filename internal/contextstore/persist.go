package contextstore

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/autodev/internal/errors"
)

// snapshot is the persisted file layout.
type snapshot struct {
	ProjectName string         `json:"project_name"`
	Version     int64          `json:"version"`
	Data        map[string]any `json:"data"`
	Events      []Event        `json:"events"`
	SavedAt     time.Time      `json:"saved_at"`
}

// corruptSuffixLayout formats the timestamp appended to quarantined files.
const corruptSuffixLayout = "20060102T150405.000000000Z"

// Save writes a snapshot of the store to its canonical file. The snapshot
// is written to a temp file in the same directory, fsynced and renamed into
// place, so readers see either the old or the new file. An exclusive file
// lock is held for the write so concurrent processes do not interleave.
//
// On failure the temp file is removed, the canonical file is left as it was,
// and a *errors.PersistenceError is returned.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.NewPersistenceError("mkdir", s.dir, err)
	}

	fl := NewFileLock(s.LockPath())
	acquired, err := fl.TryLock()
	if err != nil {
		return errors.NewPersistenceError("lock", fl.Path(), errors.Join(errors.ErrLockFailed, err))
	}
	if !acquired {
		s.logger.Debug("store lock contended, waiting", "lock", fl.Path())
		if err := fl.Lock(); err != nil {
			return errors.NewPersistenceError("lock", fl.Path(), errors.Join(errors.ErrLockFailed, err))
		}
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release store lock", "lock", fl.Path(), "error", err)
		}
	}()

	payload, err := json.MarshalIndent(snapshot{
		ProjectName: s.project,
		Version:     s.version,
		Data:        s.data,
		Events:      s.events,
		SavedAt:     s.now().UTC(),
	}, "", "  ")
	if err != nil {
		return errors.NewPersistenceError("marshal", s.Path(), err)
	}

	if err := writeAtomic(s.dir, s.tempPattern(), s.Path(), payload); err != nil {
		return err
	}

	s.logger.Info("context saved",
		"path", s.Path(),
		"version", s.version,
		"keys", len(s.data),
		"events", len(s.events))
	return nil
}

// writeAtomic writes payload to a temp file matching pattern in dir, syncs
// it and renames it onto target. The temp file never survives a failure.
func writeAtomic(dir, pattern, target string, payload []byte) error {
	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return errors.NewPersistenceError("create temp", dir, err)
	}
	tmpPath := tmp.Name()

	cleanup := func(op string, cause error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return errors.NewPersistenceError(op, target, cause)
	}

	if _, err := tmp.Write(payload); err != nil {
		return cleanup("write temp", err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup("sync temp", err)
	}
	if err := tmp.Chmod(0644); err != nil {
		return cleanup("chmod temp", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return errors.NewPersistenceError("close temp", target, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return errors.NewPersistenceError("rename", target, err)
	}
	return nil
}

// Load reconstructs the store persisted in dir. A missing snapshot yields a
// fresh store at version 1. A snapshot that cannot be parsed is renamed to
// "<file>.corrupt-<timestamp>" and a fresh store is returned; its Recovered
// method reports the *errors.CorruptedStateError. Errors are returned only
// for I/O failures other than corruption.
//
// A shared file lock is held while reading, and temp files left behind by
// interrupted saves older than the stale age are removed.
func Load(projectName, dir string, opts ...Option) (*Store, error) {
	s := New(projectName, dir, opts...)
	path := s.Path()

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("no saved context, starting fresh", "path", path)
			return s, nil
		}
		return nil, errors.NewPersistenceError("stat", path, err)
	}

	fl := NewFileLock(s.LockPath())
	if err := fl.RLock(); err != nil {
		return nil, errors.NewPersistenceError("lock", fl.Path(), errors.Join(errors.ErrLockFailed, err))
	}
	defer func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release store lock", "lock", fl.Path(), "error", err)
		}
	}()

	s.sweepStaleTemps()

	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, errors.NewPersistenceError("read", path, err)
	}

	snap, err := decodeSnapshot(raw)
	if err != nil {
		s.quarantine(err)
		return s, nil
	}

	if snap.ProjectName != "" && snap.ProjectName != projectName {
		s.logger.Warn("saved context belongs to another project",
			"saved_project", snap.ProjectName,
			"path", path)
	}

	s.version = snap.Version
	s.data = snap.Data
	s.events = snap.Events
	s.logger.Info("context loaded",
		"path", path,
		"version", s.version,
		"keys", len(s.data),
		"events", len(s.events))
	return s, nil
}

// decodeSnapshot parses and sanity-checks a persisted snapshot.
func decodeSnapshot(raw []byte) (*snapshot, error) {
	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	if snap.Version < 1 {
		return nil, fmt.Errorf("invalid version %d", snap.Version)
	}
	if snap.Data == nil {
		snap.Data = make(map[string]any)
	}
	if snap.Events == nil {
		snap.Events = []Event{}
	}
	for i := range snap.Events {
		if snap.Events[i].Payload == nil {
			snap.Events[i].Payload = map[string]any{}
		}
	}
	return &snap, nil
}

// quarantine moves the unreadable canonical file aside and records the
// recovery on s.
func (s *Store) quarantine(cause error) {
	path := s.Path()
	backup := fmt.Sprintf("%s.corrupt-%s", path, s.now().UTC().Format(corruptSuffixLayout))

	if err := os.Rename(path, backup); err != nil {
		s.logger.Error("failed to quarantine corrupted context", "path", path, "error", err)
		backup = ""
	}
	s.recovered = errors.NewCorruptedStateError(path, backup, cause)
	s.logger.Warn("corrupted context quarantined, starting fresh",
		"path", path,
		"backup", backup,
		"error", cause.Error())
}

// sweepStaleTemps removes temp files from interrupted saves that are older
// than the stale age. Failures are logged and otherwise ignored.
func (s *Store) sweepStaleTemps() {
	matches, err := filepath.Glob(filepath.Join(s.dir, s.tempPattern()))
	if err != nil {
		return
	}

	cutoff := s.now().Add(-s.staleTempAge)
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(m); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove stale temp file", "path", m, "error", err)
			continue
		}
		s.logger.Info("removed stale temp file", "path", m)
	}
}

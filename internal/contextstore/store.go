package contextstore

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/autodev/internal/logging"
)

// Defaults for the on-disk layout.
const (
	DefaultFileName     = "context.json"
	DefaultStaleTempAge = 60 * time.Second

	// ArtifactsKey is the data key AddArtifact appends to.
	ArtifactsKey = "artifacts"

	// EventArtifact is the kind of the event AddArtifact records.
	EventArtifact = "artifact"
)

// Event is one entry of the append-only event log.
type Event struct {
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload"`
	Timestamp time.Time      `json:"timestamp"`
	Version   int64          `json:"version"`
}

// Store is a versioned key/value table plus an append-only event log,
// shared by concurrently running work units. Every mutation bumps the
// version by one; an AtomicUpdate transaction bumps it once in total.
//
// The store never persists on its own. Callers checkpoint with Save.
type Store struct {
	mu      sync.Mutex
	project string
	dir     string
	data    map[string]any
	events  []Event
	version int64

	fileName     string
	staleTempAge time.Duration
	logger       *logging.Logger
	now          func() time.Time

	recovered error
}

// Option configures a Store.
type Option func(*Store)

// WithFileName overrides the canonical snapshot file name (default
// "context.json"). The lock and temp file names derive from it.
func WithFileName(name string) Option {
	return func(s *Store) {
		if name != "" {
			s.fileName = name
		}
	}
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(l *logging.Logger) Option {
	return func(s *Store) {
		s.logger = logging.OrNop(l)
	}
}

// WithClock replaces the wall clock used for event and save timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStaleTempAge sets how old a leftover temp file must be before Load
// removes it.
func WithStaleTempAge(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.staleTempAge = d
		}
	}
}

// New creates an empty store at version 1 that persists into dir.
func New(projectName, dir string, opts ...Option) *Store {
	s := &Store{
		project:      projectName,
		dir:          dir,
		data:         make(map[string]any),
		events:       []Event{},
		version:      1,
		fileName:     DefaultFileName,
		staleTempAge: DefaultStaleTempAge,
		logger:       logging.NopLogger(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("project", projectName)
	return s
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = value
	s.version++
	s.logger.Debug("context set", "key", key, "version", s.version)
}

// Get returns the value stored under key, or def when the key is absent.
func (s *Store) Get(key string, def any) any {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, ok := s.data[key]; ok {
		return v
	}
	return def
}

// Lookup returns the value stored under key and whether it was present.
func (s *Store) Lookup(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.data[key]
	return v, ok
}

// AppendEvent appends an event stamped with the current time and the
// version this append produced.
func (s *Store) AppendEvent(kind string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	s.appendEventLocked(kind, payload, s.version)
}

// AddArtifact records that agent produced the file at path: the record is
// appended to the "artifacts" list and logged as an "artifact" event. It
// counts as a single mutation.
func (s *Store) AddArtifact(agent, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.version++
	s.data[ArtifactsKey] = appendArtifact(s.data[ArtifactsKey], agent, path)
	s.appendEventLocked(EventArtifact, artifactRecord(agent, path), s.version)
}

// Artifacts returns the recorded artifacts as (agent, path) pairs.
func (s *Store) Artifacts() []Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return parseArtifacts(s.data[ArtifactsKey])
}

func (s *Store) appendEventLocked(kind string, payload map[string]any, version int64) {
	if payload == nil {
		payload = map[string]any{}
	}
	s.events = append(s.events, Event{
		Kind:      kind,
		Payload:   payload,
		Timestamp: s.now().UTC(),
		Version:   version,
	})
	s.logger.Info("context event", "kind", kind, "version", version)
}

// Version returns the current version.
func (s *Store) Version() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Events returns a copy of the event log.
func (s *Store) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Data returns a shallow copy of the key/value table.
func (s *Store) Data() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyData(s.data)
}

// ProjectName returns the project the store belongs to.
func (s *Store) ProjectName() string {
	return s.project
}

// StorageDir returns the directory the store persists into.
func (s *Store) StorageDir() string {
	return s.dir
}

// Path returns the canonical snapshot path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, s.fileName)
}

// LockPath returns the path of the cross-process lock file.
func (s *Store) LockPath() string {
	return filepath.Join(s.dir, s.baseName()+".lock")
}

// tempPattern is the os.CreateTemp pattern for in-progress snapshots.
func (s *Store) tempPattern() string {
	return s.baseName() + "-*.json.tmp"
}

func (s *Store) baseName() string {
	return strings.TrimSuffix(s.fileName, filepath.Ext(s.fileName))
}

// Recovered returns a *errors.CorruptedStateError when Load found an
// unreadable snapshot and started fresh, and nil otherwise.
func (s *Store) Recovered() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recovered
}

// -----------------------------------------------------------------------------
// Transactions
// -----------------------------------------------------------------------------

// Tx is the view of the store passed to an AtomicUpdate function. Writes are
// staged and become visible to other callers only when the function returns
// nil. A Tx must not be used after its function returns.
type Tx struct {
	s      *Store
	staged map[string]any
	events []stagedEvent
}

type stagedEvent struct {
	kind    string
	payload map[string]any
}

// Get returns the value under key as seen by the transaction.
func (tx *Tx) Get(key string, def any) any {
	if v, ok := tx.lookup(key); ok {
		return v
	}
	return def
}

func (tx *Tx) lookup(key string) (any, bool) {
	if v, ok := tx.staged[key]; ok {
		return v, true
	}
	v, ok := tx.s.data[key]
	return v, ok
}

// Set stages a write of value under key.
func (tx *Tx) Set(key string, value any) {
	tx.staged[key] = value
}

// AppendEvent stages an event. It is stamped with the commit version.
func (tx *Tx) AppendEvent(kind string, payload map[string]any) {
	tx.events = append(tx.events, stagedEvent{kind: kind, payload: payload})
}

// AddArtifact stages an artifact record and its event.
func (tx *Tx) AddArtifact(agent, path string) {
	current, _ := tx.lookup(ArtifactsKey)
	tx.staged[ArtifactsKey] = appendArtifact(current, agent, path)
	tx.events = append(tx.events, stagedEvent{kind: EventArtifact, payload: artifactRecord(agent, path)})
}

// Version returns the version the transaction commits at.
func (tx *Tx) Version() int64 {
	return tx.s.version + 1
}

// AtomicUpdate runs fn with exclusive access to the store. When fn returns
// a nil error its staged writes are applied together and the version is
// bumped exactly once, however many writes fn made. When fn returns an error
// nothing is applied and the version is unchanged. fn's result and error are
// returned unchanged. AtomicUpdate does not persist; call Save for that.
//
// fn must not call methods on the Store itself; use the Tx.
func (s *Store) AtomicUpdate(fn func(tx *Tx) (any, error)) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{s: s, staged: make(map[string]any)}
	result, err := fn(tx)
	if err != nil {
		s.logger.Debug("atomic update rolled back", "error", err)
		return result, err
	}

	s.version++
	for key, value := range tx.staged {
		s.data[key] = value
	}
	for _, e := range tx.events {
		s.appendEventLocked(e.kind, e.payload, s.version)
	}
	s.logger.Debug("atomic update committed",
		"version", s.version,
		"writes", len(tx.staged),
		"events", len(tx.events))
	return result, nil
}

// -----------------------------------------------------------------------------
// Artifacts
// -----------------------------------------------------------------------------

// Artifact is one entry of the "artifacts" list.
type Artifact struct {
	Agent string `json:"agent"`
	Path  string `json:"path"`
}

func artifactRecord(agent, path string) map[string]any {
	return map[string]any{"agent": agent, "path": path}
}

// appendArtifact returns a new list with the record appended. The list is
// stored as []any so it has the same shape before and after a JSON round trip.
func appendArtifact(current any, agent, path string) []any {
	existing, _ := current.([]any)
	out := make([]any, 0, len(existing)+1)
	out = append(out, existing...)
	return append(out, artifactRecord(agent, path))
}

func parseArtifacts(v any) []Artifact {
	list, _ := v.([]any)
	out := make([]Artifact, 0, len(list))
	for _, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			continue
		}
		agent, _ := rec["agent"].(string)
		path, _ := rec["path"].(string)
		out = append(out, Artifact{Agent: agent, Path: path})
	}
	return out
}

func copyData(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

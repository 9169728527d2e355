// Package tracker persists per-unit build state across runs and answers
// which units changed since the last build.
package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	pipeerrors "github.com/ericharmeling/docs-pipeline/internal/errors"
	"github.com/ericharmeling/docs-pipeline/internal/logfields"
)

// StateFileName is the cache file name inside the cache directory.
const StateFileName = "build_state.json"

const hashChunkSize = 4096

// UnitState is the recorded outcome of one fully processed unit.
type UnitState struct {
	ContentHash      string   `json:"content_hash"`
	Dependencies     []string `json:"dependencies"`
	ValidationResult bool     `json:"validation_result"`
}

// Tracker maps stable unit keys to their last known state. Keys must not
// encode transient locations (each build clones into a fresh workspace), so
// callers pair every key with the file path currently backing it. It is the
// sole writer of the persisted cache file. All methods are safe for
// concurrent use; writes are serialized behind an exclusive lock.
//
// The cache is an optimization: load failures degrade to an empty state and
// save failures are logged and swallowed, neither ever fails a build. One
// process owns the cache file at a time; there is no cross-process locking.
type Tracker struct {
	statePath string
	logger    *slog.Logger

	mu    sync.RWMutex
	state map[string]UnitState
}

// Open creates the cache directory if needed and loads any prior state.
// A corrupt or unreadable state file resets to empty rather than failing.
func Open(cacheDir string) (*Tracker, error) {
	if cacheDir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(cacheDir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	t := &Tracker{
		statePath: filepath.Join(cacheDir, StateFileName),
		logger:    slog.Default(),
		state:     make(map[string]UnitState),
	}
	t.loadState()
	return t, nil
}

// WithLogger sets a custom logger.
func (t *Tracker) WithLogger(logger *slog.Logger) *Tracker {
	t.logger = logger
	return t
}

// loadState reads the persisted cache if present. Nothing propagates past
// this call: a missing file means a first build, a corrupt file means a full
// recomputation.
func (t *Tracker) loadState() {
	data, err := os.ReadFile(t.statePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			t.logger.Warn("Failed to read state file, starting empty",
				logfields.Path(t.statePath), logfields.Error(err))
		}
		return
	}

	var state map[string]UnitState
	if err := json.Unmarshal(data, &state); err != nil {
		t.logger.Warn("Corrupt state file, starting empty",
			logfields.Error(pipeerrors.CacheCorrupt(t.statePath, err)))
		return
	}

	t.mu.Lock()
	t.state = state
	if t.state == nil {
		t.state = make(map[string]UnitState)
	}
	t.mu.Unlock()
	t.logger.Debug("Loaded build state", logfields.Path(t.statePath), logfields.Count(len(state)))
}

// ComputeHash reads the file in fixed-size chunks and returns the hex SHA-256
// digest of its content. A missing file yields the empty string, never an error.
func (t *Tracker) ComputeHash(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	hasher := sha256.New()
	buf := make([]byte, hashChunkSize)
	for {
		n, err := f.Read(buf)
		if n > 0 {
			hasher.Write(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.logger.Warn("Failed to read file while hashing", logfields.Path(path), logfields.Error(err))
			return ""
		}
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// Candidate pairs a stable unit key with the file currently backing it.
type Candidate struct {
	Key  string
	Path string
}

// GetChangedUnits returns the subset of candidates that are new or whose
// content hash differs from the stored one, preserving input order. This is
// the sole gate for skipping regeneration of a unit.
func (t *Tracker) GetChangedUnits(candidates []Candidate) []Candidate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	changed := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		prior, ok := t.state[c.Key]
		if !ok {
			changed = append(changed, c)
			continue
		}
		if t.ComputeHash(c.Path) != prior.ContentHash {
			changed = append(changed, c)
		}
	}
	t.logger.Debug("Change detection complete",
		slog.Int("candidates", len(candidates)), slog.Int("changed", len(changed)))
	return changed
}

// Get returns the stored state for a unit key, if any.
func (t *Tracker) Get(key string) (UnitState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.state[key]
	return s, ok
}

// Len returns the number of tracked units.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.state)
}

// UpdateState records the outcome of a fully processed unit and immediately
// persists the whole cache (write-through). Dependencies are stored as unit
// keys. Updating a unit whose file no longer exists is a logged no-op so
// stale entries are never fabricated.
func (t *Tracker) UpdateState(key, path string, dependencies []string, validationResult bool) {
	if _, err := os.Stat(path); err != nil {
		t.logger.Warn("Skipping state update for missing unit", logfields.Path(path))
		return
	}

	hash := t.ComputeHash(path)

	t.mu.Lock()
	if dependencies == nil {
		dependencies = []string{}
	}
	t.state[key] = UnitState{
		ContentHash:      hash,
		Dependencies:     dependencies,
		ValidationResult: validationResult,
	}
	t.saveLocked()
	t.mu.Unlock()
}

// GetDependents returns every unit whose dependency chain reaches the given
// unit. The traversal is an iterative BFS over a visited set, so dependency
// cycles terminate.
func (t *Tracker) GetDependents(key string) map[string]struct{} {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Reverse edges: dependency -> dependents.
	reverse := make(map[string][]string, len(t.state))
	for unit, st := range t.state {
		for _, dep := range st.Dependencies {
			reverse[dep] = append(reverse[dep], unit)
		}
	}

	dependents := make(map[string]struct{})
	queue := append([]string(nil), reverse[key]...)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, seen := dependents[current]; seen {
			continue
		}
		dependents[current] = struct{}{}
		queue = append(queue, reverse[current]...)
	}
	return dependents
}

// SaveState serializes the entire in-memory map and replaces the cache file.
// Failures are logged and swallowed.
func (t *Tracker) SaveState() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saveLocked()
}

// saveLocked writes the full snapshot via temp-file-then-rename so a crash
// mid-write never corrupts previously persisted entries. Callers hold t.mu.
func (t *Tracker) saveLocked() {
	data, err := json.Marshal(t.state)
	if err != nil {
		t.logger.Error("Failed to serialize build state", logfields.Error(err))
		return
	}

	tmp := t.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		t.logger.Error("Failed to write build state", logfields.Path(tmp), logfields.Error(err))
		return
	}
	if err := os.Rename(tmp, t.statePath); err != nil {
		t.logger.Error("Failed to replace build state", logfields.Path(t.statePath), logfields.Error(err))
		_ = os.Remove(tmp)
	}
}

// Flush persists the current state immediately.
func (t *Tracker) Flush() {
	t.SaveState()
}

// Close flushes the state. The tracker must not be used afterwards.
func (t *Tracker) Close() {
	t.SaveState()
}

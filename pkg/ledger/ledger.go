// Package ledger persists the per-target execution history that makes
// pipeline re-runs incremental.
//
// The ledger is a single JSON document holding one entry per target.
// Writes go through a temp file followed by an atomic rename, so a
// recorded entry survives a crash immediately after Record returns.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Status is the terminal state recorded for a target.
//
// NOTE: These values are persisted in the ledger file and are part of
// the stable on-disk contract.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Entry is the persistent record for one target.
type Entry struct {
	Target      string    `json:"target"`
	Fingerprint string    `json:"fingerprint"`
	Status      Status    `json:"status"`
	CompletedAt time.Time `json:"completed_at"`
	Duration    float64   `json:"duration_seconds,omitempty"`
	RunID       string    `json:"run_id,omitempty"`
}

// fileSchema is the on-disk document shape.
type fileSchema struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

const schemaVersion = 1

// ErrCorrupt indicates the ledger file exists but cannot be parsed.
// Staleness cannot be trusted over a corrupt ledger, so callers treat
// this as fatal rather than silently starting over.
var ErrCorrupt = errors.New("ledger file is corrupt")

// Ledger is a file-backed store of Entries keyed by target name.
//
// All mutating methods serialize through an internal mutex; concurrent
// Record calls from executor workers cannot lose or corrupt entries.
type Ledger struct {
	path string

	mu      sync.Mutex
	entries map[string]Entry
}

// Open loads the ledger at path, creating an empty one in memory when
// the file does not exist yet. The parent directory is created lazily
// on the first Record.
func Open(path string) (*Ledger, error) {
	if path == "" {
		return nil, errors.New("ledger path is required")
	}
	l := &Ledger{path: path, entries: make(map[string]Entry)}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var doc fileSchema
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if doc.Version != schemaVersion {
		return nil, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, path, doc.Version)
	}
	for _, e := range doc.Entries {
		if e.Target == "" {
			return nil, fmt.Errorf("%w: %s: entry with empty target", ErrCorrupt, path)
		}
		l.entries[e.Target] = e
	}
	return l, nil
}

// Path returns the backing file location.
func (l *Ledger) Path() string { return l.path }

// Get returns the entry for target, if any.
func (l *Ledger) Get(target string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[target]
	return e, ok
}

// Entries returns all entries sorted by target name.
func (l *Ledger) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Target < out[j].Target })
	return out
}

// Record upserts the entry for e.Target and flushes the whole document
// to disk. When Record returns nil the entry is durable: a subsequent
// Open observes it even if the process dies immediately after.
func (l *Ledger) Record(e Entry) error {
	if e.Target == "" {
		return errors.New("ledger entry requires a target name")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	prev, had := l.entries[e.Target]
	l.entries[e.Target] = e
	if err := l.flushLocked(); err != nil {
		// Keep memory consistent with disk on failure.
		if had {
			l.entries[e.Target] = prev
		} else {
			delete(l.entries, e.Target)
		}
		return err
	}
	return nil
}

// Forget removes the entry for target without requiring a graph.
func (l *Ledger) Forget(target string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[target]; !ok {
		return nil
	}
	prev := l.entries[target]
	delete(l.entries, target)
	if err := l.flushLocked(); err != nil {
		l.entries[target] = prev
		return err
	}
	return nil
}

// Prune drops entries whose target no longer exists according to keep,
// returning the removed target names. Renamed or removed pipeline steps
// stop shadowing freshness decisions after a prune.
func (l *Ledger) Prune(keep func(target string) bool) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed []string
	for name := range l.entries {
		if !keep(name) {
			removed = append(removed, name)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	sort.Strings(removed)

	saved := make(map[string]Entry, len(removed))
	for _, name := range removed {
		saved[name] = l.entries[name]
		delete(l.entries, name)
	}
	if err := l.flushLocked(); err != nil {
		for name, e := range saved {
			l.entries[name] = e
		}
		return nil, err
	}
	return removed, nil
}

// flushLocked writes the document via temp file + atomic rename.
// Callers hold l.mu.
func (l *Ledger) flushLocked() error {
	doc := fileSchema{Version: schemaVersion, Entries: make([]Entry, 0, len(l.entries))}
	for _, e := range l.entries {
		doc.Entries = append(doc.Entries, e)
	}
	sort.Slice(doc.Entries, func(i, j int) bool { return doc.Entries[i].Target < doc.Entries[j].Target })

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}
	b = append(b, '\n')

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create ledger dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(l.path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp ledger: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp ledger: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp ledger: %w", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("rename ledger: %w", err)
	}
	return nil
}

package patterns

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// PERSISTENCE
// =============================================================================
//
// The registry persists to a single schema-versioned JSON file. Writes are
// debounced and atomic (write-to-temp-then-rename). Readers tolerate unknown
// fields and reject unknown major versions.
//
// =============================================================================

// patternsSchemaVersion is bumped on breaking layout changes
const patternsSchemaVersion = "1.0"

// patternsFile is the on-disk layout of patterns.json
type patternsFile struct {
	SchemaVersion string    `json:"schemaVersion"`
	SavedAt       time.Time `json:"savedAt"`
	Patterns      []Pattern `json:"patterns"`
}

// persister debounces and atomically writes state snapshots
type persister struct {
	mu       sync.Mutex
	path     string
	debounce time.Duration
	export   func() interface{}
	timer    *time.Timer
	closed   bool
	logger   *zap.Logger
}

func newPersister(path string, debounce time.Duration, export func() interface{}, logger *zap.Logger) *persister {
	return &persister{
		path:     path,
		debounce: debounce,
		export:   export,
		logger:   logger,
	}
}

// schedule arms (or re-arms) the debounced write
func (w *persister) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if err := w.flush(); err != nil {
			w.logger.Warn("state persist failed", zap.Error(err))
		}
	})
}

// flush writes the current snapshot immediately
func (w *persister) flush() error {
	state := w.export()
	return WriteFileAtomic(w.path, state)
}

// close stops the timer and performs a final synchronous write
func (w *persister) close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.flush()
}

// WriteFileAtomic marshals state and replaces path via temp file + rename
func WriteFileAtomic(path string, state interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

// CheckSchemaVersion rejects unknown major versions
func CheckSchemaVersion(version, supported string) error {
	major := func(v string) string {
		if idx := strings.Index(v, "."); idx >= 0 {
			return v[:idx]
		}
		return v
	}
	got, want := major(version), major(supported)
	if _, err := strconv.Atoi(got); err != nil {
		return fmt.Errorf("malformed schema version %q", version)
	}
	if got != want {
		return fmt.Errorf("unsupported schema major version %s (supported: %s)", got, want)
	}
	return nil
}

// =============================================================================
// REGISTRY INTEGRATION
// =============================================================================

// schedulePersist arms the debounced write when persistence is enabled
func (r *Registry) schedulePersist() {
	if r.persister != nil {
		r.persister.schedule()
	}
}

// Flush forces an immediate synchronous persist
func (r *Registry) Flush() error {
	if r.persister == nil {
		return nil
	}
	return r.persister.flush()
}

// Close stops the persist timer and writes a final snapshot
func (r *Registry) Close() error {
	if r.persister == nil {
		return nil
	}
	return r.persister.close()
}

// exportState snapshots all patterns for persistence, stably ordered by id
func (r *Registry) exportState() interface{} {
	r.mu.RLock()
	entries := make([]*patternEntry, 0, len(r.patterns))
	for _, entry := range r.patterns {
		entries = append(entries, entry)
	}
	r.mu.RUnlock()

	out := make([]Pattern, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })

	return patternsFile{
		SchemaVersion: patternsSchemaVersion,
		SavedAt:       time.Now(),
		Patterns:      out,
	}
}

// Load reads a previously persisted patterns file. A missing file is not
// an error; an unknown major version is.
func (r *Registry) Load() error {
	if r.config.PersistPath == "" {
		return nil
	}

	data, err := os.ReadFile(r.config.PersistPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read patterns file: %w", err)
	}

	var file patternsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse patterns file: %w", err)
	}
	if err := CheckSchemaVersion(file.SchemaVersion, patternsSchemaVersion); err != nil {
		return err
	}

	for i := range file.Patterns {
		p := file.Patterns[i]
		if err := r.Add(&p); err != nil {
			r.logger.Warn("skipping unloadable pattern",
				zap.String("patternId", p.Id), zap.Error(err))
		}
	}

	r.logger.Info("patterns loaded",
		zap.Int("count", len(file.Patterns)),
		zap.String("path", r.config.PersistPath))
	return nil
}

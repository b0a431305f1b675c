// Package tracker keeps the durable record of processed and downloaded
// messages, so reruns skip work already done.
//
// State lives in a single JSON document rewritten atomically (temp file
// plus rename) on every mark. Marks are idempotent and flushed before
// returning; a flush failure never rolls back the in-memory mark.
package tracker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"tgmusic/internal/domain"
)

// ErrCorruptState marks a tracker file that exists but cannot be parsed.
// The caller decides whether to abort or start fresh; the tracker never
// silently discards unreadable state.
var ErrCorruptState = errors.New("tracker state is corrupt")

// FlushError reports a failed persistence flush. The in-memory mark that
// triggered the flush remains applied, so the caller may retry the flush
// or abort the run.
type FlushError struct {
	Path string
	Err  error
}

func (e *FlushError) Error() string {
	return fmt.Sprintf("flush tracker state to %s: %v", e.Path, e.Err)
}

func (e *FlushError) Unwrap() error { return e.Err }

// FileRecord describes one downloaded file.
type FileRecord struct {
	Path         string    `json:"path"`
	SHA256       string    `json:"sha256,omitempty"`
	Size         int64     `json:"size"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

type state struct {
	Version    int                   `json:"version"`
	Processed  []string              `json:"processed_messages"`
	Downloaded map[string]FileRecord `json:"downloaded_files"`
	UpdatedAt  time.Time             `json:"last_updated"`
}

const stateVersion = 1

// Tracker is safe for concurrent use; flushes are serialized by the
// same mutex that guards the sets.
type Tracker struct {
	path string

	mu         sync.Mutex
	processed  map[string]struct{}
	downloaded map[string]FileRecord
}

// Load reads the persisted state at path. A missing file yields an empty
// tracker; an unreadable one fails with ErrCorruptState. Loading
// re-derives the invariant that every downloaded key is also processed,
// which repairs a crash between the two marks.
func Load(path string) (*Tracker, error) {
	t := &Tracker{
		path:       path,
		processed:  make(map[string]struct{}),
		downloaded: make(map[string]FileRecord),
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tracker state %s: %w", path, err)
	}

	var st state
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptState, path, err)
	}

	for _, key := range st.Processed {
		t.processed[key] = struct{}{}
	}
	for key, rec := range st.Downloaded {
		t.downloaded[key] = rec
		t.processed[key] = struct{}{}
	}
	return t, nil
}

// StartFresh returns an empty tracker bound to path, for the
// start-over-on-corruption policy.
func StartFresh(path string) *Tracker {
	return &Tracker{
		path:       path,
		processed:  make(map[string]struct{}),
		downloaded: make(map[string]FileRecord),
	}
}

func (t *Tracker) IsProcessed(key domain.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.processed[key.String()]
	return ok
}

func (t *Tracker) IsDownloaded(key domain.Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.downloaded[key.String()]
	return ok
}

// Downloaded returns the file record for key, if any.
func (t *Tracker) Downloaded(key domain.Key) (FileRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.downloaded[key.String()]
	return rec, ok
}

// MarkProcessed records that key was seen, whatever the outcome was.
// Marking twice is a no-op. The state is flushed before returning.
func (t *Tracker) MarkProcessed(key domain.Key) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.processed[key.String()]; ok {
		return nil
	}
	t.processed[key.String()] = struct{}{}
	return t.flushLocked()
}

// MarkDownloaded records a completed download. Marking twice is a no-op
// that keeps the first record. The state is flushed before returning.
func (t *Tracker) MarkDownloaded(key domain.Key, rec FileRecord) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.downloaded[key.String()]; ok {
		return nil
	}
	t.downloaded[key.String()] = rec
	return t.flushLocked()
}

// Counts returns the processed and downloaded set sizes.
func (t *Tracker) Counts() (processed, downloaded int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.processed), len(t.downloaded)
}

func (t *Tracker) flushLocked() error {
	st := state{
		Version:    stateVersion,
		Processed:  make([]string, 0, len(t.processed)),
		Downloaded: t.downloaded,
		UpdatedAt:  time.Now().UTC(),
	}
	for key := range t.processed {
		st.Processed = append(st.Processed, key)
	}
	sort.Strings(st.Processed)

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return &FlushError{Path: t.path, Err: err}
	}

	dir := filepath.Dir(t.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &FlushError{Path: t.path, Err: err}
	}
	tmp, err := os.CreateTemp(dir, ".tracker-*.tmp")
	if err != nil {
		return &FlushError{Path: t.path, Err: err}
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return &FlushError{Path: t.path, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return &FlushError{Path: t.path, Err: err}
	}
	if err := os.Rename(tmpPath, t.path); err != nil {
		os.Remove(tmpPath)
		return &FlushError{Path: t.path, Err: err}
	}
	return nil
}

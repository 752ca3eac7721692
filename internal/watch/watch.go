// Package watch detects file changes by polling. A watcher scans a root on
// a fixed interval, compares modification times and sizes against the
// previous scan, and reports the changed paths to a sink, typically the
// engine's Invalidate. Polling misses nothing that settles between two
// scans and needs no platform notification API.
package watch

import (
	"context"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/specialistvlad/buildgridgo/internal/ctxlog"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 500 * time.Millisecond

// Sink receives batches of changed absolute paths.
type Sink func(paths []string)

type fileState struct {
	modTime time.Time
	size    int64
}

// Watcher polls one directory tree for changes.
type Watcher struct {
	root     string
	interval time.Duration
	ignore   []string
	sink     Sink

	known map[string]fileState
}

// Option configures a watcher.
type Option func(*Watcher)

// WithInterval sets the poll interval.
func WithInterval(d time.Duration) Option {
	return func(w *Watcher) { w.interval = d }
}

// WithIgnore skips paths containing any of the given slash-separated
// segments, such as ".git" or "node_modules".
func WithIgnore(segments ...string) Option {
	return func(w *Watcher) { w.ignore = append(w.ignore, segments...) }
}

// New creates a watcher over root that reports changes to sink.
func New(root string, sink Sink, opts ...Option) *Watcher {
	w := &Watcher{
		root:     filepath.Clean(root),
		interval: DefaultInterval,
		sink:     sink,
		known:    map[string]fileState{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run polls until the context is cancelled. The first scan establishes the
// baseline and reports nothing.
func (w *Watcher) Run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	w.known = w.scan(ctx)
	logger.Debug("watch baseline established", "root", w.root, "files", len(w.known))

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if changed := w.Poll(ctx); len(changed) > 0 {
				logger.Debug("changes detected", "count", len(changed))
				w.sink(changed)
			}
		}
	}
}

// Poll performs one scan and returns the paths changed since the previous
// one: modified, added, and removed files.
func (w *Watcher) Poll(ctx context.Context) []string {
	current := w.scan(ctx)
	var changed []string
	for path, state := range current {
		prev, ok := w.known[path]
		if !ok || prev.modTime != state.modTime || prev.size != state.size {
			changed = append(changed, path)
		}
	}
	for path := range w.known {
		if _, ok := current[path]; !ok {
			changed = append(changed, path)
		}
	}
	w.known = current
	sort.Strings(changed)
	return changed
}

func (w *Watcher) scan(ctx context.Context) map[string]fileState {
	logger := ctxlog.FromContext(ctx)
	state := make(map[string]fileState, len(w.known))
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// A file can vanish between listing and stat. Treat it as absent.
			return nil
		}
		if w.ignored(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		state[path] = fileState{modTime: info.ModTime(), size: info.Size()}
		return nil
	})
	if err != nil {
		logger.Warn("watch scan failed", "root", w.root, "error", err)
	}
	return state
}

func (w *Watcher) ignored(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return false
	}
	for _, seg := range strings.Split(filepath.ToSlash(rel), "/") {
		for _, ignore := range w.ignore {
			if seg == ignore {
				return true
			}
		}
	}
	return false
}

package web

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDuration batches rapid bursts of filesystem events (editors and the
// commit gate both write-then-rename) into a single rescan.
const debounceDuration = 100 * time.Millisecond

// StatusCache answers file-status polls from an in-memory snapshot kept fresh
// by a filesystem watcher. When the watcher cannot be set up (missing
// directory, platform limits) every Snapshot call rescans the directory
// instead, so callers see the same data either way.
type StatusCache struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	files map[string]float64

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewStatusCache builds a cache over dir and starts the watcher goroutine if
// the directory can be watched.
func NewStatusCache(dir string, logger *slog.Logger) *StatusCache {
	c := &StatusCache{
		dir:    dir,
		logger: logger,
		files:  scanStatus(dir),
		done:   make(chan struct{}),
	}
	c.watcher = initWatcher(dir, logger)
	if c.watcher != nil {
		go c.run()
	}
	return c
}

// initWatcher creates a filesystem watcher for dir. Returns nil if
// initialization fails; the cache falls back to rescanning on demand.
func initWatcher(dir string, logger *slog.Logger) *fsnotify.Watcher {
	if _, err := os.Stat(dir); err != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("fsnotify unavailable, polling instead", "error", err)
		return nil
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		logger.Warn("fsnotify watch failed, polling instead", "dir", dir, "error", err)
		return nil
	}
	return watcher
}

// run consumes watcher events and refreshes the snapshot after each debounced
// burst.
func (c *StatusCache) run() {
	timer := newDebounceTimer()
	defer timer.Stop()

	for {
		select {
		case _, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			resetDebounceTimer(timer)

		case <-timer.C:
			c.refresh()

		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("fsnotify watcher error", "error", err)

		case <-c.done:
			return
		}
	}
}

func (c *StatusCache) refresh() {
	files := scanStatus(c.dir)
	c.mu.Lock()
	c.files = files
	c.mu.Unlock()
}

// Snapshot returns name → mtime (seconds since epoch) for every .scad file in
// the directory. Without a watcher it rescans; with one it copies the cache.
func (c *StatusCache) Snapshot() map[string]float64 {
	if c.watcher == nil {
		return scanStatus(c.dir)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]float64, len(c.files))
	for k, v := range c.files {
		out[k] = v
	}
	return out
}

// Close stops the watcher goroutine. Safe to call once.
func (c *StatusCache) Close() {
	close(c.done)
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
}

// scanStatus stats every .scad file in dir. A missing directory yields an
// empty map, matching the file-listing endpoints.
func scanStatus(dir string) map[string]float64 {
	files := make(map[string]float64)
	matches, err := filepath.Glob(filepath.Join(dir, "*.scad"))
	if err != nil {
		return files
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		files[filepath.Base(path)] = float64(info.ModTime().UnixNano()) / float64(time.Second)
	}
	return files
}

// newDebounceTimer creates a stopped timer ready for resetDebounceTimer.
func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

// resetDebounceTimer restarts the debounce window, draining a fired timer
// first so Reset behaves.
func resetDebounceTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDuration)
}

// listScadFiles returns name/path pairs for every .scad file in dir, sorted
// by name. A missing directory yields an empty list.
func listScadFiles(dir string) []FileEntry {
	entries := []FileEntry{}
	matches, err := filepath.Glob(filepath.Join(dir, "*.scad"))
	if err != nil {
		return entries
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		entries = append(entries, FileEntry{Name: filepath.Base(path), Path: path})
	}
	return entries
}

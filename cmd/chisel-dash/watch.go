package main

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fsnotify/fsnotify"
)

// fsChangeMsg is sent when the run log database changes on disk.
type fsChangeMsg struct{}

// debounceDelay coalesces the burst of writes sqlite makes per transaction.
const debounceDelay = 100 * time.Millisecond

// newRunLogWatcher watches the directory holding the run log. Returns nil if
// the directory is missing or the watcher cannot start; the dashboard then
// falls back to tick-only refresh.
func newRunLogWatcher(dbPath string) *fsnotify.Watcher {
	dir := filepath.Dir(dbPath)
	if _, err := os.Stat(dir); err != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}

	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil
	}

	return watcher
}

// waitForChange returns a command that blocks until the run log or one of
// its WAL sidecars changes, debouncing rapid write bursts into a single
// message. Generated designs can land in the same directory, so events for
// unrelated files are skipped. A nil watcher yields a nil command.
func waitForChange(watcher *fsnotify.Watcher, dbPath string) tea.Cmd {
	if watcher == nil {
		return nil
	}

	base := filepath.Base(dbPath)
	return func() tea.Msg {
		debounce := newDebounceTimer()
		defer debounce.Stop()

		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if !strings.HasPrefix(filepath.Base(event.Name), base) {
					continue
				}
				resetDebounceTimer(debounce)

			case <-debounce.C:
				return fsChangeMsg{}

			case _, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				return nil
			}
		}
	}
}

// newDebounceTimer returns a drained timer ready for resetDebounceTimer.
func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

// resetDebounceTimer restarts the debounce window after a filesystem event.
func resetDebounceTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(debounceDelay)
}

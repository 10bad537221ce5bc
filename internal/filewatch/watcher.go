// Package filewatch watches a single file for changes, pairing a native
// fsnotify watch with an mtime poll so atomic-rename replacements are never
// missed. Shared by the tag-map and runtime-override reloaders.
package filewatch

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	// DefaultDebounce coalesces bursts of write events into one callback.
	DefaultDebounce = 2 * time.Second
	// DefaultPollInterval is the stat-based fallback cadence.
	DefaultPollInterval = 30 * time.Second
)

// Watcher invokes a callback when the watched file's content changes.
type Watcher struct {
	path     string
	onChange func()
	debounce time.Duration
	poll     time.Duration
	logger   zerolog.Logger

	fsw      *fsnotify.Watcher
	stop     chan struct{}
	stopOnce sync.Once

	mu        sync.Mutex
	lastMtime int64 // epoch ms; baseline seeded before the poller arms
	timer     *time.Timer
}

// New builds a watcher for path. Zero durations take the defaults. The file
// does not have to exist yet; creation counts as a change.
func New(path string, debounce, poll time.Duration, onChange func(), logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &Watcher{
		path:     path,
		onChange: onChange,
		debounce: debounce,
		poll:     poll,
		logger:   logger.With().Str("component", "filewatch").Str("path", path).Logger(),
	}
}

// Start arms the watcher. The baseline mtime is captured first so the
// initial poll tick never fires a spurious change.
func (w *Watcher) Start() error {
	w.mu.Lock()
	w.lastMtime = statMtime(w.path)
	w.mu.Unlock()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory: editors and atomic writers replace the file by
	// rename, which drops a direct file watch.
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		fsw.Close()
		return err
	}

	w.fsw = fsw
	w.stop = make(chan struct{})
	go w.loop()

	w.logger.Debug().Msg("File watcher started")
	return nil
}

// Stop halts the watcher and any pending debounce.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		if w.fsw != nil {
			w.fsw.Close()
		}
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.markDirty()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("File watcher error")

		case <-ticker.C:
			if mtime := statMtime(w.path); mtime != w.baseline() {
				w.markDirty()
			}
		}
	}
}

// markDirty resets the debounce timer; the callback fires once the burst
// settles.
func (w *Watcher) markDirty() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	select {
	case <-w.stop:
		return
	default:
	}

	w.mu.Lock()
	w.lastMtime = statMtime(w.path)
	w.mu.Unlock()

	w.logger.Debug().Msg("Watched file changed")
	w.onChange()
}

func (w *Watcher) baseline() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastMtime
}

// statMtime returns the file's mtime in epoch ms, 0 when absent.
func statMtime(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

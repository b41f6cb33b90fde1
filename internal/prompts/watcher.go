package prompts

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	. "github.com/kaundiverse/fear-investigator/internal/logging"
	. "github.com/kaundiverse/fear-investigator/internal/metrics"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Store when its override file changes.
type Watcher struct {
	store    *Store
	watcher  *fsnotify.Watcher
	file     string
	debounce time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once

	mu           sync.Mutex
	pendingTimer *time.Timer
	reloads      int
}

// NewWatcher watches the store's file. The parent directory is watched
// rather than the file so that editors replacing the file are seen.
func NewWatcher(store *Store, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	file, err := filepath.Abs(store.Path())
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	if err := fsWatcher.Add(filepath.Dir(file)); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return &Watcher{
		store:    store,
		watcher:  fsWatcher,
		file:     file,
		debounce: debounce,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	L_debug("prompts: watching", "path", w.file)
	go w.run()
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			L_warn("prompts: watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.file {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}
	L_trace("prompts: file event", "path", event.Name, "op", event.Op.String())
	w.triggerReload()
}

func (w *Watcher) triggerReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.pendingTimer = nil
		w.mu.Unlock()

		if err := w.store.Reload(); err != nil {
			MetricFail("prompts", "reload")
			L_error("prompts: reload failed, keeping previous texts", "error", err)
			return
		}
		w.mu.Lock()
		w.reloads++
		w.mu.Unlock()
		MetricSuccess("prompts", "reload")
		L_info("prompts: reloaded", "path", w.file)
	})
}

// Reloads returns how many successful reloads the watcher triggered.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		if w.pendingTimer != nil {
			w.pendingTimer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}

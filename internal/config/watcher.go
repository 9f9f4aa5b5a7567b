package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debounceReload is the minimum spacing between two reloads triggered by
// filesystem events, avoiding a reload storm from editors that write a file
// in several small writes.
var debounceReload = 300 * time.Millisecond

// Watcher hot-reloads config.json between cycles without a restart
// (SPEC_FULL.md §2 ambient-stack expansion). It never interrupts a cycle
// already in flight — callers read the watcher's current Config only at
// cycle boundaries.
type Watcher struct {
	fsw        *fsnotify.Watcher
	configPath string
	envFile    string
	logger     *logrus.Logger

	mu      sync.RWMutex
	current Config

	lastReload time.Time
	stopOnce   sync.Once
	done       chan struct{}
}

// NewWatcher creates a Watcher that watches the directory containing
// configPath and reloads on any write event to that file.
func NewWatcher(configPath, envFile string, logger *logrus.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	cfg, err := Load(configPath, envFile)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:        fsw,
		configPath: configPath,
		envFile:    envFile,
		logger:     logger,
		current:    cfg,
		done:       make(chan struct{}),
	}
	return w, nil
}

// Start begins watching in the background. It is safe to call Start without
// a successful watch target (e.g. in tests); watch errors are logged, not
// fatal, matching spec.md §7's "transient-operational" handling.
func (w *Watcher) Start() {
	if w.configPath != "" {
		if err := w.fsw.Add(dirOf(w.configPath)); err != nil {
			w.logger.WithError(err).Warn("config: failed to watch config directory, hot-reload disabled")
			return
		}
	}
	go w.handleEvents(w.fsw.Events, w.fsw.Errors)
}

// Stop releases the underlying filesystem watch.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
}

// Current returns the most recently loaded Config.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) handleEvents(events chan fsnotify.Event, errs chan error) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Name != w.configPath || (ev.Op&(fsnotify.Write|fsnotify.Create)) == 0 {
				continue
			}
			if time.Since(w.lastReload) < debounceReload {
				continue
			}
			w.lastReload = time.Now()
			w.reload()
		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("config: watcher error")
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.configPath, w.envFile)
	if err != nil {
		w.logger.WithError(err).Warn("config: reload failed, keeping previous configuration")
		return
	}
	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()
	w.logger.Info("config: reloaded")
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

package policy

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Source hands out the current base stack. Reloads swap the pointer, so a
// reader holds either the old or the new stack, never a mix.
type Source struct {
	current atomic.Pointer[Stack]
}

func NewSource(s *Stack) *Source {
	src := &Source{}
	src.current.Store(s)
	return src
}

func (s *Source) Current() *Stack {
	return s.current.Load()
}

func (s *Source) Swap(next *Stack) {
	s.current.Store(next)
}

// Builder produces a fresh base stack, typically BuildStack over the loaded
// config.
type Builder func() (*Stack, error)

// Watcher rebuilds the stack held by a Source whenever the policy file
// changes. Editors often replace files by rename, so the parent directory is
// watched and events are filtered by name.
type Watcher struct {
	watcher  *fsnotify.Watcher
	path     string
	source   *Source
	build    Builder
	debounce time.Duration
	onReload func(*Stack, error)

	mu      sync.Mutex
	timer   *time.Timer
	done    chan struct{}
	stopped sync.Once
}

func NewWatcher(path string, source *Source, build Builder, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}

	return &Watcher{
		watcher:  fw,
		path:     abs,
		source:   source,
		build:    build,
		debounce: debounce,
		done:     make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after every reload attempt. err is
// non-nil when the rebuilt stack was rejected and the old one kept.
func (w *Watcher) OnReload(fn func(*Stack, error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) Close() error {
	var err error
	w.stopped.Do(func() {
		close(w.done)
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.shouldHandle(event) {
				w.schedule()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Policy watcher error", "error", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) shouldHandle(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	next, err := w.build()
	if err != nil {
		slog.Warn("Policy reload rejected, keeping previous policy", "path", w.path, "error", err)
	} else {
		w.source.Swap(next)
		slog.Info("Policy reloaded", "path", w.path, "entries", len(next.Entries()))
	}

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(next, err)
	}
}

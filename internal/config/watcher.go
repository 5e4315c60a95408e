package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher monitors a YAML file for changes and calls a callback with the
// previous and the newly parsed value when the content changes. It uses
// polling (not fsnotify): a cheap mtime check first, then a SHA-256 of the
// content so touches without edits are ignored.
//
// The same watcher drives config reloads ([NewConfigWatcher]) and catalog
// reloads (with catalog.LoadFromReader as the parse function).
type Watcher[T any] struct {
	path     string
	interval time.Duration
	parse    func(io.Reader) (T, error)
	onChange func(old, new T)
	log      *slog.Logger

	mu       sync.Mutex
	current  T
	done     chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*watcherOptions)

type watcherOptions struct {
	interval time.Duration
	log      *slog.Logger
}

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(o *watcherOptions) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithWatchLogger sets the logger used for reload diagnostics.
func WithWatchLogger(l *slog.Logger) WatcherOption {
	return func(o *watcherOptions) { o.log = l }
}

// NewWatcher creates a file watcher. It parses the file immediately and
// starts polling in a background goroutine. Invalid content is logged and
// skipped; the last valid value stays current.
func NewWatcher[T any](path string, parse func(io.Reader) (T, error), onChange func(old, new T), opts ...WatcherOption) (*Watcher[T], error) {
	o := watcherOptions{interval: 5 * time.Second, log: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	w := &Watcher[T]{
		path:     path,
		interval: o.interval,
		parse:    parse,
		onChange: onChange,
		log:      o.log,
		done:     make(chan struct{}),
	}

	v, hash, mtime, err := w.loadAndHash()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: initial load: %w", path, err)
	}
	w.current = v
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// NewConfigWatcher watches a cuemix config file.
func NewConfigWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher[*Config], error) {
	return NewWatcher(path, LoadFromReader, onChange, opts...)
}

// Current returns the most recently loaded valid value.
func (w *Watcher[T]) Current() T {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the file watcher. It is safe to call more than once.
func (w *Watcher[T]) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher[T]) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reads the file and, if it has changed and parses, calls onChange and
// updates the current value.
func (w *Watcher[T]) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	v, hash, newMtime, err := w.loadAndHash()
	if err != nil {
		w.log.Warn("config: watcher kept previous version", "path", w.path, "err", err)
		// Remember the mtime so a broken file is reported once per edit.
		w.mu.Lock()
		w.lastMtime = info.ModTime()
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = v
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	w.log.Info("config: file reloaded", "path", w.path)

	// Outside the lock so the callback can call Current.
	if w.onChange != nil {
		w.onChange(old, v)
	}
}

// loadAndHash reads and parses the file and returns the value alongside the
// content hash and modification time.
func (w *Watcher[T]) loadAndHash() (T, [sha256.Size]byte, time.Time, error) {
	var (
		zero     T
		zeroHash [sha256.Size]byte
	)

	f, err := os.Open(w.path)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}

	v, err := w.parse(bytes.NewReader(data))
	if err != nil {
		return zero, zeroHash, time.Time{}, err
	}
	return v, sha256.Sum256(data), info.ModTime(), nil
}

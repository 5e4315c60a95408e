package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	pathpkg "path"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/cuemix/pkg/sound"
)

// Compile-time interface assertion.
var _ sound.Loader = (*Loader)(nil)

// DefaultPreloadWorkers bounds the number of concurrent decodes in
// [Loader.Preload].
const DefaultPreloadWorkers = 4

// Option configures a [Loader] during construction.
type Option func(*Loader)

// WithFS reads assets from fsys instead of the host file system.
func WithFS(fsys fs.FS) Option {
	return func(l *Loader) { l.fsys = fsys }
}

// WithRegistry replaces the default decoder registry.
func WithRegistry(r *Registry) Option {
	return func(l *Loader) { l.reg = r }
}

// WithLogger sets the logger used for load diagnostics.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loader) { l.log = lg }
}

// WithPreloadWorkers sets the decode concurrency of [Loader.Preload].
func WithPreloadWorkers(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.workers = n
		}
	}
}

// WithOnLoad registers a callback invoked after every decode attempt with the
// asset path, how long the decode took and its error.
func WithOnLoad(fn func(path string, took time.Duration, err error)) Option {
	return func(l *Loader) { l.onLoad = fn }
}

// Loader decodes assets on background goroutines and keeps them resident.
// Concurrent requests for the same asset share a single decode.
//
// All methods are safe for concurrent use.
type Loader struct {
	fsys    fs.FS
	reg     *Registry
	log     *slog.Logger
	workers int
	onLoad  func(string, time.Duration, error)

	mu       sync.Mutex
	resident map[string]*PCM
	inflight map[string][]chan sound.LoadResult
	wg       sync.WaitGroup
}

// NewLoader returns a loader reading asset paths relative to root.
func NewLoader(root string, opts ...Option) *Loader {
	l := &Loader{
		fsys:     os.DirFS(root),
		reg:      DefaultRegistry(),
		log:      slog.Default(),
		workers:  DefaultPreloadWorkers,
		resident: make(map[string]*PCM),
		inflight: make(map[string][]chan sound.LoadResult),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// IsResident implements [sound.Loader].
func (l *Loader) IsResident(a sound.Asset) (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.resident[a.Path]
	if !ok {
		return 0, false
	}
	return p.Duration(), true
}

// RequestLoad implements [sound.Loader]. The returned channel is buffered so
// an abandoned request never blocks the decoder.
func (l *Loader) RequestLoad(a sound.Asset) <-chan sound.LoadResult {
	ch := make(chan sound.LoadResult, 1)

	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.resident[a.Path]; ok {
		ch <- sound.LoadResult{Duration: p.Duration()}
		return ch
	}
	waiters, running := l.inflight[a.Path]
	l.inflight[a.Path] = append(waiters, ch)
	if !running {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			_, _ = l.load(a.Path)
		}()
	}
	return ch
}

// PCM returns the decoded audio of a, decoding it synchronously if it is not
// yet resident.
func (l *Loader) PCM(a sound.Asset) (*PCM, error) {
	l.mu.Lock()
	p, ok := l.resident[a.Path]
	l.mu.Unlock()
	if ok {
		return p, nil
	}
	return l.load(a.Path)
}

// Probe returns the length of a. Resident assets answer from memory; others
// are decoded without being kept.
func (l *Loader) Probe(a sound.Asset) (time.Duration, error) {
	if d, ok := l.IsResident(a); ok {
		return d, nil
	}
	p, err := l.decode(a.Path)
	if err != nil {
		return 0, err
	}
	return p.Duration(), nil
}

// Preload decodes every asset concurrently, bounded by the configured worker
// count. Individual failures are logged and returned joined; they do not stop
// the remaining decodes. Preload returns early if ctx is cancelled.
func (l *Loader) Preload(ctx context.Context, list []sound.Asset) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.workers)

	var (
		mu   sync.Mutex
		errs []error
	)
	for _, a := range list {
		if _, ok := l.IsResident(a); ok {
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := l.load(a.Path); err != nil {
				l.log.Warn("assets: preload failed", "asset", a.Path, "err", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("assets: preload: %w", err)
	}
	return errors.Join(errs...)
}

// Evict drops the decoded data of a. Voices already playing it keep their
// reference.
func (l *Loader) Evict(a sound.Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.resident, a.Path)
}

// ResidentCount returns the number of decoded assets held in memory.
func (l *Loader) ResidentCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.resident)
}

// Wait blocks until all background decodes started by RequestLoad finished.
func (l *Loader) Wait() { l.wg.Wait() }

// load decodes path, stores it and notifies every waiter.
func (l *Loader) load(path string) (*PCM, error) {
	start := time.Now()
	p, err := l.decode(path)
	if l.onLoad != nil {
		l.onLoad(path, time.Since(start), err)
	}

	l.mu.Lock()
	waiters := l.inflight[path]
	delete(l.inflight, path)
	if err == nil {
		l.resident[path] = p
	}
	l.mu.Unlock()

	res := sound.LoadResult{Err: err}
	if err == nil {
		res.Duration = p.Duration()
	}
	for _, ch := range waiters {
		ch <- res
	}
	return p, err
}

// decode reads and decodes path without touching the cache.
func (l *Loader) decode(path string) (*PCM, error) {
	dec, err := l.reg.ForPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", sound.ErrAssetLoad, path, err)
	}
	data, err := fs.ReadFile(l.fsys, cleanPath(path))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", sound.ErrAssetLoad, path, err)
	}
	p, err := safeDecode(dec, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", sound.ErrAssetLoad, path, err)
	}
	if err := checkLayout(p.Channels, p.SampleRate); err != nil {
		return nil, fmt.Errorf("%w: %q: %w", sound.ErrAssetLoad, path, err)
	}
	return p, nil
}

// safeDecode runs dec and reports a decoder panic as [ErrInvalidFile] so a
// malformed file cannot take the process down.
func safeDecode(dec Decoder, data []byte) (p *PCM, err error) {
	defer func() {
		if v := recover(); v != nil {
			p, err = nil, fmt.Errorf("decoder panicked: %v: %w", v, ErrInvalidFile)
		}
	}()
	p, err = dec.Decode(bytes.NewReader(data))
	if err == nil && p == nil {
		err = fmt.Errorf("decoder returned no audio: %w", ErrInvalidFile)
	}
	return p, err
}

// cleanPath turns a catalog asset path into an [fs.FS] name.
func cleanPath(p string) string {
	return pathpkg.Clean(filepath.ToSlash(p))
}

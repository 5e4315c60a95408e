package voice

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/cuemix/pkg/sound"
)

// ErrClosed is returned by [Pool.Acquire] after [Pool.Close].
var ErrClosed = errors.New("voice: pool is closed")

// Option configures a [Pool] during construction.
type Option func(*Pool)

// WithOnCreate registers a callback invoked after the pool grows. It receives
// the new pool size and is called with the pool lock held, so it must not call
// back into the pool.
func WithOnCreate(fn func(size int)) Option {
	return func(p *Pool) {
		p.onCreate = fn
	}
}

// Pool is a growable collection of reusable voices. Voices are never
// destroyed before [Pool.Close], so the pool size is bounded by the peak
// number of concurrent plays.
//
// Idle voices are handed out in the order they were returned. All methods are
// safe for concurrent use.
type Pool struct {
	factory  sound.VoiceFactory
	onCreate func(int)

	mu     sync.Mutex
	all    []*Voice
	free   []*Voice
	nextID uint64
	closed bool
}

// NewPool returns an empty pool that creates channels through factory.
func NewPool(factory sound.VoiceFactory, opts ...Option) *Pool {
	p := &Pool{factory: factory}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Acquire returns an idle voice, creating a new one when none is free. It never
// blocks on other voices; the only failure is the factory's.
func (p *Pool) Acquire() (*Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if len(p.free) > 0 {
		v := p.free[0]
		p.free[0] = nil
		p.free = p.free[1:]
		v.idle = false
		return v, nil
	}

	ch, err := p.factory.CreateVoice()
	if err != nil {
		return nil, fmt.Errorf("voice: create: %w", err)
	}
	p.nextID++
	v := &Voice{id: p.nextID, ch: ch}
	p.all = append(p.all, v)
	if p.onCreate != nil {
		p.onCreate(len(p.all))
	}
	return v, nil
}

// Release stops v, zeroes its volume, detaches its routing and returns it to
// the free list. Releasing an idle voice is a no-op. It reports whether v was
// actually returned.
func (p *Pool) Release(v *Voice) bool {
	if v == nil {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if v.idle {
		return false
	}
	v.reset()
	p.free = append(p.free, v)
	return true
}

// Size returns the total number of voices ever created by the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Idle returns the number of voices on the free list.
func (p *Pool) Idle() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Close closes every channel the pool created. Subsequent Acquire calls fail
// with [ErrClosed]. Close is idempotent.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	var errs []error
	for _, v := range p.all {
		if !v.idle {
			v.reset()
		}
		if err := v.ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("voice %d: close: %w", v.id, err))
		}
	}
	p.free = nil
	return errors.Join(errs...)
}

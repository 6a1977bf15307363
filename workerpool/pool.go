// Package workerpool runs a fixed number of goroutines that each call the
// same function in a loop until stopped. The miner uses it for its threads.
package workerpool

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// ErrRunning is returned by Start on a pool that is already running.
var ErrRunning = errors.New("worker pool already running")

// WorkFunc is one unit of work. It is called again as soon as it returns,
// until ctx is cancelled.
type WorkFunc func(ctx context.Context, id int)

// Pool is safe for concurrent use.
type Pool struct {
	log *zap.Logger

	mu     sync.Mutex
	parent context.Context
	fn     WorkFunc
	size   int
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{log: log}
}

// Start launches n workers running fn. n below one is raised to one.
func (p *Pool) Start(ctx context.Context, n int, fn WorkFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrRunning
	}
	p.parent, p.fn = ctx, fn
	p.startLocked(n)
	return nil
}

func (p *Pool) startLocked(n int) {
	if n < 1 {
		n = 1
	}
	ctx, cancel := context.WithCancel(p.parent)
	p.cancel, p.size = cancel, n

	fn := p.fn
	for id := 0; id < n; id++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			for ctx.Err() == nil {
				fn(ctx, id)
			}
		}(id)
	}
	p.log.Debug("workers started", zap.Int("workers", n))
}

// Stop cancels the workers and waits for them to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

func (p *Pool) stopLocked() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.cancel, p.size = nil, 0
	p.log.Debug("workers stopped")
}

// Resize restarts a running pool with n workers. On a stopped pool it does
// nothing and returns false.
func (p *Pool) Resize(n int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel == nil {
		return false
	}
	if n < 1 {
		n = 1
	}
	if n == p.size {
		return true
	}
	p.stopLocked()
	if p.parent.Err() != nil {
		return false
	}
	p.startLocked(n)
	return true
}

// Size is the number of running workers, zero when stopped.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Running reports whether workers are active. A pool whose parent context
// was cancelled is not running even before Stop is called.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil && p.parent.Err() == nil
}

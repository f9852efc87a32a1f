// Package task runs units of work on a bounded worker pool and hands back
// futures for their results.
package task

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrPoolStopped is returned by futures submitted after Stop
var ErrPoolStopped = errors.New("task pool stopped")

// Func is a unit of work
type Func func(ctx context.Context) (any, error)

// Future is the eventual result of a submitted Func
type Future struct {
	id     string
	name   string
	done   chan struct{}
	result any
	err    error
}

func newFuture(name string) *Future {
	return &Future{
		id:   uuid.NewString(),
		name: name,
		done: make(chan struct{}),
	}
}

// Completed returns an already resolved future
func Completed(name string, result any, err error) *Future {
	f := newFuture(name)
	f.resolve(result, err)
	return f
}

func (f *Future) resolve(result any, err error) {
	f.result, f.err = result, err
	close(f.done)
}

// ID is a unique id of the task
func (f *Future) ID() string { return f.id }

// Name is the task kind given at submission
func (f *Future) Name() string { return f.name }

// Done is closed once the task has finished
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the task finishes or ctx is done
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pool executes Funcs on a fixed number of workers
type Pool struct {
	wp      *workerpool.WorkerPool
	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool
	mu      sync.RWMutex
	pending sync.WaitGroup
	logger  zerolog.Logger
}

// NewPool creates a pool with size workers
func NewPool(size int, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		wp:     workerpool.New(size),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With().Str("component", "task_pool").Logger(),
	}
}

// Submit queues fn and returns its future. Submission never blocks.
func (p *Pool) Submit(name string, fn Func) *Future {
	f := newFuture(name)

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped.Load() {
		f.resolve(nil, ErrPoolStopped)
		return f
	}

	p.pending.Add(1)
	p.wp.Submit(func() {
		defer p.pending.Done()
		start := time.Now()
		result, err := p.run(fn)
		if err != nil {
			p.logger.Warn().
				Str("task", name).
				Str("task_id", f.id).
				Dur("elapsed", time.Since(start)).
				Err(err).
				Msg("task failed")
		} else {
			p.logger.Debug().
				Str("task", name).
				Str("task_id", f.id).
				Dur("elapsed", time.Since(start)).
				Msg("task done")
		}
		f.resolve(result, err)
	})
	return f
}

func (p *Pool) run(fn Func) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("task panicked: %v", r)
		}
	}()
	return fn(p.ctx)
}

// Drain blocks until every submitted task, including tasks submitted by
// running tasks, has finished
func (p *Pool) Drain() {
	p.pending.Wait()
}

// Stop cancels the context handed to running tasks and waits for the queue
// to empty
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped.Swap(true) {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	p.cancel()
	p.wp.StopWait()
}

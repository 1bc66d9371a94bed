// Package jobs provides the in-memory task runner behind best-effort side
// effects such as the sync-metadata reconciliation writer. Tasks run after
// the originating request has already been answered; their errors are
// retried a bounded number of times and then logged, never surfaced.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of background work.
type Task struct {
	ID         string
	Kind       string
	Payload    interface{}
	Attempt    int
	EnqueuedAt time.Time
}

// HandlerFunc processes a task.
type HandlerFunc func(context.Context, Task) error

// Options tunes runner behaviour.
type Options struct {
	Workers     int
	BufferSize  int
	MaxAttempts int
	RetryDelay  time.Duration
	Logger      *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 1
	}
	if o.BufferSize <= 0 {
		o.BufferSize = o.Workers * 8
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Runner dispatches tasks to a fixed worker pool.
type Runner struct {
	name    string
	handler HandlerFunc
	opts    Options

	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewRunner builds a runner for the provided handler.
func NewRunner(name string, handler HandlerFunc, opts Options) *Runner {
	opts = opts.withDefaults()
	return &Runner{
		name:    name,
		handler: handler,
		opts:    opts,
		tasks:   make(chan Task, opts.BufferSize),
	}
}

// Start launches the worker pool. Safe to call once.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.work()
	}
	r.started = true
	r.opts.Logger.Info("runner started", zap.String("runner", r.name), zap.Int("workers", r.opts.Workers))
}

// Stop cancels workers and waits for them to drain.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.cancel()
	r.mu.Unlock()
	r.wg.Wait()
	r.opts.Logger.Info("runner stopped", zap.String("runner", r.name))
}

// Submit enqueues a task without blocking the caller beyond buffer capacity.
func (r *Runner) Submit(task Task) error {
	r.mu.Lock()
	ctx := r.ctx
	started := r.started
	r.mu.Unlock()

	if !started {
		return fmt.Errorf("runner %s not started", r.name)
	}
	if task.EnqueuedAt.IsZero() {
		task.EnqueuedAt = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("runner %s stopped: %w", r.name, ctx.Err())
	case r.tasks <- task:
		return nil
	}
}

// Depth reports how many tasks are currently buffered.
func (r *Runner) Depth() int {
	return len(r.tasks)
}

func (r *Runner) work() {
	defer r.wg.Done()
	for {
		select {
		case <-r.ctx.Done():
			return
		case task := <-r.tasks:
			if err := r.handler(r.ctx, task); err != nil {
				r.retry(task, err)
			}
		}
	}
}

func (r *Runner) retry(task Task, err error) {
	task.Attempt++
	if task.Attempt >= r.opts.MaxAttempts {
		r.opts.Logger.Error("task dropped after retries",
			zap.String("runner", r.name),
			zap.String("task_id", task.ID),
			zap.String("kind", task.Kind),
			zap.Int("attempts", task.Attempt),
			zap.Error(err))
		return
	}
	r.opts.Logger.Warn("task failed, will retry",
		zap.String("runner", r.name),
		zap.String("task_id", task.ID),
		zap.String("kind", task.Kind),
		zap.Int("attempt", task.Attempt),
		zap.Error(err))

	go func(t Task) {
		timer := time.NewTimer(r.opts.RetryDelay)
		defer timer.Stop()
		select {
		case <-r.ctx.Done():
		case <-timer.C:
			if err := r.Submit(t); err != nil {
				r.opts.Logger.Error("failed to requeue task",
					zap.String("runner", r.name),
					zap.String("task_id", t.ID),
					zap.Error(err))
			}
		}
	}(task)
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/vortexbot/vortex/pkg/logger"
)

var log = logger.Get("Worker")

// Task is a unit of blocking, typically CPU-bound work which should not
// be executed on the callers goroutine.
type Task func()

// WorkerPool owns a fixed set of worker goroutines which execute
// dispatched tasks. Callers dispatch a task and block until a worker
// has finished running it, which keeps expensive work (such as speech
// inference) off the goroutines servicing user requests while still
// bounding how much of it runs concurrently.
type WorkerPool struct {
	size    int
	tasks   chan Task
	wg      sync.WaitGroup
	started bool
}

// NewWorkerPool creates a new WorkerPool with the given
// number of workers. The pool must be started before tasks
// can be dispatched to it.
func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}

	return &WorkerPool{size: size, tasks: make(chan Task)}
}

// Start spawns the pools worker goroutines. Each worker consumes
// tasks until the pool is closed.
func (pool *WorkerPool) Start() error {
	if pool.started {
		return errors.New("cannot start an already started worker pool")
	}

	pool.started = true
	for i := 0; i < pool.size; i++ {
		label := fmt.Sprintf("pool-worker-%d", i)
		pool.wg.Add(1)
		go func(label string) {
			defer pool.wg.Done()

			log.Emit(logger.NEW, "Worker %s started\n", label)
			for task := range pool.tasks {
				task()
			}
			log.Emit(logger.STOP, "Worker %s stopped\n", label)
		}(label)
	}

	return nil
}

// Dispatch hands the task to an idle worker and blocks until the worker
// has finished executing it. If the context expires before a worker
// becomes available, or while the task is running, the context error is
// returned - note that a task which has already begun execution is NOT
// interrupted; the caller simply stops waiting for it.
func (pool *WorkerPool) Dispatch(ctx context.Context, task Task) error {
	if !pool.started {
		return errors.New("cannot dispatch task to worker pool that is not started")
	}

	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		task()
	}

	select {
	case pool.tasks <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops all workers once their current task (if any) completes.
// Dispatching to a closed pool will panic; the pool is expected to
// outlive all of it's consumers.
func (pool *WorkerPool) Close() {
	if !pool.started {
		return
	}

	close(pool.tasks)
	pool.wg.Wait()
	pool.started = false
}

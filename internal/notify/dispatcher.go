// Package notify fans alert and cancel events out to side-effect sinks
// on a background task queue.
package notify

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Defaults
const (
	DefaultWorkers   = 4
	DefaultQueueSize = 256
)

// Task is one unit of side-effect work
type Task func(ctx context.Context) error

type namedTask struct {
	name string
	fn   Task
}

// DispatcherStats is a point-in-time view of the task queue
type DispatcherStats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Dropped   int64 `json:"dropped"`
}

// Dispatcher runs tasks on a fixed pool of workers. Each worker drains its
// own queue, so tasks queued under the same key run in submission order.
type Dispatcher struct {
	queues  []chan namedTask
	workers int
	next    atomic.Uint64
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool

	completed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher starts workers goroutines, each draining a queue of
// queueSize tasks
func NewDispatcher(workers, queueSize int) *Dispatcher {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		queues:  make([]chan namedTask, workers),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
		logger:  slog.Default().With("component", "dispatcher"),
	}

	for i := range d.queues {
		d.queues[i] = make(chan namedTask, queueSize)
		d.wg.Add(1)
		go d.worker(d.queues[i])
	}
	return d
}

// Go queues a task on the next worker in turn. It never blocks: when the
// queue is full or the dispatcher is closed the task is dropped and false
// is returned.
func (d *Dispatcher) Go(name string, fn Task) bool {
	idx := int((d.next.Add(1) - 1) % uint64(d.workers))
	return d.enqueue(idx, namedTask{name: name, fn: fn})
}

// GoKeyed queues a task on the worker owning key. Tasks sharing a key run
// one at a time in the order they were queued. Like Go it never blocks.
func (d *Dispatcher) GoKeyed(key, name string, fn Task) bool {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(d.workers))
	return d.enqueue(idx, namedTask{name: name, fn: fn})
}

func (d *Dispatcher) enqueue(idx int, t namedTask) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.dropped.Add(1)
		d.logger.Warn("Dispatcher closed, dropping task", "task", t.name)
		return false
	}

	q := d.queues[idx]
	select {
	case q <- t:
		return true
	default:
		d.dropped.Add(1)
		d.logger.Warn("Task queue full, dropping task", "task", t.name, "worker", idx, "queue_size", cap(q))
		return false
	}
}

func (d *Dispatcher) pending() int {
	n := 0
	for _, q := range d.queues {
		n += len(q)
	}
	return n
}

// Stats returns queue counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Workers:   d.workers,
		Queued:    d.pending(),
		Completed: d.completed.Load(),
		Failed:    d.failed.Load(),
		Dropped:   d.dropped.Load(),
	}
}

// Close stops accepting tasks and waits for queued ones until ctx ends.
// Tasks still running when ctx ends see their context cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, q := range d.queues {
		close(q)
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return fmt.Errorf("failed to drain task queue (%d pending): %w", d.pending(), ctx.Err())
	}
}

func (d *Dispatcher) worker(queue <-chan namedTask) {
	defer d.wg.Done()
	for t := range queue {
		d.run(t)
	}
}

func (d *Dispatcher) run(t namedTask) {
	defer func() {
		if r := recover(); r != nil {
			d.failed.Add(1)
			d.logger.Error("Task panicked", "task", t.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if err := t.fn(d.ctx); err != nil {
		d.failed.Add(1)
		d.logger.Warn("Task failed", "task", t.name, "error", err)
		return
	}
	d.completed.Add(1)
}

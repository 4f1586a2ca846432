// Package pipes serializes all work that touches the conversation state.
// Named handlers register once; requests queue FIFO and a single consumer
// goroutine drains them, so handlers never run concurrently. Main requests
// (foreground commands) additionally enforce that only one is in flight.
package pipes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seliel/aria/internal/metrics"
)

// Handler executes one pipe process.
type Handler func(ctx context.Context) error

var (
	// ErrMainRunning means a main request is already queued or running.
	ErrMainRunning = errors.New("a main process is already in flight")
	// ErrNotRunning means Run has exited or was never started.
	ErrNotRunning = errors.New("dispatcher is not running")
)

type request struct {
	process string
	main    bool
	done    chan error
}

// Dispatcher is the FIFO pipe queue.
type Dispatcher struct {
	logger *slog.Logger
	stats  *metrics.Collector

	mu       sync.Mutex
	cond     *sync.Cond
	handlers map[string]Handler
	queue    []request
	mainBusy bool
	running  bool
	stopped  bool
}

// New creates a dispatcher. Register handlers before calling Run.
func New(logger *slog.Logger, stats *metrics.Collector) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger:   logger,
		stats:    stats,
		handlers: make(map[string]Handler),
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Register binds a handler to a process name, replacing any previous one.
func (d *Dispatcher) Register(process string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[process] = h
}

// Enqueue queues a side process. Unknown processes are logged and dropped
// at dispatch time, not here.
func (d *Dispatcher) Enqueue(process string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.queue = append(d.queue, request{process: process})
	d.cond.Signal()
}

// EnqueueMain queues a foreground process and returns a channel that
// receives the handler result once it finishes. Only one main process may
// be in flight; a second one is rejected with ErrMainRunning.
func (d *Dispatcher) EnqueueMain(process string) (<-chan error, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil, ErrNotRunning
	}
	if d.mainBusy {
		return nil, ErrMainRunning
	}
	d.mainBusy = true
	done := make(chan error, 1)
	d.queue = append(d.queue, request{process: process, main: true, done: done})
	d.cond.Signal()
	return done, nil
}

// MainRunning reports whether a main process is queued or executing.
func (d *Dispatcher) MainRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mainBusy
}

// QueueLen reports the number of waiting requests.
func (d *Dispatcher) QueueLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Run drains the queue until ctx is cancelled. It is the only goroutine
// that executes handlers.
func (d *Dispatcher) Run(ctx context.Context) {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	// Wake the consumer when the context ends.
	stop := context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.stopped = true
		d.cond.Broadcast()
		d.mu.Unlock()
	})
	defer stop()

	for {
		d.mu.Lock()
		if ctx.Err() != nil {
			d.stopped = true
		}
		for len(d.queue) == 0 && !d.stopped {
			d.cond.Wait()
		}
		if ctx.Err() != nil {
			d.stopped = true
		}
		if d.stopped {
			d.drainLocked()
			d.running = false
			d.mu.Unlock()
			return
		}
		req := d.queue[0]
		d.queue = d.queue[1:]
		handler, ok := d.handlers[req.process]
		d.mu.Unlock()

		var err error
		if !ok {
			d.logger.Warn("unknown pipe process, dropping", "process", req.process)
			err = fmt.Errorf("unknown pipe process %q", req.process)
		} else {
			err = d.dispatch(ctx, req.process, handler)
		}

		if req.main {
			d.mu.Lock()
			d.mainBusy = false
			d.mu.Unlock()
			req.done <- err
		} else if err != nil && ok {
			d.logger.Warn("pipe process failed", "process", req.process, "error", err)
		}
	}
}

// drainLocked fails all pending requests on shutdown. Caller holds mu.
func (d *Dispatcher) drainLocked() {
	for _, req := range d.queue {
		if req.main {
			req.done <- ErrNotRunning
		}
	}
	d.queue = nil
	d.mainBusy = false
}

// dispatch runs one handler, recovering panics so a bad handler cannot
// kill the consumer.
func (d *Dispatcher) dispatch(ctx context.Context, process string, handler Handler) (err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("pipe handler panicked", "process", process, "panic", r)
			err = fmt.Errorf("pipe process %q panicked: %v", process, r)
		}
		if d.stats != nil {
			d.stats.RecordTiming(metrics.OpPipeDispatch, time.Since(start))
		}
	}()
	return handler(ctx)
}

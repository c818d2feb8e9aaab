package collab

import (
	"log/slog"
	"runtime/debug"
	"sync/atomic"
)

// defaultLoopQueue is the dispatch channel buffer size.
const defaultLoopQueue = 256

// Loop serializes room and signal operations onto a single goroutine.
// Signals are owned by one goroutine at a time; when updates arrive
// from the network and from local code concurrently, both sides
// dispatch onto the same loop instead of locking.
type Loop struct {
	logger *slog.Logger
	ops    chan func()
	done   chan struct{}
	closed atomic.Bool
}

// NewLoop creates a loop with the given queue capacity. A capacity of
// zero or less uses the default.
func NewLoop(logger *slog.Logger, queue int) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if queue <= 0 {
		queue = defaultLoopQueue
	}
	return &Loop{
		logger: logger,
		ops:    make(chan func(), queue),
		done:   make(chan struct{}),
	}
}

// Start launches the loop goroutine.
func (l *Loop) Start() {
	go l.run()
}

func (l *Loop) run() {
	for {
		select {
		case fn := <-l.ops:
			l.exec(fn)
		case <-l.done:
			return
		}
	}
}

// exec runs one dispatched function with panic recovery, so a bad
// callback cannot take the loop down with it.
func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("dispatch panic",
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Dispatch queues fn to run on the loop goroutine. It is safe to call
// from any goroutine. If the queue is full or the loop is closed the
// callback is discarded with a warning.
func (l *Loop) Dispatch(fn func()) {
	if l.closed.Load() {
		return
	}
	select {
	case l.ops <- fn:
	case <-l.done:
	default:
		l.logger.Warn("dispatch queue full, discarding callback")
	}
}

// Do runs fn on the loop goroutine and waits for it to finish. Unlike
// Dispatch it blocks until the loop accepts fn, so it is never
// discarded. It returns immediately if the loop is closed.
func (l *Loop) Do(fn func()) {
	if l.closed.Load() {
		return
	}
	ch := make(chan struct{})
	select {
	case l.ops <- func() { defer close(ch); fn() }:
	case <-l.done:
		return
	}
	select {
	case <-ch:
	case <-l.done:
	}
}

// Close stops the loop. Pending callbacks are discarded. Close is
// idempotent.
func (l *Loop) Close() {
	if l.closed.Swap(true) {
		return
	}
	close(l.done)
}

// Done returns a channel closed when the loop stops.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

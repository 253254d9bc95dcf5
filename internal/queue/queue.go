// Package queue serializes outbound calls to the social network. Every
// network write in the process goes through a single Queue so that the
// remote API never sees two requests in flight.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned for tasks submitted to, or still waiting in, a closed queue.
var ErrClosed = errors.New("queue closed")

// Option configures a Queue.
type Option func(*Queue)

// WithSpacing enforces a minimum pause between the end of one task and the
// start of the next.
func WithSpacing(d time.Duration) Option {
	return func(q *Queue) { q.spacing = d }
}

// WithLogger sets the logger used for task failures.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

type outcome struct {
	val any
	err error
}

type task struct {
	ctx  context.Context
	fn   func(context.Context) (any, error)
	done chan outcome
	// claimed is set by whichever side gets the task first: the worker
	// starting it or a caller giving up on it.
	claimed atomic.Bool
}

// Queue runs submitted tasks one at a time in submission order.
type Queue struct {
	spacing time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	items  []*task
	closed bool

	wake     chan struct{}
	stop     chan struct{}
	finished chan struct{}
	pending  atomic.Int64
	once     sync.Once
}

// New starts a Queue worker.
func New(opts ...Option) *Queue {
	q := &Queue{
		logger:   slog.Default(),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		finished: make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	go q.run()
	return q
}

// Do submits fn and blocks until it has run. The returned value and error are
// those of fn itself. If ctx is done while fn is still waiting, Do returns
// ctx.Err() at once and fn is skipped; once started, fn receives ctx and
// decides itself whether to stop early.
func Do[T any](ctx context.Context, q *Queue, fn func(context.Context) (T, error)) (T, error) {
	t := &task{
		ctx: ctx,
		fn: func(ctx context.Context) (any, error) {
			return fn(ctx)
		},
		done: make(chan outcome, 1),
	}
	var zero T
	if err := q.submit(t); err != nil {
		return zero, err
	}

	var out outcome
	select {
	case out = <-t.done:
	case <-ctx.Done():
		if t.claimed.CompareAndSwap(false, true) {
			return zero, ctx.Err()
		}
		out = <-t.done
	}
	v, ok := out.val.(T)
	if !ok {
		v = zero
	}
	return v, out.err
}

// Pending returns the number of submitted tasks that have not started yet.
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Close stops the worker after the running task finishes. Tasks still waiting
// complete with ErrClosed.
func (q *Queue) Close() {
	q.once.Do(func() {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		close(q.stop)
		<-q.finished
	})
}

func (q *Queue) submit(t *task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, t)
	q.pending.Add(1)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) next() *task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	t := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.pending.Add(-1)
	return t
}

func (q *Queue) run() {
	defer close(q.finished)
	defer q.drain()

	for {
		t := q.next()
		if t == nil {
			select {
			case <-q.stop:
				return
			case <-q.wake:
				continue
			}
		}

		select {
		case <-q.stop:
			t.done <- outcome{err: ErrClosed}
			return
		default:
		}

		if !t.claimed.CompareAndSwap(false, true) {
			continue
		}
		if err := t.ctx.Err(); err != nil {
			t.done <- outcome{err: err}
			continue
		}

		t.done <- q.execute(t)

		if q.spacing > 0 {
			select {
			case <-q.stop:
				return
			case <-time.After(q.spacing):
			}
		}
	}
}

// execute runs a single task, converting a panic into that task's error.
func (q *Queue) execute(t *task) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("queued task panicked", "panic", r)
			out = outcome{err: fmt.Errorf("queued task panicked: %v", r)}
		}
	}()
	val, err := t.fn(t.ctx)
	return outcome{val: val, err: err}
}

func (q *Queue) drain() {
	for {
		t := q.next()
		if t == nil {
			return
		}
		t.done <- outcome{err: ErrClosed}
	}
}

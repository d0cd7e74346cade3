// Package owner provides execution owners: FIFO work queues drained by
// exactly one goroutine at a time. A context confined to an owner has all of
// its mutations and saves run there, which serializes them without locks.
//
// NewPrivate starts a queue with a goroutine of its own. NewMain returns a
// queue that the application drains itself, typically from its main
// goroutine, with Run or Drain.
//
// Work runs with a context tagged with its owner. Passing that context back
// into PerformAndWait from inside the work runs the nested work inline, so a
// blocking dispatch onto the owner you are already on never deadlocks.
package owner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	// ErrClosed is returned when work is submitted after Shutdown.
	ErrClosed = errors.New("owner closed")
	// ErrBusy is returned when a second goroutine tries to drain a queue.
	ErrBusy = errors.New("owner already draining")
)

type ownerKey struct{}

// From returns the owner the work holding ctx runs on, or nil.
func From(ctx context.Context) *Queue {
	q, _ := ctx.Value(ownerKey{}).(*Queue)
	return q
}

// IsCurrent reports whether ctx belongs to work running on q.
func IsCurrent(ctx context.Context, q *Queue) bool {
	return q != nil && From(ctx) == q
}

// Option configures a Queue.
type Option func(*Queue)

// WithName sets the name used in logs.
func WithName(name string) Option {
	return func(q *Queue) { q.name = name }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

type job struct {
	ctx      context.Context
	work     func(context.Context)
	done     chan struct{}
	panicked any
}

// Queue is an unbounded FIFO of work run by a single goroutine.
type Queue struct {
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	pending  []*job
	closed   bool
	draining bool

	wake     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	metrics *Metrics
}

func newQueue(defaultName string, opts ...Option) *Queue {
	q := &Queue{
		name:    defaultName,
		logger:  slog.Default(),
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// NewMain creates a queue drained by the application through Run or Drain.
func NewMain(opts ...Option) *Queue {
	return newQueue("main", opts...)
}

// NewPrivate creates a queue and starts the goroutine that drains it. The
// goroutine exits after Shutdown once all queued work has run.
func NewPrivate(opts ...Option) *Queue {
	q := newQueue("private", opts...)
	q.draining = true
	go q.loop(context.Background())
	return q
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Perform queues work and returns immediately.
func (q *Queue) Perform(ctx context.Context, work func(context.Context)) error {
	_, err := q.enqueue(ctx, work, false)
	return err
}

// PerformAndWait queues work and blocks until it has run. When ctx already
// belongs to work on this queue the work runs inline. A panic inside the
// work is re-raised on the waiting goroutine.
func (q *Queue) PerformAndWait(ctx context.Context, work func(context.Context)) error {
	if IsCurrent(ctx, q) {
		q.metrics.RecordInline()
		work(ctx)
		return nil
	}

	j, err := q.enqueue(ctx, work, true)
	if err != nil {
		return err
	}

	<-j.done
	if j.panicked != nil {
		panic(j.panicked)
	}
	return nil
}

// Run drains the queue on the calling goroutine until ctx is done or the
// queue is shut down. Work already queued when either happens still runs
// before Run returns.
func (q *Queue) Run(ctx context.Context) error {
	if err := q.acquire(); err != nil {
		return err
	}
	q.loop(ctx)
	return nil
}

// Drain runs queued work on the calling goroutine until the queue is empty
// and returns how many items ran.
func (q *Queue) Drain() (int, error) {
	if err := q.acquire(); err != nil {
		return 0, err
	}
	defer q.release()

	n := 0
	for {
		j, ok, _ := q.next()
		if !ok {
			return n, nil
		}
		q.execute(j)
		n++
	}
}

// Shutdown stops accepting work and waits up to timeout for queued work to
// finish. When no goroutine is draining the queue, the remaining work runs on
// the caller.
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	q.closed = true
	idle := !q.draining
	if idle {
		q.draining = true
	}
	q.mu.Unlock()

	q.logger.Debug("shutting down owner", slog.String("owner", q.name))

	if idle {
		for {
			j, ok, _ := q.next()
			if !ok {
				break
			}
			q.execute(j)
		}
		q.release()
		return nil
	}

	q.signal()

	select {
	case <-q.stopped:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("owner %s shutdown timeout after %v", q.name, timeout)
	}
}

// Metrics returns a snapshot of the queue counters.
func (q *Queue) Metrics() MetricsSnapshot {
	q.mu.Lock()
	length := len(q.pending)
	q.mu.Unlock()

	s := q.metrics.Snapshot()
	s.QueueLength = length
	return s
}

func (q *Queue) enqueue(ctx context.Context, work func(context.Context), wait bool) (*job, error) {
	j := &job{
		ctx:  context.WithValue(context.WithoutCancel(ctx), ownerKey{}, q),
		work: work,
	}
	if wait {
		j.done = make(chan struct{})
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrClosed, q.name)
	}
	q.pending = append(q.pending, j)
	q.mu.Unlock()

	q.metrics.RecordSubmitted()
	q.signal()
	return j, nil
}

// next pops the oldest job. When the queue is empty it also reports whether
// the queue is closed, read under the same lock so no job can slip in between.
func (q *Queue) next() (j *job, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return nil, false, q.closed
	}
	j = q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return j, true, false
}

func (q *Queue) loop(ctx context.Context) {
	defer q.release()

	q.logger.DebugContext(ctx, "owner started", slog.String("owner", q.name))

	for {
		j, ok, closed := q.next()
		if ok {
			q.execute(j)
			continue
		}
		if closed {
			q.logger.DebugContext(ctx, "owner stopped", slog.String("owner", q.name))
			return
		}

		select {
		case <-q.wake:
		case <-ctx.Done():
			q.mu.Lock()
			q.closed = true
			q.mu.Unlock()
		}
	}
}

func (q *Queue) execute(j *job) {
	defer func() {
		if r := recover(); r != nil {
			j.panicked = r
			q.metrics.RecordPanic()
			q.logger.Error(
				"owner work panicked",
				slog.String("owner", q.name),
				slog.Any("panic", r),
				slog.Bool("waited", j.done != nil),
			)
		}
		q.metrics.RecordExecuted()
		if j.done != nil {
			close(j.done)
		}
	}()

	j.work(j.ctx)
}

func (q *Queue) acquire() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.draining {
		return fmt.Errorf("%w: %s", ErrBusy, q.name)
	}
	q.draining = true
	return nil
}

func (q *Queue) release() {
	q.mu.Lock()
	q.draining = false
	closed := q.closed
	q.mu.Unlock()

	if closed {
		q.stopOnce.Do(func() { close(q.stopped) })
	}
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

package save

import (
	"context"
	"errors"
	"time"

	"github.com/tailored-agentic-units/persistence/observability"
)

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithObserver routes save events to o.
func WithObserver(o observability.Observer) Option {
	return func(co *Coordinator) { co.observer = observability.OrNoOp(o) }
}

// Coordinator dispatches saves onto the owner of the context being saved.
// It keeps no reference to any context between calls and is safe for
// concurrent use.
type Coordinator struct {
	observer observability.Observer
}

// New creates a Coordinator. Without options events are discarded.
func New(opts ...Option) *Coordinator {
	co := &Coordinator{observer: observability.NoOpObserver{}}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// SaveAndWait saves c and returns once the save has finished. Unconfined
// contexts are saved on the calling goroutine; confined contexts are saved on
// their owner while the caller blocks, whichever goroutine the caller is. A
// caller already running on the owner (holding the context the owner passed
// to its work) is served inline. Owner work must pass that context through:
// calling SaveAndWait from the owner with any other context, such as
// context.Background(), blocks on the owner it is running on and deadlocks.
//
// The returned error is a *Error wrapping the flush error, or ErrScheduling
// when the save could not be dispatched.
func (co *Coordinator) SaveAndWait(ctx context.Context, c Context) error {
	typ := c.ConcurrencyType()
	ctx = context.WithoutCancel(ctx)

	strat, err := dispatch(typ)
	if err != nil {
		return co.fail(ctx, c, "SaveAndWait", err)
	}

	if strat == runInline {
		return wrap(typ, co.saveIfChanged(ctx, c, "SaveAndWait"))
	}

	sched, err := schedulerOf(c)
	if err != nil {
		return co.fail(ctx, c, "SaveAndWait", err)
	}

	co.emit(ctx, c, EventDispatched, observability.LevelVerbose, "SaveAndWait", nil)

	var flushErr error
	err = sched.PerformAndWait(ctx, func(ctx context.Context) {
		flushErr = co.saveIfChanged(ctx, c, "SaveAndWait")
	})
	if err != nil {
		return co.fail(ctx, c, "SaveAndWait", schedulingError(err))
	}
	return wrap(typ, flushErr)
}

// SaveAsync saves c without blocking on the owner. Unconfined contexts are
// saved inline and completion runs before SaveAsync returns. Confined contexts
// are queued on their owner; completion then runs later on the owner. In every
// case completion is invoked exactly once. A nil completion discards the
// outcome.
func (co *Coordinator) SaveAsync(ctx context.Context, c Context, completion Completion) {
	deliver := func(err error) {
		if completion != nil {
			completion(resultOf(err))
		}
	}

	typ := c.ConcurrencyType()
	ctx = context.WithoutCancel(ctx)

	strat, err := dispatch(typ)
	if err != nil {
		deliver(co.fail(ctx, c, "SaveAsync", err))
		return
	}

	if strat == runInline {
		deliver(wrap(typ, co.saveIfChanged(ctx, c, "SaveAsync")))
		return
	}

	sched, err := schedulerOf(c)
	if err != nil {
		deliver(co.fail(ctx, c, "SaveAsync", err))
		return
	}

	co.emit(ctx, c, EventDispatched, observability.LevelVerbose, "SaveAsync", nil)

	err = sched.Perform(ctx, func(ctx context.Context) {
		deliver(wrap(typ, co.saveIfChanged(ctx, c, "SaveAsync")))
	})
	if err != nil {
		deliver(co.fail(ctx, c, "SaveAsync", schedulingError(err)))
	}
}

// SaveFuture is SaveAsync with the outcome delivered on a channel that
// receives exactly one Result and is then closed.
func (co *Coordinator) SaveFuture(ctx context.Context, c Context) <-chan Result {
	ch := make(chan Result, 1)
	co.SaveAsync(ctx, c, func(r Result) {
		ch <- r
		close(ch)
	})
	return ch
}

// saveIfChanged is the single place the store is touched. It must run on the
// context's owner, or anywhere for unconfined contexts. The flush error is
// returned unchanged.
func (co *Coordinator) saveIfChanged(ctx context.Context, c Context, op string) error {
	if !c.HasChanges() {
		co.emit(ctx, c, EventSkipped, observability.LevelVerbose, op, nil)
		return nil
	}

	start := time.Now()
	err := c.Save(ctx)
	elapsed := time.Since(start)

	if err != nil {
		co.emit(ctx, c, EventFailed, observability.LevelError, op, map[string]any{
			observability.DataDuration: elapsed,
			"error":                    err.Error(),
		})
		return err
	}

	co.emit(ctx, c, EventCommitted, observability.LevelInfo, op, map[string]any{
		observability.DataDuration: elapsed,
	})
	return nil
}

func (co *Coordinator) fail(ctx context.Context, c Context, op string, err error) error {
	co.emit(ctx, c, EventFailed, observability.LevelError, op, map[string]any{
		"error": err.Error(),
	})
	return wrap(c.ConcurrencyType(), err)
}

func (co *Coordinator) emit(ctx context.Context, c Context, typ observability.EventType, level observability.Level, op string, data map[string]any) {
	if data == nil {
		data = make(map[string]any, 2)
	}
	data["concurrency"] = c.ConcurrencyType().String()
	if id, ok := c.(Identifier); ok {
		data["context_id"] = id.ID()
	}

	co.observer.OnEvent(ctx, observability.Event{
		Type:      typ,
		Level:     level,
		Timestamp: time.Now(),
		Source:    "save." + op,
		Data:      data,
	})
}

func wrap(typ ConcurrencyType, err error) error {
	if err == nil {
		return nil
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Type: typ, Err: err}
}

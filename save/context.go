// Package save implements the confined save coordinator: it flushes a
// context's pending changes to its backing store on the execution owner the
// context is confined to, either blocking the caller until the flush is done
// (SaveAndWait) or reporting the outcome later through a completion
// (SaveAsync, SaveFuture).
//
// Both calling conventions funnel into one shared flow that is a no-op when
// the context has no pending changes and otherwise performs a single flush
// attempt. Errors are never retried and saves are never cancelled once
// dispatched.
//
//	co := save.New(save.WithObserver(obs))
//	if err := co.SaveAndWait(ctx, c); err != nil {
//		return err
//	}
//	co.SaveAsync(ctx, c, func(r save.Result) { ... })
package save

import (
	"context"
	"fmt"
)

// ConcurrencyType declares where a context's mutable state may be touched.
// It is fixed when the context is created.
type ConcurrencyType int

const (
	// Unconfined contexts accept work from any goroutine; callers serialize
	// access themselves.
	Unconfined ConcurrencyType = iota
	// MainQueue contexts are confined to the application's main owner.
	MainQueue
	// PrivateQueue contexts are confined to an owner goroutine of their own.
	PrivateQueue
)

func (t ConcurrencyType) String() string {
	switch t {
	case Unconfined:
		return "unconfined"
	case MainQueue:
		return "main"
	case PrivateQueue:
		return "private"
	default:
		return fmt.Sprintf("ConcurrencyType(%d)", int(t))
	}
}

// ParseConcurrencyType maps the names produced by String back to values.
func ParseConcurrencyType(name string) (ConcurrencyType, error) {
	switch name {
	case "unconfined", "":
		return Unconfined, nil
	case "main":
		return MainQueue, nil
	case "private":
		return PrivateQueue, nil
	default:
		return Unconfined, fmt.Errorf("unknown concurrency type %q", name)
	}
}

// Confined reports whether the type requires work to run on an owner.
func (t ConcurrencyType) Confined() bool {
	return t == MainQueue || t == PrivateQueue
}

// Scheduler runs work on a context's owner. Work receives a context that
// identifies the owner; passing it back into PerformAndWait from inside the
// work runs the nested work inline instead of deadlocking.
type Scheduler interface {
	// Perform queues work and returns without waiting for it.
	Perform(ctx context.Context, work func(context.Context)) error
	// PerformAndWait queues work and blocks until it has run.
	PerformAndWait(ctx context.Context, work func(context.Context)) error
}

// Context is the mutable object-graph container being saved. The coordinator
// only borrows it for the duration of one call.
type Context interface {
	ConcurrencyType() ConcurrencyType
	// Scheduler returns the owner for confined contexts and nil otherwise.
	Scheduler() Scheduler
	// HasChanges must only be called on the owner.
	HasChanges() bool
	// Save flushes pending changes to the backing store. It must only be
	// called on the owner and either commits everything or nothing.
	Save(ctx context.Context) error
}

// Identifier is implemented by contexts that carry a stable ID. The ID is
// attached to events when present.
type Identifier interface {
	ID() string
}

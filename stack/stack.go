// Package stack assembles a ready-to-use persistence stack from
// configuration: a store, a main owner drained by the application, a private
// owner with its own goroutine, one context confined to each, and the shared
// save coordinator.
//
//	s, err := stack.New(ctx, &cfg)
//	defer s.Close()
//	go s.MainQueue().Run(ctx)
//	c := s.PrivateContext()
//	err = s.Coordinator().SaveAndWait(ctx, c)
package stack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tailored-agentic-units/persistence/graph"
	"github.com/tailored-agentic-units/persistence/observability"
	"github.com/tailored-agentic-units/persistence/owner"
	"github.com/tailored-agentic-units/persistence/save"
	"github.com/tailored-agentic-units/persistence/store"
)

// ErrClosed is returned by NewContext after Close.
var ErrClosed = errors.New("stack closed")

// Option configures a Stack before its subsystems are created.
type Option func(*Stack)

// WithStore uses st instead of building one from the store config. The
// stack still closes it.
func WithStore(st store.Store) Option {
	return func(s *Stack) { s.store = st }
}

// WithLogger sets the logger handed to the owners.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stack) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithObserver overrides the observers named in the config.
func WithObserver(o observability.Observer) Option {
	return func(s *Stack) { s.observer = o }
}

// Stack owns every component it creates and releases them in Close.
type Stack struct {
	logger      *slog.Logger
	observer    observability.Observer
	store       store.Store
	codec       graph.Codec
	timeout     time.Duration
	coordinator *save.Coordinator

	main       *owner.Queue
	private    *owner.Queue
	mainCtx    *graph.Context
	privateCtx *graph.Context

	mu       sync.Mutex
	closed   bool
	privates []*owner.Queue
}

// New creates a Stack from configuration. The main queue is not drained
// until the caller runs it (see MainQueue).
func New(ctx context.Context, cfg *Config, opts ...Option) (*Stack, error) {
	s := &Stack{logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	codec, err := graph.CodecByName(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("failed to create codec: %w", err)
	}
	s.codec = codec

	if s.timeout, err = cfg.Timeout(); err != nil {
		return nil, err
	}

	if s.observer == nil {
		if s.observer, err = observability.ResolveObservers(cfg.Observers...); err != nil {
			return nil, fmt.Errorf("failed to resolve observers: %w", err)
		}
	}

	if s.store == nil {
		if s.store, err = store.NewStore(ctx, &cfg.Store); err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
	}

	s.coordinator = save.New(save.WithObserver(s.observer))
	s.main = owner.NewMain(owner.WithLogger(s.logger))
	if s.private, err = s.newPrivate(); err != nil {
		return nil, err
	}

	if s.mainCtx, err = graph.New(s.store, graph.WithCodec(codec), graph.WithQueue(save.MainQueue, s.main)); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	if s.privateCtx, err = graph.New(s.store, graph.WithCodec(codec), graph.WithQueue(save.PrivateQueue, s.private)); err != nil {
		return nil, errors.Join(err, s.Close())
	}

	s.logger.Debug(
		"stack created",
		slog.String("store", cfg.Store.Driver),
		slog.String("codec", codec.Name()),
	)
	return s, nil
}

// Coordinator returns the shared save coordinator.
func (s *Stack) Coordinator() *save.Coordinator {
	return s.coordinator
}

// MainQueue returns the main owner. The application drains it with Run or
// Drain, usually from its main goroutine.
func (s *Stack) MainQueue() *owner.Queue {
	return s.main
}

func (s *Stack) Store() store.Store {
	return s.store
}

// MainContext returns the context confined to the main owner.
func (s *Stack) MainContext() *graph.Context {
	return s.mainCtx
}

// PrivateContext returns the context confined to the stack's private owner.
func (s *Stack) PrivateContext() *graph.Context {
	return s.privateCtx
}

// NewContext creates another context over the stack's store. Main contexts
// share the main owner; every private context gets an owner of its own.
func (s *Stack) NewContext(t save.ConcurrencyType) (*graph.Context, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	switch t {
	case save.Unconfined:
		return graph.New(s.store, graph.WithCodec(s.codec))
	case save.MainQueue:
		return graph.New(s.store, graph.WithCodec(s.codec), graph.WithQueue(t, s.main))
	case save.PrivateQueue:
		q, err := s.newPrivate()
		if err != nil {
			return nil, err
		}
		return graph.New(s.store, graph.WithCodec(s.codec), graph.WithQueue(t, q))
	default:
		return nil, fmt.Errorf("unsupported concurrency type %s", t)
	}
}

// Close shuts down every owner, letting queued work finish, and then closes
// the store. It is safe to call more than once.
func (s *Stack) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	privates := s.privates
	s.privates = nil
	s.mu.Unlock()

	var errs []error
	for _, q := range privates {
		if err := q.Shutdown(s.timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if s.main != nil {
		if err := s.main.Shutdown(s.timeout); err != nil {
			errs = append(errs, err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}

	s.logger.Debug("stack closed", slog.Int("owners", len(privates)+1))
	return errors.Join(errs...)
}

func (s *Stack) newPrivate() (*owner.Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	q := owner.NewPrivate(
		owner.WithName(fmt.Sprintf("private-%d", len(s.privates)+1)),
		owner.WithLogger(s.logger),
	)
	s.privates = append(s.privates, q)
	return q, nil
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/persistence/observability"
	"github.com/tailored-agentic-units/persistence/stack"
)

type rootOptions struct {
	configFile string
	driver     string
	path       string
	addr       string
	codec      string
	observers  []string
	verbose    bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "savectl",
		Short:         "Insert, list and delete objects through the save coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "Path to stack config JSON file")
	flags.StringVar(&opts.driver, "driver", "", "Store driver: memory, file, sqlite or redis (overrides config)")
	flags.StringVar(&opts.path, "path", "", "File store root or SQLite database (overrides config)")
	flags.StringVar(&opts.addr, "addr", "", "Redis address (overrides config)")
	flags.StringVar(&opts.codec, "codec", "", "Attribute codec: proto or json (overrides config)")
	flags.StringSliceVar(&opts.observers, "observers", nil, "Observers to attach: noop, slog, prometheus (overrides config)")
	flags.BoolVar(&opts.verbose, "verbose", false, "Enable verbose logging to stderr")

	cmd.AddCommand(newInsertCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newDeleteCommand(opts))
	return cmd
}

func (o *rootOptions) config() (*stack.Config, error) {
	cfg := stack.DefaultConfig()
	if o.configFile != "" {
		loaded, err := stack.LoadConfig(o.configFile)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if o.driver != "" {
		cfg.Store.Driver = o.driver
	}
	if o.path != "" {
		cfg.Store.Path = o.path
	}
	if o.addr != "" {
		cfg.Store.Addr = o.addr
	}
	if o.codec != "" {
		cfg.Codec = o.codec
	}
	if len(o.observers) > 0 {
		cfg.Observers = o.observers
	}
	return &cfg, nil
}

func (o *rootOptions) logger() *slog.Logger {
	level := slog.LevelInfo
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// withStack builds a stack and runs fn while the calling goroutine drains the
// main owner. The owner stops once fn returns.
func (o *rootOptions) withStack(ctx context.Context, fn func(ctx context.Context, s *stack.Stack) error) error {
	cfg, err := o.config()
	if err != nil {
		return err
	}

	logger := o.logger()
	observability.RegisterObserver("slog", observability.NewSlogObserver(logger))

	s, err := stack.New(ctx, cfg, stack.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create stack: %w", err)
	}

	runCtx, stop := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error {
		defer stop()
		return fn(ctx, s)
	})

	if err := s.MainQueue().Run(runCtx); err != nil {
		stop()
		s.Close()
		g.Wait()
		return err
	}

	err = g.Wait()
	if cerr := s.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

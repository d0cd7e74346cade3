package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tailored-agentic-units/persistence/graph"
	"github.com/tailored-agentic-units/persistence/save"
	"github.com/tailored-agentic-units/persistence/stack"
)

type insertOptions struct {
	context string
	async   bool
	count   int
	workers int
}

func newInsertCommand(root *rootOptions) *cobra.Command {
	opts := &insertOptions{}
	cmd := &cobra.Command{
		Use:   "insert <entity> [key=value ...]",
		Short: "Insert objects and save them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseAttributes(args[1:])
			if err != nil {
				return err
			}
			typ, err := save.ParseConcurrencyType(opts.context)
			if err != nil {
				return err
			}
			if opts.count < 1 || opts.workers < 1 {
				return fmt.Errorf("--count and --workers must be positive")
			}

			return root.withStack(cmd.Context(), func(ctx context.Context, s *stack.Stack) error {
				ids, err := runInsert(ctx, s, typ, opts, args[0], attrs)
				for _, id := range ids {
					fmt.Fprintln(cmd.OutOrStdout(), id)
				}
				return err
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.context, "context", "private", "Context confinement: main, private or unconfined")
	flags.BoolVar(&opts.async, "async", false, "Save with SaveAsync instead of SaveAndWait")
	flags.IntVar(&opts.count, "count", 1, "Number of objects to insert")
	flags.IntVar(&opts.workers, "workers", 1, "Number of contexts saving concurrently")
	return cmd
}

// runInsert spreads count inserts over workers contexts and saves each
// context once.
func runInsert(ctx context.Context, s *stack.Stack, typ save.ConcurrencyType, opts *insertOptions, entity string, attrs map[string]any) ([]string, error) {
	var (
		mu  sync.Mutex
		ids []string
	)

	g, gctx := errgroup.WithContext(ctx)
	for w := range opts.workers {
		n := opts.count / opts.workers
		if w < opts.count%opts.workers {
			n++
		}
		if n == 0 {
			continue
		}

		g.Go(func() error {
			c, err := s.NewContext(typ)
			if err != nil {
				return err
			}

			var inserted []string
			var insertErr error
			err = c.PerformAndWait(gctx, func(context.Context) {
				for range n {
					obj, err := c.Insert(entity, attrs)
					if err != nil {
						insertErr = err
						return
					}
					inserted = append(inserted, obj.ID)
				}
			})
			if err != nil {
				return err
			}
			if insertErr != nil {
				return insertErr
			}

			if err := saveContext(gctx, s.Coordinator(), c, opts.async); err != nil {
				return err
			}

			mu.Lock()
			ids = append(ids, inserted...)
			mu.Unlock()
			return nil
		})
	}

	err := g.Wait()
	return ids, err
}

func saveContext(ctx context.Context, co *save.Coordinator, c *graph.Context, async bool) error {
	if !async {
		return co.SaveAndWait(ctx, c)
	}
	return (<-co.SaveFuture(ctx, c)).Err()
}

// parseAttributes turns key=value pairs into attributes. Values that parse as
// numbers or booleans are stored as such.
func parseAttributes(pairs []string) (map[string]any, error) {
	attrs := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid attribute %q: want key=value", pair)
		}

		if f, err := strconv.ParseFloat(value, 64); err == nil {
			attrs[key] = f
		} else if b, err := strconv.ParseBool(value); err == nil {
			attrs[key] = b
		} else {
			attrs[key] = value
		}
	}
	return attrs, nil
}

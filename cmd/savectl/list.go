package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/persistence/graph"
	"github.com/tailored-agentic-units/persistence/save"
	"github.com/tailored-agentic-units/persistence/stack"
)

func newListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list <entity>",
		Short: "List stored objects of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withStack(cmd.Context(), func(ctx context.Context, s *stack.Stack) error {
				c, err := s.NewContext(save.Unconfined)
				if err != nil {
					return err
				}
				if _, err := c.Fetch(ctx, args[0]); err != nil {
					return err
				}

				for _, obj := range c.Objects(args[0]) {
					data, err := graph.JSONCodec{}.Encode(obj.Attributes)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", obj.ID, data)
				}
				return nil
			})
		},
	}
}

func newDeleteCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <entity> <id> [id ...]",
		Short: "Delete stored objects and save",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return root.withStack(cmd.Context(), func(ctx context.Context, s *stack.Stack) error {
				c := s.PrivateContext()

				var opErr error
				err := c.PerformAndWait(ctx, func(ctx context.Context) {
					if _, opErr = c.Fetch(ctx, args[0]); opErr != nil {
						return
					}
					for _, id := range args[1:] {
						if opErr = c.Delete(id); opErr != nil {
							return
						}
					}
					opErr = s.Coordinator().SaveAndWait(ctx, c)
				})
				if err != nil {
					return err
				}
				return opErr
			})
		},
	}
}

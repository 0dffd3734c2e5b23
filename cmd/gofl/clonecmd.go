package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/threefoldtech/gofl/clone"
	"github.com/threefoldtech/gofl/fs/meta"
	"github.com/threefoldtech/gofl/router"
)

func newCloneCmd() *cobra.Command {
	var toFlags []string

	cmd := &cobra.Command{
		Use:   "clone <input.fl>",
		Short: "Copy every block an FL references onto a new set of routes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := args[0]
			ctx := context.Background()

			m, err := meta.Open(in, true)
			if err != nil {
				return err
			}
			defer m.Close()

			srcRoutes, err := m.ListRoutes()
			if err != nil {
				return err
			}
			src, err := router.New(ctx, srcRoutes)
			if err != nil {
				return err
			}

			dstRoutes, err := parseRouteFlags(toFlags)
			if err != nil {
				return err
			}
			if len(dstRoutes) == 0 {
				return fmt.Errorf("clone: at least one --to is required")
			}
			dst, err := router.New(ctx, dstRoutes)
			if err != nil {
				return err
			}

			stats, err := clone.Clone(ctx, m, src, dst)
			if err != nil {
				return err
			}
			fmt.Printf("cloned %d blocks\n", stats.BlocksCopied)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&toFlags, "to", nil, "destination store route, same grammar as pack --route; repeatable")
	return cmd
}

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/threefoldtech/gofl/cache"
	"github.com/threefoldtech/gofl/fs/meta"
	"github.com/threefoldtech/gofl/pool"
	"github.com/threefoldtech/gofl/router"
	"github.com/threefoldtech/gofl/unpack"
)

func newUnpackCmd() *cobra.Command {
	var (
		cacheDir          string
		preserveOwnership bool
		poolSize          int
	)

	cmd := &cobra.Command{
		Use:   "unpack <input.fl> <target-dir>",
		Short: "Recreate an FL's tree on disk",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, target := args[0], args[1]
			ctx := context.Background()

			m, err := meta.Open(in, true)
			if err != nil {
				return err
			}
			defer m.Close()

			routes, err := m.ListRoutes()
			if err != nil {
				return err
			}
			r, err := router.New(ctx, routes)
			if err != nil {
				return err
			}

			c, err := cache.New(cacheDir)
			if err != nil {
				return err
			}

			p := pool.New(poolSize, newResolver(c, r))
			return unpack.Unpack(ctx, m, target, p, unpack.Options{
				PreserveOwnership: preserveOwnership,
			})
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "local chunk cache directory (required)")
	cmd.Flags().BoolVar(&preserveOwnership, "preserve-ownership", false, "chown files to their recorded uid/gid (requires privilege)")
	cmd.Flags().IntVar(&poolSize, "pool-size", 20, "concurrent block download workers")
	_ = cmd.MarkFlagRequired("cache-dir")
	return cmd
}

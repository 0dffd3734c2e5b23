package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/threefoldtech/gofl/cache"
	"github.com/threefoldtech/gofl/fs/meta"
	"github.com/threefoldtech/gofl/mount"
	"github.com/threefoldtech/gofl/pool"
	"github.com/threefoldtech/gofl/router"
)

func newMountCmd() *cobra.Command {
	var (
		cacheDir string
		poolSize int
	)

	cmd := &cobra.Command{
		Use:   "mount <input.fl> <mount-point>",
		Short: "Mount an FL read-only via FUSE, blocking until unmounted",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, dir := args[0], args[1]
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

			mfs, err := mount.Mount(ctx, dir, m, p, mount.Options{})
			if err != nil {
				return err
			}
			return mfs.Join(ctx)
		},
	}

	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "local chunk cache directory (required)")
	cmd.Flags().IntVar(&poolSize, "pool-size", 20, "concurrent block download workers")
	_ = cmd.MarkFlagRequired("cache-dir")
	return cmd
}

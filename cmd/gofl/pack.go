package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	gflfs "github.com/threefoldtech/gofl/fs"
	"github.com/threefoldtech/gofl/fs/meta"
	"github.com/threefoldtech/gofl/pack"
	"github.com/threefoldtech/gofl/router"
)

func newPackCmd() *cobra.Command {
	var (
		routeFlags  []string
		blockSize   int
		description string
		author      string
	)

	cmd := &cobra.Command{
		Use:   "pack <source-dir> <output.fl>",
		Short: "Pack a directory tree into a new FL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, out := args[0], args[1]
			ctx := context.Background()

			routes, err := parseRouteFlags(routeFlags)
			if err != nil {
				return err
			}
			if len(routes) == 0 {
				return fmt.Errorf("pack: at least one --route is required")
			}

			r, err := router.New(ctx, routes)
			if err != nil {
				return err
			}

			m, err := meta.Create(out)
			if err != nil {
				return err
			}
			defer m.Close()

			if blockSize <= 0 {
				blockSize = gflfs.DefaultBlockSize
			}
			stats, err := pack.Pack(ctx, src, m, r, routes, pack.Options{
				BlockSize:        blockSize,
				Description:      description,
				Author:           author,
				StripURLPassword: true,
			})
			if err != nil {
				return err
			}

			fmt.Printf("packed %d inodes, %d blocks (%d deduplicated), %d bytes\n",
				stats.Inodes, stats.Blocks, stats.DedupedBlocks, stats.BytesPacked)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&routeFlags, "route", nil, `store route, e.g. "s3://key:secret@host/bucket?region=eu" or "00-7f=dir:///data/a"; repeatable`)
	cmd.Flags().IntVar(&blockSize, "block-size", gflfs.DefaultBlockSize, "plaintext block size in bytes")
	cmd.Flags().StringVar(&description, "description", "", "FL description tag")
	cmd.Flags().StringVar(&author, "author", "", "FL author tag")
	return cmd
}

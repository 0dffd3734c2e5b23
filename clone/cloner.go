// Package clone implements the cloner of spec.md §4.9: it walks every
// block referenced by a meta store and re-issues set against a new
// route set, reading through the old one, without ever decoding the
// ciphertext. This mirrors the stream-copy fallback backend/s3/s3.go
// falls back to when no faster server-side copy is available: read the
// source bytes, write them unchanged to the destination.
package clone

import (
	"context"

	"github.com/pkg/errors"

	gflfs "github.com/threefoldtech/gofl/fs"
	"github.com/threefoldtech/gofl/fs/meta"
)

// Source resolves a block id to its ciphertext, typically the old
// router's Get.
type Source interface {
	Get(ctx context.Context, id string) ([]byte, error)
}

// Destination accepts a block id's ciphertext, typically the new
// router's Set.
type Destination interface {
	Set(ctx context.Context, id string, data []byte) error
}

// Stats reports how many distinct blocks were copied.
type Stats struct {
	BlocksCopied int
}

// Clone copies every block reachable from m's inode tree from src to
// dst, deduplicating repeated ids within the run (a block shared by two
// files is copied once, the same dedup the packer applies to writes).
func Clone(ctx context.Context, m *meta.Store, src Source, dst Destination) (Stats, error) {
	c := &cloner{m: m, src: src, dst: dst, seen: map[string]bool{}}
	if err := c.walk(ctx, gflfs.RootIno); err != nil {
		return c.stats, err
	}
	return c.stats, nil
}

type cloner struct {
	m     *meta.Store
	src   Source
	dst   Destination
	seen  map[string]bool
	stats Stats
}

func (c *cloner) walk(ctx context.Context, parentIno uint64) error {
	children, err := c.m.ListChildren(parentIno)
	if err != nil {
		return errors.Wrapf(err, "clone: listing children of ino %d", parentIno)
	}

	for _, child := range children {
		if child.IsDir() {
			if err := c.walk(ctx, child.Ino); err != nil {
				return err
			}
			continue
		}
		if !child.IsRegular() {
			continue
		}
		if err := c.copyBlocks(ctx, child.Ino); err != nil {
			return err
		}
	}
	return nil
}

func (c *cloner) copyBlocks(ctx context.Context, ino uint64) error {
	blocks, err := c.m.ListBlocks(ino)
	if err != nil {
		return errors.Wrapf(err, "clone: listing blocks for ino %d", ino)
	}
	for _, b := range blocks {
		if c.seen[b.ID] {
			continue
		}
		c.seen[b.ID] = true

		data, err := c.src.Get(ctx, b.ID)
		if err != nil {
			return errors.Wrapf(err, "clone: fetching block %s", b.ID)
		}
		if err := c.dst.Set(ctx, b.ID, data); err != nil {
			return errors.Wrapf(err, "clone: writing block %s", b.ID)
		}
		c.stats.BlocksCopied++
	}
	return nil
}

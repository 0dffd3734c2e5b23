// Package pack implements the packer of spec.md §4.7: a depth-first
// walk of a source directory that inserts inodes into a meta store,
// slices regular files into fixed-size blocks, and writes each block
// through the blob codec and the router. The directory-walk shape
// (os.Lstat before descending, device/symlink special-casing,
// streaming file reads rather than loading whole files) follows
// backend/local/local.go's own traversal of a local tree.
package pack

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/pkg/errors"

	"github.com/threefoldtech/gofl/backend"
	gflfs "github.com/threefoldtech/gofl/fs"
	"github.com/threefoldtech/gofl/fs/blob"
	"github.com/threefoldtech/gofl/fs/meta"
	"github.com/threefoldtech/gofl/router"
)

// Router is the subset of router.Router the packer needs; a narrow
// interface keeps the packer testable without a real backend.
type Router interface {
	Set(ctx context.Context, id string, data []byte) error
}

var _ Router = (*router.Router)(nil)

// Options configures a pack run.
type Options struct {
	BlockSize        int // plaintext block size; default gflfs.DefaultBlockSize
	Description      string
	Author           string
	StripURLPassword bool // strip userinfo passwords from stored route URLs only when true; the zero value stores them unchanged
}

// Stats reports dedup/throughput counters for a completed pack, the
// "dedup stats counter" supplemental feature: every (id,key) pair the
// packer has already written once in this run is counted as a dedup hit
// rather than re-issued to the router.
type Stats struct {
	Inodes        int
	Blocks        int
	DedupedBlocks int
	BytesPacked   uint64
}

// Pack walks src and writes it into the meta store at m, using r to
// store ciphertext blocks and routes to populate the route table.
func Pack(ctx context.Context, src string, m *meta.Store, r Router, routes []gflfs.Route, opt Options) (Stats, error) {
	if opt.BlockSize <= 0 {
		opt.BlockSize = gflfs.DefaultBlockSize
	}

	if err := m.PutTag(gflfs.TagVersion, gflfs.SchemaVersion); err != nil {
		return Stats{}, errors.Wrap(err, "pack: writing version tag")
	}
	if err := m.PutTag(gflfs.TagBlockSize, strconv.Itoa(opt.BlockSize)); err != nil {
		return Stats{}, errors.Wrap(err, "pack: writing block-size tag")
	}
	if opt.Description != "" {
		if err := m.PutTag(gflfs.TagDescription, opt.Description); err != nil {
			return Stats{}, errors.Wrap(err, "pack: writing description tag")
		}
	}
	if opt.Author != "" {
		if err := m.PutTag(gflfs.TagAuthor, opt.Author); err != nil {
			return Stats{}, errors.Wrap(err, "pack: writing author tag")
		}
	}
	for _, rt := range routes {
		stored := rt
		if opt.StripURLPassword {
			stored.URL = stripPassword(rt.URL)
		}
		if err := m.AddRoute(stored); err != nil {
			return Stats{}, errors.Wrap(err, "pack: writing route")
		}
	}

	p := &packer{m: m, r: r, opt: opt, seen: map[string]bool{}}

	rootInfo, err := os.Lstat(src)
	if err != nil {
		return Stats{}, errors.Wrapf(err, "pack: stat root %s", src)
	}
	root := &gflfs.Inode{
		Ino: gflfs.RootIno, Parent: gflfs.NoIno, Name: "",
		Mode: rootInfo.Mode(), Ctime: rootInfo.ModTime().Unix(), Mtime: rootInfo.ModTime().Unix(),
	}
	if err := m.PutInode(root); err != nil {
		return Stats{}, errors.Wrap(err, "pack: writing root inode")
	}
	p.stats.Inodes++

	if err := p.walkDir(ctx, src, gflfs.RootIno); err != nil {
		return p.stats, err
	}
	return p.stats, nil
}

type packer struct {
	m     *meta.Store
	r     Router
	opt   Options
	seen  map[string]bool // id -> already written this run, for dedup stats
	stats Stats
}

func (p *packer) walkDir(ctx context.Context, dir string, parentIno uint64) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return errors.Wrapf(err, "pack: reading dir %s", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		fullPath := filepath.Join(dir, entry.Name())
		info, err := os.Lstat(fullPath)
		if err != nil {
			return errors.Wrapf(err, "pack: lstat %s", fullPath)
		}

		ino, err := p.m.NextIno()
		if err != nil {
			return errors.Wrap(err, "pack: allocating inode")
		}
		inode := &gflfs.Inode{
			Ino: ino, Parent: parentIno, Name: entry.Name(),
			UID: statUID(info), GID: statGID(info), Mode: info.Mode(),
			Ctime: info.ModTime().Unix(), Mtime: info.ModTime().Unix(),
		}

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(fullPath)
			if err != nil {
				return errors.Wrapf(err, "pack: readlink %s", fullPath)
			}
			if err := p.m.PutInode(inode); err != nil {
				return err
			}
			if err := p.m.PutExtra(ino, target); err != nil {
				return err
			}
			p.stats.Inodes++

		case info.IsDir():
			if err := p.m.PutInode(inode); err != nil {
				return err
			}
			p.stats.Inodes++
			if err := p.walkDir(ctx, fullPath, ino); err != nil {
				return err
			}

		case info.Mode()&(os.ModeDevice|os.ModeCharDevice|os.ModeNamedPipe|os.ModeSocket) != 0:
			inode.Rdev = statRdev(info)
			if err := p.m.PutInode(inode); err != nil {
				return err
			}
			p.stats.Inodes++

		default: // regular file
			size, err := p.packFile(ctx, fullPath, ino)
			if err != nil {
				return err
			}
			inode.Size = size
			if err := p.m.PutInode(inode); err != nil {
				return err
			}
			p.stats.Inodes++
			p.stats.BytesPacked += size
		}
	}
	return nil
}

// packFile streams fullPath in opt.BlockSize chunks, writing each
// through the codec and router, and appending a block row per chunk.
func (p *packer) packFile(ctx context.Context, fullPath string, ino uint64) (uint64, error) {
	f, err := os.Open(fullPath)
	if err != nil {
		return 0, errors.Wrapf(err, "pack: opening %s", fullPath)
	}
	defer f.Close()

	buf := make([]byte, p.opt.BlockSize)
	var total uint64
	for {
		n, readErr := io.ReadFull(f, buf)
		if n > 0 {
			chunk := buf[:n]
			ciphertext, id, key := blob.Encode(chunk)

			if !p.seen[id] {
				if err := p.r.Set(ctx, id, ciphertext); err != nil {
					return 0, &gflfs.StorePutFailed{ID: id, Err: err}
				}
				p.seen[id] = true
			} else {
				p.stats.DedupedBlocks++
			}

			if _, err := p.m.AppendBlock(ino, id, key, uint64(n)); err != nil {
				return 0, errors.Wrapf(err, "pack: appending block for ino %d", ino)
			}
			p.stats.Blocks++
			total += uint64(n)
		}
		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			return 0, errors.Wrapf(readErr, "pack: reading %s", fullPath)
		}
	}
	return total, nil
}

func stripPassword(rawURL string) string {
	u, err := backend.ParseStoreURL(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Stripped
}

package unpack

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threefoldtech/gofl/fs/blob"
	gflfs "github.com/threefoldtech/gofl/fs"
	"github.com/threefoldtech/gofl/fs/meta"
	"github.com/threefoldtech/gofl/pool"
)

// buildStore packs a tiny tree directly against a fake ciphertext store,
// returning the meta store and the store map so tests can wire a
// Resolver without involving the router or cache packages.
func buildStore(t *testing.T) (*meta.Store, map[string][]byte) {
	t.Helper()
	store := map[string][]byte{}
	m, err := meta.Create(filepath.Join(t.TempDir(), "test.fl"))
	require.NoError(t, err)

	root := &gflfs.Inode{Ino: gflfs.RootIno, Mode: os.ModeDir | 0755}
	require.NoError(t, m.PutInode(root))

	put := func(parent uint64, name string, mode os.FileMode, content string) uint64 {
		ino, err := m.NextIno()
		require.NoError(t, err)
		in := &gflfs.Inode{Ino: ino, Parent: parent, Name: name, Mode: mode, Mtime: 1700000000}
		if content != "" {
			ciphertext, id, key := blob.Encode([]byte(content))
			store[id] = ciphertext
			_, err := m.AppendBlock(ino, id, key, uint64(len(content)))
			require.NoError(t, err)
			in.Size = uint64(len(content))
		}
		require.NoError(t, m.PutInode(in))
		return ino
	}

	put(gflfs.RootIno, "a", 0644, "hello\n")
	bDir := put(gflfs.RootIno, "b", os.ModeDir|0755, "")
	put(bDir, "c", 0644, "world\n")

	linkIno, err := m.NextIno()
	require.NoError(t, err)
	require.NoError(t, m.PutInode(&gflfs.Inode{Ino: linkIno, Parent: gflfs.RootIno, Name: "link", Mode: os.ModeSymlink | 0777}))
	require.NoError(t, m.PutExtra(linkIno, "a"))

	return m, store
}

func TestUnpackRecreatesTree(t *testing.T) {
	m, store := buildStore(t)
	defer m.Close()

	resolve := DecodingResolver(func(ctx context.Context, id string) ([]byte, error) {
		return store[id], nil
	})
	p := pool.New(4, pool.Resolver(resolve))

	target := t.TempDir()
	require.NoError(t, Unpack(context.Background(), m, target, p, Options{}))

	a, err := os.ReadFile(filepath.Join(target, "a"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(a))

	c, err := os.ReadFile(filepath.Join(target, "b", "c"))
	require.NoError(t, err)
	assert.Equal(t, "world\n", string(c))

	linkTarget, err := os.Readlink(filepath.Join(target, "link"))
	require.NoError(t, err)
	assert.Equal(t, "a", linkTarget)
}

func TestUnpackPropagatesBlockMissing(t *testing.T) {
	m, _ := buildStore(t)
	defer m.Close()

	resolve := DecodingResolver(func(ctx context.Context, id string) ([]byte, error) {
		return nil, &gflfs.BlockMissing{ID: id}
	})
	p := pool.New(4, pool.Resolver(resolve))

	target := t.TempDir()
	err := Unpack(context.Background(), m, target, p, Options{})
	var bm *gflfs.BlockMissing
	assert.ErrorAs(t, err, &bm)
}

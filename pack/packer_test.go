package pack

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gflfs "github.com/threefoldtech/gofl/fs"
	"github.com/threefoldtech/gofl/fs/meta"
)

type memRouter struct {
	mu    sync.Mutex
	sets  int
	store map[string][]byte
}

func newMemRouter() *memRouter { return &memRouter{store: map[string][]byte{}} }

func (r *memRouter) Set(ctx context.Context, id string, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sets++
	r.store[id] = append([]byte(nil), data...)
	return nil
}

func writeTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("hello\n"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b", "c"), []byte("world\n"), 0644))
	require.NoError(t, os.Symlink("a", filepath.Join(root, "link")))
	return root
}

func TestPackTinyTree(t *testing.T) {
	src := writeTree(t)
	m, err := meta.Create(filepath.Join(t.TempDir(), "test.fl"))
	require.NoError(t, err)
	defer m.Close()

	r := newMemRouter()
	routes := []gflfs.Route{{Start: 0x00, End: 0xff, URL: "dir:///tmp/s"}}
	stats, err := Pack(context.Background(), src, m, r, routes, Options{BlockSize: 65536})
	require.NoError(t, err)

	assert.Equal(t, 5, stats.Inodes) // root, a, b, b/c, link
	assert.Equal(t, 2, stats.Blocks) // one block each for a and b/c

	rootChildren, err := m.ListChildren(gflfs.RootIno)
	require.NoError(t, err)
	names := make([]string, len(rootChildren))
	for i, c := range rootChildren {
		names[i] = c.Name
	}
	assert.Equal(t, []string{"a", "b", "link"}, names)
}

func TestPackDeduplicatesIdenticalBlocks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a"), []byte("same content"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b"), []byte("same content"), 0644))

	m, err := meta.Create(filepath.Join(t.TempDir(), "test.fl"))
	require.NoError(t, err)
	defer m.Close()

	r := newMemRouter()
	_, err = Pack(context.Background(), root, m, r, nil, Options{BlockSize: 65536})
	require.NoError(t, err)

	assert.Equal(t, 1, r.sets) // second file's identical block is a dedup no-op
}

func TestPackSymlinkStoresExtraRow(t *testing.T) {
	src := writeTree(t)
	m, err := meta.Create(filepath.Join(t.TempDir(), "test.fl"))
	require.NoError(t, err)
	defer m.Close()

	r := newMemRouter()
	_, err = Pack(context.Background(), src, m, r, nil, Options{BlockSize: 65536})
	require.NoError(t, err)

	linkIno, err := m.LookupChild(gflfs.RootIno, "link")
	require.NoError(t, err)
	target, err := m.GetExtra(linkIno)
	require.NoError(t, err)
	assert.Equal(t, "a", target)
}

func TestPackWritesBlockSizeAndVersionTags(t *testing.T) {
	src := writeTree(t)
	m, err := meta.Create(filepath.Join(t.TempDir(), "test.fl"))
	require.NoError(t, err)
	defer m.Close()

	r := newMemRouter()
	_, err = Pack(context.Background(), src, m, r, nil, Options{BlockSize: 65536})
	require.NoError(t, err)

	v, err := m.GetTag(gflfs.TagVersion)
	require.NoError(t, err)
	assert.Equal(t, gflfs.SchemaVersion, v)

	bs, err := m.GetTag(gflfs.TagBlockSize)
	require.NoError(t, err)
	assert.Equal(t, "65536", bs)
}

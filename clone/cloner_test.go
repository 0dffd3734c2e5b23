package clone

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
)

type memSource struct{ data map[string][]byte }

func (s *memSource) Get(ctx context.Context, id string) ([]byte, error) {
	v, ok := s.data[id]
	if !ok {
		return nil, gflfs.NotFound
	}
	return v, nil
}

type memDest struct {
	data map[string][]byte
	sets int
}

func (d *memDest) Set(ctx context.Context, id string, data []byte) error {
	d.sets++
	d.data[id] = append([]byte(nil), data...)
	return nil
}

func buildStore(t *testing.T) (*meta.Store, *memSource) {
	t.Helper()
	src := &memSource{data: map[string][]byte{}}
	m, err := meta.Create(filepath.Join(t.TempDir(), "test.fl"))
	require.NoError(t, err)

	require.NoError(t, m.PutInode(&gflfs.Inode{Ino: gflfs.RootIno, Mode: os.ModeDir | 0755}))

	ino1, err := m.NextIno()
	require.NoError(t, err)
	ciphertext, id, key := blob.Encode([]byte("hello"))
	src.data[id] = ciphertext
	_, err = m.AppendBlock(ino1, id, key, 5)
	require.NoError(t, err)
	require.NoError(t, m.PutInode(&gflfs.Inode{Ino: ino1, Parent: gflfs.RootIno, Name: "a", Mode: 0644, Size: 5}))

	ino2, err := m.NextIno()
	require.NoError(t, err)
	_, err = m.AppendBlock(ino2, id, key, 5) // same block id: shared content
	require.NoError(t, err)
	require.NoError(t, m.PutInode(&gflfs.Inode{Ino: ino2, Parent: gflfs.RootIno, Name: "b", Mode: 0644, Size: 5}))

	return m, src
}

func TestCloneCopiesAllBlocks(t *testing.T) {
	m, src := buildStore(t)
	defer m.Close()
	dst := &memDest{data: map[string][]byte{}}

	stats, err := Clone(context.Background(), m, src, dst)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.BlocksCopied) // shared block counted once
	assert.Equal(t, 1, dst.sets)
	assert.Len(t, dst.data, 1)
}

func TestCloneFailsOnMissingSourceBlock(t *testing.T) {
	m, _ := buildStore(t)
	defer m.Close()
	emptySrc := &memSource{data: map[string][]byte{}}
	dst := &memDest{data: map[string][]byte{}}

	_, err := Clone(context.Background(), m, emptySrc, dst)
	assert.Error(t, err)
}

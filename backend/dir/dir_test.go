package dir

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gflfs "github.com/threefoldtech/gofl/fs"
)

func TestSetThenGetRoundTrip(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	id := "abcdef0123456789"
	data := []byte("ciphertext bytes")

	require.NoError(t, b.Set(ctx, id, data))
	got, err := b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestGetMissingIsNotFound(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = b.Get(context.Background(), "0011223344556677")
	assert.ErrorIs(t, err, gflfs.NotFound)
}

func TestSetIsIdempotent(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	id := "ff00112233445566"

	require.NoError(t, b.Set(ctx, id, []byte("a")))
	require.NoError(t, b.Set(ctx, id, []byte("a")))

	got, err := b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
}

func TestObjectLayoutOnDisk(t *testing.T) {
	root := t.TempDir()
	b, err := New(root)
	require.NoError(t, err)

	id := "abcd112233445566"
	require.NoError(t, b.Set(context.Background(), id, []byte("x")))

	p := filepath.Join(root, "ab", "cd112233445566")
	_, err = os.Stat(p)
	require.NoError(t, err)
}

func TestRoutesFullRange(t *testing.T) {
	b, err := New(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, [][2]byte{{0x00, 0xff}}, b.Routes())
}

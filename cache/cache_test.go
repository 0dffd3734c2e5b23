package cache

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetFetchesOnceAndCachesToDisk(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	var calls int32
	fetch := func(ctx context.Context, id, key string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("decoded"), nil
	}

	ctx := context.Background()
	got, err := c.Get(ctx, "abcd112233", "key", fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("decoded"), got)

	got2, err := c.Get(ctx, "abcd112233", "key", fetch)
	require.NoError(t, err)
	assert.Equal(t, []byte("decoded"), got2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestConcurrentGetsDedupeThroughSingleflight(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)

	var calls int32
	release := make(chan struct{})
	fetch := func(ctx context.Context, id, key string) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("decoded"), nil
	}

	ctx := context.Background()
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.Get(ctx, "abcd112233", "key", fetch)
			assert.NoError(t, err)
			done <- struct{}{}
		}()
	}
	close(release)
	<-done
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEvictRemovesEntry(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = c.Get(ctx, "abcd112233", "key", func(ctx context.Context, id, key string) ([]byte, error) {
		return []byte("x"), nil
	})
	require.NoError(t, err)
	assert.True(t, c.Has("abcd112233"))

	require.NoError(t, c.Evict("abcd112233"))
	assert.False(t, c.Has("abcd112233"))
}

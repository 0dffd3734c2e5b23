package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gflbackend "github.com/threefoldtech/gofl/backend"
	gflfs "github.com/threefoldtech/gofl/fs"
)

// memStore is an in-process fake used only by router tests; it supports
// injected failures to exercise retry/fallback.
type memStore struct {
	mu       sync.Mutex
	name     string
	data     map[string][]byte
	failNext int
	alwaysTE bool
}

func newMemStore(name string) *memStore { return &memStore{name: name, data: map[string][]byte{}} }

func (m *memStore) Get(ctx context.Context, id string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alwaysTE {
		return nil, gflfs.NewTransportError(m.name, assertErr("boom"))
	}
	if m.failNext > 0 {
		m.failNext--
		return nil, gflfs.NewTransportError(m.name, assertErr("transient"))
	}
	v, ok := m.data[id]
	if !ok {
		return nil, gflfs.NotFound
	}
	return v, nil
}

func (m *memStore) Set(ctx context.Context, id string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.alwaysTE {
		return gflfs.NewTransportError(m.name, assertErr("boom"))
	}
	m.data[id] = append([]byte(nil), data...)
	return nil
}

func (m *memStore) Routes() [][2]byte { return [][2]byte{{0x00, 0xff}} }
func (m *memStore) String() string    { return "mem://" + m.name }

type assertErr string

func (e assertErr) Error() string { return string(e) }

var registerOnce sync.Once
var stores map[string]*memStore

func registerMemScheme() {
	registerOnce.Do(func() {
		stores = map[string]*memStore{}
		gflbackend.Register("mem", func(ctx context.Context, u *gflbackend.StoreURL) (gflbackend.Store, error) {
			name := u.Raw.Host
			if s, ok := stores[name]; ok {
				return s, nil
			}
			s := newMemStore(name)
			stores[name] = s
			return s, nil
		})
	})
}

func TestSetReplicatesToAllCoveringBackends(t *testing.T) {
	registerMemScheme()
	stores = map[string]*memStore{}
	ctx := context.Background()

	routes := []gflfs.Route{
		{Start: 0x00, End: 0xff, URL: "mem://a"},
		{Start: 0x00, End: 0xff, URL: "mem://b"},
	}
	r, err := New(ctx, routes)
	require.NoError(t, err)

	require.NoError(t, r.Set(ctx, "abcd", []byte("x")))
	assert.Equal(t, []byte("x"), stores["a"].data["abcd"])
	assert.Equal(t, []byte("x"), stores["b"].data["abcd"])
}

func TestGetFallsThroughOnNotFound(t *testing.T) {
	registerMemScheme()
	stores = map[string]*memStore{}
	ctx := context.Background()

	routes := []gflfs.Route{
		{Start: 0x00, End: 0xff, URL: "mem://a"},
		{Start: 0x00, End: 0xff, URL: "mem://b"},
	}
	r, err := New(ctx, routes, WithSeed(1))
	require.NoError(t, err)

	stores["b"].data["abcd"] = []byte("from-b")
	got, err := r.Get(ctx, "abcd")
	require.NoError(t, err)
	assert.Equal(t, []byte("from-b"), got)
}

func TestGetReturnsBlockMissingWhenNoneHaveIt(t *testing.T) {
	registerMemScheme()
	stores = map[string]*memStore{}
	ctx := context.Background()

	routes := []gflfs.Route{{Start: 0x00, End: 0xff, URL: "mem://a"}}
	r, err := New(ctx, routes)
	require.NoError(t, err)

	_, err = r.Get(ctx, "abcd")
	var bm *gflfs.BlockMissing
	assert.ErrorAs(t, err, &bm)
}

func TestGetReturnsFetchFailedWhenAllTransportErrors(t *testing.T) {
	registerMemScheme()
	stores = map[string]*memStore{}
	ctx := context.Background()

	routes := []gflfs.Route{{Start: 0x00, End: 0xff, URL: "mem://a"}}
	r, err := New(ctx, routes, WithRetries(0))
	require.NoError(t, err)
	stores["a"].alwaysTE = true

	_, err = r.Get(ctx, "abcd")
	var ff *gflfs.FetchFailed
	assert.ErrorAs(t, err, &ff)
}

func TestGetRetriesTransientFailureThenSucceeds(t *testing.T) {
	registerMemScheme()
	stores = map[string]*memStore{}
	ctx := context.Background()

	routes := []gflfs.Route{{Start: 0x00, End: 0xff, URL: "mem://a"}}
	r, err := New(ctx, routes, WithRetries(2), WithBackoff(0))
	require.NoError(t, err)
	stores["a"].data["abcd"] = []byte("ok")
	stores["a"].failNext = 1

	got, err := r.Get(ctx, "abcd")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), got)
}

func TestSetOnlyRoutesToCoveringRange(t *testing.T) {
	registerMemScheme()
	stores = map[string]*memStore{}
	ctx := context.Background()

	routes := []gflfs.Route{
		{Start: 0x00, End: 0x7f, URL: "mem://lo"},
		{Start: 0x80, End: 0xff, URL: "mem://hi"},
	}
	r, err := New(ctx, routes)
	require.NoError(t, err)

	require.NoError(t, r.Set(ctx, "ab01", []byte("x"))) // 0xab is in hi range
	_, loHas := stores["lo"].data["ab01"]
	_, hiHas := stores["hi"].data["ab01"]
	assert.False(t, loHas)
	assert.True(t, hiHas)
}

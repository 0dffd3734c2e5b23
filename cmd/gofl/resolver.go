package main

import (
	"context"

	"github.com/threefoldtech/gofl/cache"
	"github.com/threefoldtech/gofl/fs/blob"
	"github.com/threefoldtech/gofl/router"
)

// newResolver builds the cache-then-router-then-decode chain shared by
// unpack and mount: a cache miss fetches the ciphertext from r and
// decodes it, a hit never touches the network.
func newResolver(c *cache.Cache, r *router.Router) func(ctx context.Context, id, key string) ([]byte, error) {
	return func(ctx context.Context, id, key string) ([]byte, error) {
		return c.Get(ctx, id, key, func(ctx context.Context, id, key string) ([]byte, error) {
			ciphertext, err := r.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			return blob.Decode(ciphertext, key)
		})
	}
}

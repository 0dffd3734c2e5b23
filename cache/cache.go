// Package cache implements the local plaintext chunk cache of spec.md
// §4.5: a directory of decoded blocks keyed by block id, admitted
// atomically via temp+rename the way backend/dir does its writes, with
// concurrent fetches for the same id deduplicated through a
// singleflight.Group exactly as netexplorer.go's listSF dedupes
// concurrent hydration requests for the same key.
package cache

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/threefoldtech/gofl/fs/fslog"
)

// Fetcher resolves a cache miss: given a block's ciphertext id and
// decode key, it returns the decoded plaintext.
type Fetcher func(ctx context.Context, id, key string) ([]byte, error)

// Cache is a local directory of decoded plaintext blocks keyed by id.
type Cache struct {
	root string
	sf   singleflight.Group
}

// New returns a Cache rooted at dir, creating it if needed.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "cache: creating root %s", dir)
	}
	return &Cache{root: dir}, nil
}

func (c *Cache) path(id string) string {
	if len(id) < 2 {
		return filepath.Join(c.root, id)
	}
	return filepath.Join(c.root, id[:2], id[2:])
}

// Get returns the plaintext for id, serving from disk on a hit. On a
// miss it calls fetch exactly once even if concurrently requested by
// multiple callers for the same id, then admits the result to disk.
func (c *Cache) Get(ctx context.Context, id, key string, fetch Fetcher) ([]byte, error) {
	if data, err := os.ReadFile(c.path(id)); err == nil {
		return data, nil
	} else if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "cache: reading %s", id)
	}

	v, err, shared := c.sf.Do(id, func() (interface{}, error) {
		data, ferr := fetch(ctx, id, key)
		if ferr != nil {
			return nil, ferr
		}
		if admitErr := c.admit(id, data); admitErr != nil {
			return nil, admitErr
		}
		return data, nil
	})
	if shared {
		fslog.Debugf(id, "cache: miss served by an in-flight fetch for the same block")
	}
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// admit writes data under id atomically (temp file + rename), so a
// concurrent reader never observes a partial cache entry.
func (c *Cache) admit(id string, data []byte) error {
	p := c.path(id)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return errors.Wrapf(err, "cache: creating dir for %s", p)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".gofl-cache-tmp-*")
	if err != nil {
		return errors.Wrap(err, "cache: creating temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		tmp.Close()
		return errors.Wrap(err, "cache: writing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "cache: closing temp file")
	}
	if err := os.Rename(tmpName, p); err != nil {
		return errors.Wrapf(err, "cache: renaming into place %s", p)
	}
	return nil
}

// Evict removes id's cache entry, if present, so the next Get for id
// calls its Fetcher again. Get itself never admits a failed fetch, so
// an entry only exists for a block its Fetcher returned successfully.
func (c *Cache) Evict(id string) error {
	err := os.Remove(c.path(id))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "cache: evicting %s", id)
	}
	return nil
}

// Has reports whether id is currently cached, without fetching it.
func (c *Cache) Has(id string) bool {
	_, err := os.Stat(c.path(id))
	return err == nil
}

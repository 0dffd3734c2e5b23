// Package http implements the read-only HTTP store backend (spec.md
// §4.2 "HTTP backend"): Get issues a GET against
// <base>/<first-two-hex>/<rest-hex>, mapping non-2xx responses to
// fs.NotFound or a transport error, mirroring the statusError/http.Client
// idiom in backend/http/http.go. Set always fails with fs.ReadOnly.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/threefoldtech/gofl/backend"
	gflfs "github.com/threefoldtech/gofl/fs"
)

func init() {
	backend.Register("http", newFromURL)
	backend.Register("https", newFromURL)
}

func newFromURL(ctx context.Context, u *backend.StoreURL) (backend.Store, error) {
	base := strings.TrimSuffix(u.Raw.String(), "/")
	return New(base), nil
}

// Backend is the read-only HTTP store.
type Backend struct {
	base   string
	client *http.Client
}

// New returns an HTTP backend rooted at baseURL.
func New(baseURL string) *Backend {
	return &Backend{
		base: strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (b *Backend) url(id string) (string, error) {
	key, err := backend.ObjectKey(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s", b.base, key), nil
}

// Get issues an HTTP GET for id.
func (b *Backend) Get(ctx context.Context, id string) ([]byte, error) {
	u, err := b.url(id)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, gflfs.NewTransportError("http", errors.Wrap(err, "building request"))
	}
	resp, err := b.client.Do(req)
	if err != nil {
		return nil, gflfs.NewTransportError("http", errors.Wrap(err, "GET failed"))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, gflfs.NotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, gflfs.NewTransportError("http", errors.Errorf("unexpected status %s", resp.Status))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, gflfs.NewTransportError("http", errors.Wrap(err, "reading body"))
	}
	return data, nil
}

// Set always fails: the HTTP backend is read-only.
func (b *Backend) Set(ctx context.Context, id string, data []byte) error {
	return gflfs.ReadOnly
}

// Routes declares full 00-FF coverage.
func (b *Backend) Routes() [][2]byte { return [][2]byte{{0x00, 0xff}} }

func (b *Backend) String() string {
	u, err := url.Parse(b.base)
	if err != nil || u.User == nil {
		return b.base
	}
	u.User = url.User(u.User.Username())
	return u.String()
}

// Package backend defines the uniform capability surface every store
// variant implements (spec.md §4.2) and the URL grammar (spec.md §6)
// used to construct one from a route's URL. Concrete variants live in
// the backend/dir, backend/zdb, backend/s3, and backend/http
// subpackages; each registers itself here at init() time the way every
// rclone remote registers with fs.Register in its own init().
package backend

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	gflfs "github.com/threefoldtech/gofl/fs"
)

// Store is the capability surface of spec.md §4.2.
type Store interface {
	// Get returns the exact ciphertext bytes previously written under
	// id, or fs.NotFound, or a *fs.TransportError.
	Get(ctx context.Context, id string) ([]byte, error)
	// Set writes data under id. It is idempotent: writing the same id
	// twice is a no-op from the caller's perspective. Returns
	// fs.ReadOnly if this backend does not accept writes.
	Set(ctx context.Context, id string, data []byte) error
	// Routes reports the prefix ranges this backend natively declares
	// coverage for. Most simple backends return a single 00-FF range.
	Routes() [][2]byte
	// String names the backend for logging (its URL with any password
	// stripped).
	String() string
}

// Constructor builds a Store from a parsed StoreURL.
type Constructor func(ctx context.Context, u *StoreURL) (Store, error)

var (
	registryMu sync.Mutex
	registry   = map[string]Constructor{}
)

// Register associates a URL scheme (e.g. "dir", "s3") with a
// Constructor. Backend packages call this from their own init().
func Register(scheme string, ctor Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = ctor
}

// New parses rawURL and constructs the Store it names, dispatching on
// scheme to whichever backend package registered it.
func New(ctx context.Context, rawURL string) (Store, error) {
	u, err := ParseStoreURL(rawURL)
	if err != nil {
		return nil, err
	}
	registryMu.Lock()
	ctor, ok := registry[u.Scheme]
	registryMu.Unlock()
	if !ok {
		return nil, gflfs.NewConfigError("backend: unknown store scheme %q", u.Scheme)
	}
	return ctor(ctx, u)
}

// StoreURL is a parsed store URL (spec.md §6), with the prefix-range
// variant (if any) already stripped off.
type StoreURL struct {
	Scheme string
	Raw    *url.URL
	// Stripped is Raw.String() with userinfo password removed, per the
	// password-stripping publishing convention (spec.md §4.3/§6).
	Stripped string
}

// ParseStoreURL parses the bare store URL grammar: dir://, zdb://, s3://,
// http(s)://, plus any other scheme a package has passed to Register.
// The caller is responsible for stripping any leading
// "<start>-<end>=" prefix-range prefix first (see ParseRoutedURL).
func ParseStoreURL(raw string) (*StoreURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, gflfs.NewConfigError("backend: invalid store URL %q: %v", raw, err)
	}
	switch u.Scheme {
	case "dir", "zdb", "s3", "http", "https":
	default:
		registryMu.Lock()
		_, registered := registry[u.Scheme]
		registryMu.Unlock()
		if !registered {
			return nil, gflfs.NewConfigError("backend: unsupported scheme %q", u.Scheme)
		}
	}

	stripped := *u
	if stripped.User != nil {
		if _, hasPassword := stripped.User.Password(); hasPassword {
			stripped.User = url.User(stripped.User.Username())
		}
	}

	return &StoreURL{Scheme: u.Scheme, Raw: u, Stripped: stripped.String()}, nil
}

// ParseRoutedURL parses the full route-table cell syntax of spec.md §6:
// an optional "<start>-<end>=" prefix (1-or-2-digit hex on each side)
// followed by a store URL. Missing prefix defaults to the full 00-ff
// range.
func ParseRoutedURL(cell string) (start, end byte, storeURL string, err error) {
	if idx := strings.Index(cell, "="); idx >= 0 && looksLikeRange(cell[:idx]) {
		rangePart, rest := cell[:idx], cell[idx+1:]
		parts := strings.SplitN(rangePart, "-", 2)
		if len(parts) != 2 {
			return 0, 0, "", gflfs.NewConfigError("backend: malformed range %q", rangePart)
		}
		s, e, perr := parseHexByte(parts[0]), parseHexByte(parts[1]), error(nil)
		if s < 0 || e < 0 {
			return 0, 0, "", gflfs.NewConfigError("backend: malformed range %q", rangePart)
		}
		_ = perr
		return byte(s), byte(e), rest, nil
	}
	return 0x00, 0xff, cell, nil
}

func looksLikeRange(s string) bool {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return false
	}
	return parseHexByte(parts[0]) >= 0 && parseHexByte(parts[1]) >= 0
}

func parseHexByte(s string) int {
	if len(s) == 0 || len(s) > 2 {
		return -1
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil || v > 0xff {
		return -1
	}
	return int(v)
}

// ObjectKey computes the "<first-two-hex>/<rest-hex>" layout every
// backend variant uses to shard its id space into directories/prefixes
// (spec.md §6 "Object layout inside backends").
func ObjectKey(id string) (string, error) {
	if len(id) < 3 {
		return "", gflfs.NewConfigError("backend: id %q too short for object layout", id)
	}
	return fmt.Sprintf("%s/%s", id[:2], id[2:]), nil
}

// SortedRanges returns ranges sorted by Start, used by Routes()
// implementations and by tests that assert coverage.
func SortedRanges(ranges [][2]byte) [][2]byte {
	out := append([][2]byte(nil), ranges...)
	sort.Slice(out, func(i, j int) bool { return out[i][0] < out[j][0] })
	return out
}

// Package fs holds the types and error kinds shared by every gofl
// component: the inode/extra/block/route/tag data model and the error
// taxonomy backends and the router classify failures into. The leveled
// logging helpers live in the fs/fslog subpackage.
package fs

import (
	"fmt"

	"github.com/pkg/errors"
)

// NotFound is returned by a Store's Get when the id is not present in
// that particular backend. It is recoverable: the router falls through
// to the next candidate backend.
var NotFound = errors.New("block not found")

// ReadOnly is returned by a Store's Set when the backend does not accept
// writes (e.g. the HTTP backend). It is a configuration error, not a
// transient condition.
var ReadOnly = errors.New("store is read-only")

// TransportError wraps a retriable failure talking to a backend (network
// error, non-2xx response, connection reset, etc). The router retries a
// bounded number of times before falling through or giving up.
type TransportError struct {
	Backend string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error talking to %s: %v", e.Backend, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a TransportError attributed to backend.
func NewTransportError(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Backend: backend, Err: err}
}

// BlockMissing means every backend covering a block id's prefix range
// reported NotFound. It is not recoverable; it surfaces to the caller
// (EIO at the FUSE layer).
type BlockMissing struct {
	ID string
}

func (e *BlockMissing) Error() string { return fmt.Sprintf("block missing: %s", e.ID) }

// FetchFailed means every backend covering a block id's prefix range
// failed with a transport error (none reported a clean NotFound).
type FetchFailed struct {
	ID   string
	Last error
}

func (e *FetchFailed) Error() string {
	return fmt.Sprintf("fetch failed for block %s: %v", e.ID, e.Last)
}

func (e *FetchFailed) Unwrap() error { return e.Last }

// IntegrityError means Decode's AEAD verification or decompression
// failed. It surfaces as EIO and must never poison the chunk cache.
type IntegrityError struct {
	ID  string
	Err error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity check failed for block %s: %v", e.ID, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// StorePutFailed means the router exhausted its retries writing a block
// to every writable backend covering its prefix range. It aborts a pack.
type StorePutFailed struct {
	ID  string
	Err error
}

func (e *StorePutFailed) Error() string {
	return fmt.Sprintf("failed to store block %s: %v", e.ID, e.Err)
}

func (e *StorePutFailed) Unwrap() error { return e.Err }

// SchemaError means the meta store file could not be opened or its
// on-disk layout does not match what this implementation expects. The FL
// is unusable.
type SchemaError struct {
	Err error
}

func (e *SchemaError) Error() string { return fmt.Sprintf("schema error: %v", e.Err) }

func (e *SchemaError) Unwrap() error { return e.Err }

// ConfigError means a route edit, tag edit, or store URL failed
// validation (bad range, bad scheme, malformed URL).
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string { return fmt.Sprintf("config error: %v", e.Err) }

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError builds a ConfigError from a formatted message.
func NewConfigError(format string, args ...interface{}) error {
	return &ConfigError{Err: fmt.Errorf(format, args...)}
}

// IsNotFound reports whether err is (or wraps) NotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, NotFound)
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var t *TransportError
	return errors.As(err, &t)
}

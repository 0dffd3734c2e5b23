// Package zdb implements the zdb (0-db) keyed append-only log store
// backend (spec.md §4.2 "zdb backend"): namespace and password come from
// the URL, and id is used directly as the zdb key. No zdb wire-protocol
// source survived the retrieval pack, so the request/response framing
// here is original scaffolding: a small text protocol over net.Conn,
// shaped after the pooled, lazily-dialed connection handles used by
// rclone's ftp/sftp-style remotes (dial once, reuse, redial on error).
package zdb

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/threefoldtech/gofl/backend"
	gflfs "github.com/threefoldtech/gofl/fs"
)

func init() {
	backend.Register("zdb", newFromURL)
}

func newFromURL(ctx context.Context, u *backend.StoreURL) (backend.Store, error) {
	namespace := strings.TrimPrefix(u.Raw.Path, "/")
	if namespace == "" {
		return nil, gflfs.NewConfigError("zdb: URL must name a namespace")
	}
	password := ""
	if u.Raw.User != nil {
		password, _ = u.Raw.User.Password()
	}
	return New(u.Raw.Host, namespace, password)
}

// Backend is the zdb keyed store.
type Backend struct {
	addr      string
	namespace string
	password  string

	mu   sync.Mutex
	conn net.Conn
	rw   *bufio.ReadWriter
}

// New returns a zdb backend dialed lazily against addr (host:port).
func New(addr, namespace, password string) (*Backend, error) {
	if addr == "" {
		return nil, gflfs.NewConfigError("zdb: URL must carry a host:port")
	}
	return &Backend{addr: addr, namespace: namespace, password: password}, nil
}

func (b *Backend) ensureConn() (*bufio.ReadWriter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rw != nil {
		return b.rw, nil
	}

	conn, err := net.DialTimeout("tcp", b.addr, 10*time.Second)
	if err != nil {
		return nil, gflfs.NewTransportError("zdb", errors.Wrapf(err, "dialing %s", b.addr))
	}
	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	if err := selectNamespace(rw, b.namespace, b.password); err != nil {
		conn.Close()
		return nil, err
	}

	b.conn, b.rw = conn, rw
	return rw, nil
}

func (b *Backend) invalidate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		b.conn.Close()
	}
	b.conn, b.rw = nil, nil
}

// selectNamespace issues the SELECT command zdb uses to switch the
// connection's active namespace before any key command is sent.
func selectNamespace(rw *bufio.ReadWriter, namespace, password string) error {
	cmd := fmt.Sprintf("SELECT %s", namespace)
	if password != "" {
		cmd += " " + password
	}
	if _, err := fmt.Fprintf(rw, "%s\r\n", cmd); err != nil {
		return gflfs.NewTransportError("zdb", errors.Wrap(err, "writing SELECT"))
	}
	if err := rw.Flush(); err != nil {
		return gflfs.NewTransportError("zdb", errors.Wrap(err, "flushing SELECT"))
	}
	line, err := rw.ReadString('\n')
	if err != nil {
		return gflfs.NewTransportError("zdb", errors.Wrap(err, "reading SELECT reply"))
	}
	if !strings.HasPrefix(line, "+OK") {
		return gflfs.NewConfigError("zdb: SELECT %s failed: %s", namespace, strings.TrimSpace(line))
	}
	return nil
}

// Get fetches the value stored under key id.
func (b *Backend) Get(ctx context.Context, id string) ([]byte, error) {
	rw, err := b.ensureConn()
	if err != nil {
		return nil, err
	}

	if _, err := fmt.Fprintf(rw, "GET %s\r\n", id); err != nil {
		b.invalidate()
		return nil, gflfs.NewTransportError("zdb", errors.Wrap(err, "writing GET"))
	}
	if err := rw.Flush(); err != nil {
		b.invalidate()
		return nil, gflfs.NewTransportError("zdb", errors.Wrap(err, "flushing GET"))
	}

	header, err := rw.ReadString('\n')
	if err != nil {
		b.invalidate()
		return nil, gflfs.NewTransportError("zdb", errors.Wrap(err, "reading GET header"))
	}
	header = strings.TrimRight(header, "\r\n")

	switch {
	case header == "-ENOENT":
		return nil, gflfs.NotFound
	case strings.HasPrefix(header, "$"):
		var n int
		if _, err := fmt.Sscanf(header, "$%d", &n); err != nil {
			b.invalidate()
			return nil, gflfs.NewTransportError("zdb", errors.Wrap(err, "parsing GET length"))
		}
		buf := make([]byte, n)
		if _, err := readFull(rw, buf); err != nil {
			b.invalidate()
			return nil, gflfs.NewTransportError("zdb", errors.Wrap(err, "reading GET body"))
		}
		// consume the trailing CRLF after the body
		if _, err := rw.ReadString('\n'); err != nil {
			b.invalidate()
			return nil, gflfs.NewTransportError("zdb", errors.Wrap(err, "reading GET trailer"))
		}
		return buf, nil
	default:
		b.invalidate()
		return nil, gflfs.NewTransportError("zdb", errors.Errorf("unexpected GET reply %q", header))
	}
}

func readFull(rw *bufio.ReadWriter, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := rw.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Set writes data under key id. Re-setting the same id is a no-op: zdb's
// append-only log treats a write of identical content as idempotent from
// the caller's perspective because the blob codec's ids are content
// hashes, so two writers racing to Set the same id always agree on bytes.
func (b *Backend) Set(ctx context.Context, id string, data []byte) error {
	rw, err := b.ensureConn()
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(rw, "SET %s %d\r\n", id, len(data)); err != nil {
		b.invalidate()
		return gflfs.NewTransportError("zdb", errors.Wrap(err, "writing SET header"))
	}
	if _, err := rw.Write(data); err != nil {
		b.invalidate()
		return gflfs.NewTransportError("zdb", errors.Wrap(err, "writing SET body"))
	}
	if _, err := rw.Write([]byte("\r\n")); err != nil {
		b.invalidate()
		return gflfs.NewTransportError("zdb", errors.Wrap(err, "writing SET trailer"))
	}
	if err := rw.Flush(); err != nil {
		b.invalidate()
		return gflfs.NewTransportError("zdb", errors.Wrap(err, "flushing SET"))
	}

	reply, err := rw.ReadString('\n')
	if err != nil {
		b.invalidate()
		return gflfs.NewTransportError("zdb", errors.Wrap(err, "reading SET reply"))
	}
	if !strings.HasPrefix(reply, "+OK") {
		return gflfs.NewTransportError("zdb", errors.Errorf("SET %s failed: %s", id, strings.TrimSpace(reply)))
	}
	return nil
}

// Routes declares full 00-FF coverage.
func (b *Backend) Routes() [][2]byte { return [][2]byte{{0x00, 0xff}} }

func (b *Backend) String() string {
	u := &url.URL{Scheme: "zdb", Host: b.addr, Path: "/" + b.namespace}
	return u.String()
}

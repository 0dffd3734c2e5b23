package zdb

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gflfs "github.com/threefoldtech/gofl/fs"
)

// fakeServer speaks just enough of the zdb text protocol to exercise the
// client: SELECT always succeeds, SET stores in memory, GET replies with
// either the stored value or -ENOENT.
func fakeServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	store := map[string][]byte{}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

		for {
			line, err := rw.ReadString('\n')
			if err != nil {
				return
			}
			line = strings.TrimRight(line, "\r\n")
			fields := strings.Fields(line)
			if len(fields) == 0 {
				continue
			}
			switch fields[0] {
			case "SELECT":
				fmt.Fprintf(rw, "+OK\r\n")
				rw.Flush()
			case "GET":
				val, ok := store[fields[1]]
				if !ok {
					fmt.Fprintf(rw, "-ENOENT\r\n")
				} else {
					fmt.Fprintf(rw, "$%d\r\n", len(val))
					rw.Write(val)
					rw.Write([]byte("\r\n"))
				}
				rw.Flush()
			case "SET":
				var n int
				fmt.Sscanf(fields[2], "%d", &n)
				buf := make([]byte, n)
				readFullTest(rw, buf)
				rw.ReadString('\n')
				store[fields[1]] = buf
				fmt.Fprintf(rw, "+OK\r\n")
				rw.Flush()
			}
		}
	}()

	return ln.Addr().String()
}

func readFullTest(rw *bufio.ReadWriter, buf []byte) {
	total := 0
	for total < len(buf) {
		n, _ := rw.Read(buf[total:])
		if n == 0 {
			return
		}
		total += n
	}
}

func TestSetThenGetRoundTrip(t *testing.T) {
	addr := fakeServer(t)
	b, err := New(addr, "ns", "")
	require.NoError(t, err)

	ctx := context.Background()
	id := "abcd112233445566"
	require.NoError(t, b.Set(ctx, id, []byte("ciphertext")))

	got, err := b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), got)
}

func TestGetMissingIsNotFound(t *testing.T) {
	addr := fakeServer(t)
	b, err := New(addr, "ns", "")
	require.NoError(t, err)

	_, err = b.Get(context.Background(), "0011223344556677")
	assert.ErrorIs(t, err, gflfs.NotFound)
}

func TestNewRejectsEmptyAddr(t *testing.T) {
	_, err := New("", "ns", "")
	assert.Error(t, err)
}

func TestRoutesFullRange(t *testing.T) {
	b, err := New("127.0.0.1:9900", "ns", "")
	require.NoError(t, err)
	assert.Equal(t, [][2]byte{{0x00, 0xff}}, b.Routes())
}

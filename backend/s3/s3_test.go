package s3

import (
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gflbackend "github.com/threefoldtech/gofl/backend"
	gflfs "github.com/threefoldtech/gofl/fs"
)

// fakeS3 is a minimal s3iface.S3API stand-in backed by an in-memory map,
// enough to exercise Get/Set without a real network.
type fakeS3 struct {
	s3iface.S3API
	objects map[string][]byte
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	buf := make([]byte, 0)
	b := make([]byte, 32*1024)
	for {
		n, err := in.Body.Read(b)
		buf = append(buf, b[:n]...)
		if err != nil {
			break
		}
	}
	f.objects[*in.Key] = buf
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "not found", nil)
	}
	return &s3.GetObjectOutput{Body: &readCloser{data}}, nil
}

type readCloser struct{ data []byte }

func (r *readCloser) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}
func (r *readCloser) Close() error { return nil }

func newTestBackend() *Backend {
	return &Backend{client: newFakeS3(), bucket: "gofl-test", opt: Options{AccessKey: "ak"}}
}

func TestSetThenGetRoundTrip(t *testing.T) {
	b := newTestBackend()
	ctx := context.Background()
	id := "abcd112233445566"

	require.NoError(t, b.Set(ctx, id, []byte("ciphertext")))
	got, err := b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), got)
}

func TestGetMissingIsNotFound(t *testing.T) {
	b := newTestBackend()
	_, err := b.Get(context.Background(), "0011223344556677")
	assert.ErrorIs(t, err, gflfs.NotFound)
}

func TestObjectKeyMatchesLayout(t *testing.T) {
	key, err := gflbackend.ObjectKey("abcd112233445566")
	require.NoError(t, err)
	assert.Equal(t, "ab/cd112233445566", key)
}

func TestRoutesFullRange(t *testing.T) {
	b := newTestBackend()
	assert.Equal(t, [][2]byte{{0x00, 0xff}}, b.Routes())
}

func TestStringRedactsSecret(t *testing.T) {
	b := newTestBackend()
	b.opt.SecretKey = "secret"
	assert.NotContains(t, b.String(), "secret")
	assert.Contains(t, b.String(), "gofl-test")
}

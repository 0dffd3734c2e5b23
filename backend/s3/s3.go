// Package s3 implements the S3 store backend (spec.md §4.2 "S3
// backend"): id maps to the object key <first-two-hex>/<rest-hex> under
// a bucket, credentials come from the URL userinfo, and region is an
// optional query parameter (spec.md §6). Session/credential
// construction follows backend/s3/s3.go's session.NewSessionWithOptions
// + credentials.NewStaticCredentials idiom.
package s3

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"

	gflbackend "github.com/threefoldtech/gofl/backend"
	gflfs "github.com/threefoldtech/gofl/fs"
)

func init() {
	gflbackend.Register("s3", newFromURL)
}

func newFromURL(ctx context.Context, u *gflbackend.StoreURL) (gflbackend.Store, error) {
	raw := u.Raw
	if raw.User == nil {
		return nil, gflfs.NewConfigError("s3: URL must carry access/secret in userinfo")
	}
	accessKey := raw.User.Username()
	secretKey, _ := raw.User.Password()
	bucket := strings.Trim(raw.Path, "/")
	if bucket == "" {
		return nil, gflfs.NewConfigError("s3: URL must name a bucket")
	}
	region := raw.Query().Get("region")
	endpoint := ""
	if raw.Host != "" && raw.Host != "s3.amazonaws.com" {
		endpoint = "https://" + raw.Host
	}

	return New(Options{
		AccessKey: accessKey,
		SecretKey: secretKey,
		Bucket:    bucket,
		Region:    region,
		Endpoint:  endpoint,
	})
}

// Options configures a Backend.
type Options struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Endpoint  string
}

// Backend is the S3 object store.
type Backend struct {
	client s3iface.S3API
	bucket string
	opt    Options
}

// New constructs a Backend from opt.
func New(opt Options) (*Backend, error) {
	if opt.Region == "" {
		opt.Region = "us-east-1"
	}
	cred := credentials.NewStaticCredentials(opt.AccessKey, opt.SecretKey, "")
	cfg := aws.NewConfig().
		WithCredentials(cred).
		WithRegion(opt.Region).
		WithS3ForcePathStyle(true)
	if opt.Endpoint != "" {
		cfg = cfg.WithEndpoint(opt.Endpoint)
	}

	sess, err := session.NewSessionWithOptions(session.Options{Config: *cfg})
	if err != nil {
		return nil, errors.Wrap(err, "s3: creating session")
	}

	return &Backend{client: s3.New(sess), bucket: opt.Bucket, opt: opt}, nil
}

func (b *Backend) key(id string) (string, error) {
	return gflbackend.ObjectKey(id)
}

// Get fetches the object named by id.
func (b *Backend) Get(ctx context.Context, id string) ([]byte, error) {
	key, err := b.key(id)
	if err != nil {
		return nil, err
	}
	out, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok {
			switch aerr.Code() {
			case s3.ErrCodeNoSuchKey, "NotFound":
				return nil, gflfs.NotFound
			}
		}
		return nil, gflfs.NewTransportError("s3", errors.Wrapf(err, "GetObject %s", key))
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, gflfs.NewTransportError("s3", errors.Wrap(err, "reading object body"))
	}
	return data, nil
}

// Set uploads data under id. S3 PutObject is naturally idempotent for a
// fixed key/value, satisfying spec.md §4.2's idempotency requirement.
func (b *Backend) Set(ctx context.Context, id string, data []byte) error {
	key, err := b.key(id)
	if err != nil {
		return err
	}
	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return gflfs.NewTransportError("s3", errors.Wrapf(err, "PutObject %s", key))
	}
	return nil
}

// Routes declares full 00-FF coverage.
func (b *Backend) Routes() [][2]byte { return [][2]byte{{0x00, 0xff}} }

func (b *Backend) String() string {
	u := &url.URL{Scheme: "s3", User: url.User(b.opt.AccessKey), Host: b.opt.Endpoint, Path: "/" + b.bucket}
	return u.String()
}

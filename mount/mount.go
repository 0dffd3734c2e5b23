package mount

import (
	"context"

	"github.com/jacobsa/fuse"
	"github.com/pkg/errors"

	"github.com/threefoldtech/gofl/fs/fslog"
	"github.com/threefoldtech/gofl/fs/meta"
	"github.com/threefoldtech/gofl/pool"
)

// Mount attaches a read-only view of m onto dir, resolving block
// content through p, and returns as soon as the mount is live. Call
// Join on the returned file system to block until it is unmounted (via
// Unmount or an external umount(8)/fusermount -u). Grounded on
// GoogleCloudPlatform-gcsfuse/cmd/mount.go's NewServer-then-fuse.Mount
// sequence, trimmed to the options a read-only single-tenant mount
// actually needs.
func Mount(ctx context.Context, dir string, m *meta.Store, p *pool.Pool, opt Options) (*fuse.MountedFileSystem, error) {
	server := New(m, p, opt)

	cfg := &fuse.MountConfig{
		FSName:     "gofl",
		Subtype:    "gofl",
		VolumeName: "gofl",
		ReadOnly:   true,
		Options:    map[string]string{"allow_other": ""},
	}

	fslog.Infof(dir, "mount: mounting %s", dir)
	mfs, err := fuse.Mount(dir, server, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "mount: mounting %s", dir)
	}
	return mfs, nil
}

// Unmount detaches the file system mounted at dir. It is safe to call
// even if nothing is mounted there; the underlying umount(8) failure
// is returned unwrapped so callers can distinguish "not mounted".
func Unmount(dir string) error {
	return fuse.Unmount(dir)
}

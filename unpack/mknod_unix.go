//go:build linux

package unpack

import (
	"os"

	"golang.org/x/sys/unix"
)

func mknod(path string, mode os.FileMode, rdev uint64) error {
	sysMode := uint32(mode.Perm())
	switch {
	case mode&os.ModeCharDevice != 0:
		sysMode |= unix.S_IFCHR
	case mode&os.ModeDevice != 0:
		sysMode |= unix.S_IFBLK
	case mode&os.ModeNamedPipe != 0:
		sysMode |= unix.S_IFIFO
	case mode&os.ModeSocket != 0:
		sysMode |= unix.S_IFSOCK
	}
	return unix.Mknod(path, sysMode, int(rdev))
}

package fs

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSpecialCoversAllFourKinds(t *testing.T) {
	cases := []struct {
		name string
		mode os.FileMode
	}{
		{"block device", os.ModeDevice | 0644},
		{"char device", os.ModeDevice | os.ModeCharDevice | 0644},
		{"named pipe", os.ModeNamedPipe | 0644},
		{"socket", os.ModeSocket | 0644},
	}
	for _, c := range cases {
		in := &Inode{Mode: c.mode}
		assert.True(t, in.IsSpecial(), c.name)
	}
}

func TestIsDeviceExcludesFifoAndSocket(t *testing.T) {
	assert.False(t, (&Inode{Mode: os.ModeNamedPipe | 0644}).IsDevice())
	assert.False(t, (&Inode{Mode: os.ModeSocket | 0644}).IsDevice())
	assert.True(t, (&Inode{Mode: os.ModeDevice | 0644}).IsDevice())
}

func TestIsSpecialFalseForRegularAndDir(t *testing.T) {
	assert.False(t, (&Inode{Mode: 0644}).IsSpecial())
	assert.False(t, (&Inode{Mode: os.ModeDir | 0755}).IsSpecial())
	assert.False(t, (&Inode{Mode: os.ModeSymlink | 0777}).IsSpecial())
}

//go:build linux
// +build linux

package window

import (
	"os"

	"golang.org/x/sys/unix"
)

// Linux: sequential access hint
func advise(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
}

//go:build !linux
// +build !linux

package window

import "os"

func advise(_ *os.File) {}

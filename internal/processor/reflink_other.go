//go:build !linux
// +build !linux

package processor

import (
	"io"
	"os"
)

// reflinkOrCopy falls back to a plain byte-for-byte copy on platforms
// without a supported reflink ioctl (Windows, Darwin, and any other
// non-Linux target).
func reflinkOrCopy(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

package processor

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// reflinkOrCopy attempts a copy-on-write clone via the FICLONE ioctl
// (supported on Btrfs and XFS), falling back to a plain byte-for-byte copy
// when the underlying filesystem doesn't support it.
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

	if err := unix.IoctlFileClone(int(out.Fd()), int(in.Fd())); err == nil {
		return nil
	}

	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := out.Truncate(0); err != nil {
		return err
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	return err
}

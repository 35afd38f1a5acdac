package processor

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// refCountedDir is a temp directory kept alive as long as any outstanding
// move job references files inside it. The last consumer to release it
// removes the directory tree.
type refCountedDir struct {
	Path string

	mu   sync.Mutex
	refs int
}

func newRefCountedDir(path string, initialRefs int) *refCountedDir {
	return &refCountedDir{Path: path, refs: initialRefs}
}

// Release decrements the reference count and removes the directory once it
// reaches zero.
func (d *refCountedDir) Release() error {
	d.mu.Lock()
	d.refs--
	done := d.refs <= 0
	d.mu.Unlock()

	if !done {
		return nil
	}
	if err := os.RemoveAll(d.Path); err != nil {
		return errors.Wrapf(err, "unable to remove scratch directory %q", d.Path)
	}
	return nil
}

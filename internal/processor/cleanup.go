package processor

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// CleanupPhase sweeps the output tree, removing anything not declared as a
// directive destination, then removes the staging directories the earlier
// phases left behind (TEMP_BSA_FILES, the extraction scratch root, and the
// BSA/BA2 working cache under the downloads directory) along with any
// directory the sweep emptied out. The downloads directory's own archive
// files are never touched even when the directory happens to sit inside
// the output tree.
func (p *Processor) CleanupPhase() error {
	logger := p.Logger.Sublogger("cleanup")
	logger.Banner("Cleanup")

	destinations, err := p.Store.ListAllDestinations()
	if err != nil {
		return err
	}

	expected := make(map[string]bool, len(destinations))
	for _, d := range destinations {
		expected[p.outputPath(d)] = true
	}

	protected, err := protectedPrefix(p.DownloadsDir)
	if err != nil {
		logger.Warn(err)
		protected = ""
	}

	removed, err := p.sweepUnexpected(p.OutputDir, expected, protected)
	if err != nil {
		return err
	}
	if removed > 0 {
		logger.Infof("removed %d unexpected file(s) from the output tree", removed)
	}

	if err := pruneEmptyDirs(p.OutputDir, protected); err != nil {
		logger.Warn(err)
	}

	os.RemoveAll(p.stagingRoot())
	os.RemoveAll(p.scratchRoot())
	os.RemoveAll(p.bsaWorkingRoot())

	return nil
}

// protectedPrefix resolves dir to an absolute, cleaned path suitable for a
// prefix comparison against candidate removal paths. An empty dir (no
// downloads directory configured) yields no protection.
func protectedPrefix(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", errors.Wrapf(err, "unable to resolve downloads directory %q", dir)
	}
	return filepath.Clean(abs), nil
}

func isProtected(path, protected string) bool {
	if protected == "" {
		return false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	abs = filepath.Clean(abs)
	return abs == protected || strings.HasPrefix(abs, protected+string(filepath.Separator))
}

// sweepUnexpected walks root, deleting any regular file whose path isn't in
// expected. Directories are left for pruneEmptyDirs to remove once they are
// actually empty.
func (p *Processor) sweepUnexpected(root string, expected map[string]bool, protected string) (int, error) {
	removed := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			if isProtected(path, protected) {
				return filepath.SkipDir
			}
			return nil
		}
		if expected[path] {
			return nil
		}
		if isProtected(path, protected) {
			return nil
		}
		if strings.HasPrefix(filepath.Base(filepath.Dir(path)), "TEMP_BSA_FILES") ||
			filepath.Base(filepath.Dir(path)) == ".modforge_scratch" {
			return nil
		}
		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "unable to remove unexpected file %q", path)
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, err
	}
	return removed, nil
}

// pruneEmptyDirs removes every directory under root that is (or, after
// deeper directories are removed, becomes) empty, bottom-up, skipping the
// protected prefix entirely.
func pruneEmptyDirs(root, protected string) error {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if isProtected(path, protected) {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	if err != nil {
		return err
	}

	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	for _, dir := range dirs {
		if dir == root {
			continue
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		if len(entries) == 0 {
			os.Remove(dir)
		}
	}
	return nil
}

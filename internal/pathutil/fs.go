package pathutil

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// EnsureParentDirs creates every missing parent directory of path. If
// directory creation fails because a non-directory entry (including a
// broken symlink left over from a crashed run) blocks one of the path
// components, that entry is removed and creation is retried. Safe to call
// concurrently for overlapping paths.
func EnsureParentDirs(path string) error {
	parent := filepath.Dir(path)
	return EnsureDir(parent)
}

// EnsureDir creates dir and all of its missing ancestors, clearing any
// blocking non-directory component it encounters along the way.
func EnsureDir(dir string) error {
	if dir == "" || dir == "." || dir == string(filepath.Separator) {
		return nil
	}

	if info, err := os.Lstat(dir); err == nil {
		if info.IsDir() {
			return nil
		}
		// A file (or broken symlink) sits where a directory must now exist.
		// Use non-dereferencing Lstat above so a dangling symlink is caught
		// without also failing on a symlink that happens to point at a
		// directory.
		if info.Mode()&os.ModeSymlink != 0 {
			if target, statErr := os.Stat(dir); statErr == nil && target.IsDir() {
				return nil
			}
		}
		if err := os.Remove(dir); err != nil {
			return errors.Wrapf(err, "unable to remove blocking non-directory entry at %q", dir)
		}
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "unable to stat %q", dir)
	}

	if err := EnsureDir(filepath.Dir(dir)); err != nil {
		return err
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		if os.IsExist(err) {
			// Another goroutine won the race; verify it actually created a
			// directory rather than leaving a conflicting file.
			if info, statErr := os.Lstat(dir); statErr == nil && info.IsDir() {
				return nil
			}
			return EnsureDir(dir)
		}
		return errors.Wrapf(err, "unable to create directory %q", dir)
	}

	return nil
}

// ResolveCaseInsensitive walks relative's Windows-style path components
// beneath base, matching each one against the actual directory entries
// case-insensitively, and returns the path with original on-disk casing. It
// is used to locate "GameFileSource" archives inside the read-only game
// directory, where the manifest's recorded casing may not match disk.
func ResolveCaseInsensitive(base, relative string) (string, error) {
	current := base
	relative = strings.ReplaceAll(relative, `\`, "/")
	for _, component := range strings.Split(strings.Trim(relative, "/"), "/") {
		if component == "" {
			continue
		}
		entries, err := os.ReadDir(current)
		if err != nil {
			return "", errors.Wrapf(err, "unable to list %q", current)
		}
		match := ""
		lowerComponent := strings.ToLower(component)
		for _, entry := range entries {
			if strings.ToLower(entry.Name()) == lowerComponent {
				match = entry.Name()
				break
			}
		}
		if match == "" {
			return "", errors.Errorf("path component %q not found under %q", component, current)
		}
		current = filepath.Join(current, match)
	}
	return current, nil
}

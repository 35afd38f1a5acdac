package archive

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/wj-modforge/modforge/internal/pathutil"
)

// wholeFileReader implements Reader for the degenerate case where the
// archive itself is the single source file (an ArchiveHashPath of length
// 1). Its sole entry is the file itself.
type wholeFileReader struct {
	path string
	size int64
}

func openWholeFile(path string) (Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to stat %q", path)
	}
	return &wholeFileReader{path: path, size: info.Size()}, nil
}

func (w *wholeFileReader) List() ([]Entry, error) {
	return []Entry{{Path: filepath.Base(w.path), Size: w.size}}, nil
}

func (w *wholeFileReader) ExtractFile(requested string) ([]byte, error) {
	return os.ReadFile(w.path)
}

func (w *wholeFileReader) ExtractMany(paths []string, outDir string, _ int) (map[string]string, error) {
	result := make(map[string]string, len(paths))
	for _, p := range paths {
		dest, err := w.copyInto(outDir)
		if err != nil {
			return nil, err
		}
		result[p] = dest
	}
	return result, nil
}

func (w *wholeFileReader) ExtractAll(outDir string, _ int) (map[string]string, error) {
	dest, err := w.copyInto(outDir)
	if err != nil {
		return nil, err
	}
	return map[string]string{pathutil.NormalizeForLookup(filepath.Base(w.path)): dest}, nil
}

func (w *wholeFileReader) copyInto(outDir string) (string, error) {
	dest := filepath.Join(outDir, filepath.Base(w.path))
	if err := pathutil.EnsureDir(outDir); err != nil {
		return "", err
	}
	src, err := os.Open(w.path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to open %q", w.path)
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return "", errors.Wrapf(err, "unable to create %q", dest)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", errors.Wrapf(err, "unable to copy %q to %q", w.path, dest)
	}
	return dest, nil
}

func (w *wholeFileReader) Close() error { return nil }

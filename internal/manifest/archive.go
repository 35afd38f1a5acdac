package manifest

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Reader opens a manifest archive (a ZIP containing a "modlist" entry plus
// one entry per inline/delta blob, named by UUID) and serves blob lookups.
// The default reader is shared and mutex-guarded; callers that need to
// avoid contention on a hot path (concurrent patch-blob preloading) may
// open additional private readers via Open.
type Reader struct {
	path string
	mu   sync.Mutex
	zr   *zip.ReadCloser
}

// Open opens the manifest archive at path. Callers should Close it when
// done.
func Open(path string) (*Reader, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open manifest archive %q", path)
	}
	return &Reader{path: path, zr: zr}, nil
}

// Path returns the filesystem path this reader was opened from.
func (r *Reader) Path() string {
	return r.path
}

// Close releases the underlying ZIP file handle.
func (r *Reader) Close() error {
	return r.zr.Close()
}

// ReadModlist locates and parses the embedded "modlist" JSON entry.
func (r *Reader) ReadModlist() (*Modlist, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.zr.File {
		if f.Name == "modlist" {
			rc, err := f.Open()
			if err != nil {
				return nil, errors.Wrap(err, "unable to open modlist entry")
			}
			defer rc.Close()

			var modlist Modlist
			if err := json.NewDecoder(rc).Decode(&modlist); err != nil {
				return nil, errors.Wrap(err, "unable to parse modlist JSON")
			}
			return &modlist, nil
		}
	}
	return nil, errors.New("manifest archive has no 'modlist' entry")
}

// ReadBlob returns the bytes of the blob named by id (a SourceDataID or
// PatchID UUID).
func (r *Reader) ReadBlob(id string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.zr.File {
		if f.Name == id {
			rc, err := f.Open()
			if err != nil {
				return nil, errors.Wrapf(err, "unable to open blob %q", id)
			}
			defer rc.Close()
			data, err := io.ReadAll(rc)
			if err != nil {
				return nil, errors.Wrapf(err, "unable to read blob %q", id)
			}
			return data, nil
		}
	}
	return nil, errors.Errorf("manifest archive has no blob %q", id)
}

// OpenBlob returns a streaming reader for the blob named by id, for callers
// (the patch phase) that want to stream a delta rather than buffer it.
func (r *Reader) OpenBlob(id string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, f := range r.zr.File {
		if f.Name == id {
			return f.Open()
		}
	}
	return nil, errors.Errorf("manifest archive has no blob %q", id)
}

// Fingerprint reports the manifest archive's size and modification time on
// disk, used to detect a changed manifest and trigger a full re-import.
func Fingerprint(path string) (size int64, mtimeUnix int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, errors.Wrapf(err, "unable to stat manifest archive %q", path)
	}
	return info.Size(), info.ModTime().Unix(), nil
}

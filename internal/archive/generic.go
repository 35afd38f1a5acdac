package archive

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"

	"github.com/bodgit/sevenzip"
	rardecode "github.com/nwaples/rardecode/v2"
	"github.com/pkg/errors"

	"github.com/wj-modforge/modforge/internal/pathutil"
)

// genericReader implements Reader over ZIP, 7z, and RAR archives, read
// with in-process Go libraries rather than shelling out to an external
// tool.
type genericReader struct {
	path   string
	family Family

	zr *zip.ReadCloser
	sz *sevenzip.ReadCloser
}

func openGeneric(path string, family Family) (Reader, error) {
	switch family {
	case FamilyZip:
		zr, err := zip.OpenReader(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to open %q as zip", path)
		}
		return &genericReader{path: path, family: family, zr: zr}, nil
	case FamilySevenZip:
		sz, err := sevenzip.OpenReader(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to open %q as 7z", path)
		}
		return &genericReader{path: path, family: family, sz: sz}, nil
	case FamilyRar:
		// RAR has no persistent handle to hold open: each list/extract
		// operation opens a fresh sequential reader, since the format does
		// not support efficient random access to an arbitrary member.
		return &genericReader{path: path, family: family}, nil
	default:
		return nil, errors.Errorf("openGeneric: unsupported family %s", family)
	}
}

func (g *genericReader) List() ([]Entry, error) {
	switch g.family {
	case FamilyZip:
		entries := make([]Entry, 0, len(g.zr.File))
		for _, f := range g.zr.File {
			entries = append(entries, Entry{Path: decodeZipName(f), Size: int64(f.UncompressedSize64)})
		}
		return entries, nil
	case FamilySevenZip:
		entries := make([]Entry, 0, len(g.sz.File))
		for _, f := range g.sz.File {
			if f.FileInfo().IsDir() {
				continue
			}
			entries = append(entries, Entry{Path: f.Name, Size: int64(f.UncompressedSize)})
		}
		return entries, nil
	case FamilyRar:
		return g.listRar()
	default:
		return nil, errUnsupportedFamily
	}
}

func (g *genericReader) listRar() ([]Entry, error) {
	rr, err := rardecode.OpenReader(g.path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %q as rar", g.path)
	}
	defer rr.Close()

	var entries []Entry
	for {
		hdr, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read rar directory of %q", g.path)
		}
		if hdr.IsDir {
			continue
		}
		entries = append(entries, Entry{Path: hdr.Name, Size: hdr.UnPackedSize})
	}
	return entries, nil
}

// ExtractFile returns a single member's bytes, matched case-insensitively.
func (g *genericReader) ExtractFile(requested string) ([]byte, error) {
	want := pathutil.NormalizeForLookup(requested)

	switch g.family {
	case FamilyZip:
		for _, f := range g.zr.File {
			if pathutil.NormalizeForLookup(decodeZipName(f)) == want {
				rc, err := f.Open()
				if err != nil {
					return nil, errors.Wrapf(err, "unable to open %q in %q", f.Name, g.path)
				}
				defer rc.Close()
				return io.ReadAll(rc)
			}
		}
	case FamilySevenZip:
		for _, f := range g.sz.File {
			if pathutil.NormalizeForLookup(f.Name) == want {
				rc, err := f.Open()
				if err != nil {
					return nil, errors.Wrapf(err, "unable to open %q in %q", f.Name, g.path)
				}
				defer rc.Close()
				return io.ReadAll(rc)
			}
		}
	case FamilyRar:
		rr, err := rardecode.OpenReader(g.path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to open %q as rar", g.path)
		}
		defer rr.Close()
		for {
			hdr, err := rr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.Wrapf(err, "unable to read rar directory of %q", g.path)
			}
			if pathutil.NormalizeForLookup(hdr.Name) == want {
				return io.ReadAll(rr)
			}
		}
	}
	return nil, errors.Errorf("%q not found in %q (case-insensitive)", requested, g.path)
}

// ExtractMany extracts exactly the requested paths to outDir. Callers only
// invoke this when the wanted-count is within the selective extraction
// threshold.
func (g *genericReader) ExtractMany(paths []string, outDir string, threadsHint int) (map[string]string, error) {
	wanted := make(map[string]string, len(paths)) // normalized -> requested
	for _, p := range paths {
		wanted[pathutil.NormalizeForLookup(p)] = p
	}
	return g.extract(outDir, wanted, threadsHint)
}

// ExtractAll extracts every member to outDir.
func (g *genericReader) ExtractAll(outDir string, threadsHint int) (map[string]string, error) {
	return g.extract(outDir, nil, threadsHint)
}

// extract performs the shared extraction loop. If wanted is nil, every
// member is extracted; otherwise only members whose normalized path is a
// key of wanted are. The returned map is keyed by the same string the
// caller used to request the file (or by normalized in-archive path for a
// full extraction).
func (g *genericReader) extract(outDir string, wanted map[string]string, threadsHint int) (map[string]string, error) {
	if err := pathutil.EnsureDir(outDir); err != nil {
		return nil, err
	}

	result := make(map[string]string)
	writeOne := func(name string, r io.Reader) error {
		normalized := pathutil.NormalizeForLookup(name)
		key, ok := name, true
		if wanted != nil {
			key, ok = wanted[normalized]
			if !ok {
				return nil
			}
		} else {
			key = normalized
		}

		// Sanitize against a buggy/malicious extractor yielding a path
		// that escapes outDir via "..": confirm the resolved destination
		// stays under outDir.
		dest := filepath.Join(outDir, filepath.FromSlash(normalized))
		destAbs, err := filepath.Abs(dest)
		if err != nil {
			return errors.Wrapf(err, "unable to resolve destination for %q", name)
		}
		outDirAbs, err := filepath.Abs(outDir)
		if err != nil {
			return err
		}
		if rel, err := filepath.Rel(outDirAbs, destAbs); err != nil || rel == ".." || len(rel) >= 2 && rel[:2] == ".." {
			return errors.Errorf("archive entry %q escapes extraction directory", name)
		}

		if err := pathutil.EnsureParentDirs(dest); err != nil {
			return err
		}
		out, err := os.Create(dest)
		if err != nil {
			return errors.Wrapf(err, "unable to create %q", dest)
		}
		defer out.Close()
		if _, err := io.Copy(out, r); err != nil {
			return errors.Wrapf(err, "unable to extract %q", name)
		}
		result[key] = dest
		return nil
	}

	switch g.family {
	case FamilyZip:
		for _, f := range g.zr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, errors.Wrapf(err, "unable to open %q in %q", f.Name, g.path)
			}
			err = writeOne(decodeZipName(f), rc)
			rc.Close()
			if err != nil {
				return nil, err
			}
		}
	case FamilySevenZip:
		for _, f := range g.sz.File {
			if f.FileInfo().IsDir() {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, errors.Wrapf(err, "unable to open %q in %q", f.Name, g.path)
			}
			err = writeOne(f.Name, rc)
			rc.Close()
			if err != nil {
				return nil, err
			}
		}
	case FamilyRar:
		rr, err := rardecode.OpenReader(g.path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to open %q as rar", g.path)
		}
		defer rr.Close()
		for {
			hdr, err := rr.Next()
			if err == io.EOF {
				break
			}
			if err != nil {
				return nil, errors.Wrapf(err, "unable to read rar directory of %q", g.path)
			}
			if hdr.IsDir {
				continue
			}
			if err := writeOne(hdr.Name, rr); err != nil {
				return nil, err
			}
		}
	}

	return result, nil
}

func (g *genericReader) Close() error {
	if g.zr != nil {
		return g.zr.Close()
	}
	if g.sz != nil {
		return g.sz.Close()
	}
	return nil
}

// decodeZipName returns the best-effort UTF-8 name of a zip entry,
// falling back to CP437 decoding for legacy filenames that predate the
// UTF-8 flag.
func decodeZipName(f *zip.File) string {
	if f.NonUTF8 {
		if raw, err := zipRawName(f); err == nil {
			return pathutil.DecodeArchiveName(raw)
		}
	}
	return f.Name
}

// zipRawName recovers the original (possibly non-UTF-8) bytes of a zip
// entry's name. The standard library only exposes the decoded name, so
// when NonUTF8 is set we re-decode assuming the stdlib used CP437/Latin-1
// verbatim passthrough for the high bytes, which is what it does for
// names outside the UTF-8 flag.
func zipRawName(f *zip.File) ([]byte, error) {
	raw := make([]byte, len(f.Name))
	for i := 0; i < len(f.Name); i++ {
		raw[i] = byte(f.Name[i])
	}
	return raw, nil
}

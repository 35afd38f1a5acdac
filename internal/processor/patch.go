package processor

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wj-modforge/modforge/internal/archive"
	"github.com/wj-modforge/modforge/internal/delta"
	"github.com/wj-modforge/modforge/internal/hashutil"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/pathutil"
	"github.com/wj-modforge/modforge/internal/store"
)

// patchJob pairs a stored PatchedFromArchive directive with its decoded
// payload.
type patchJob struct {
	directive store.Directive
	payload   manifest.PatchedFromArchiveDirective
}

// PatchPhase handles PatchedFromArchive directives: locate or extract a
// basis file, apply its delta, and write the result straight to the
// destination.
func (p *Processor) PatchPhase(ctx context.Context) error {
	logger := p.Logger.Sublogger("patch")
	logger.Banner("Patch")

	pending, err := p.Store.ListPendingByType(manifest.KindPatchedFromArchive)
	if err != nil {
		return err
	}

	verifiedBasis, err := p.Store.LoadVerifiedBasis(p.ModlistName)
	if err != nil {
		return err
	}

	var jobs []patchJob
	for _, d := range pending {
		skipped, err := p.preFilterSkip(d.ID, d.Destination, d.ExpectedSize)
		if err != nil {
			return err
		}
		if skipped {
			continue
		}
		payload, err := decodePatchedFromArchive(d)
		if err != nil {
			p.failDirective(logger, d.ID, d.ArchiveHash, err)
			continue
		}
		jobs = append(jobs, patchJob{directive: d, payload: payload})
	}
	if len(jobs) == 0 {
		return nil
	}

	groups := make(map[string][]patchJob)
	for _, j := range jobs {
		groups[j.payload.ArchiveHashPath[0]] = append(groups[j.payload.ArchiveHashPath[0]], j)
	}

	var preloaded map[string][]byte
	if p.Config.PreloadPatchBlobs {
		preloaded, err = p.preloadPatchBlobs(jobs)
		if err != nil {
			logger.Warn(errors.Wrap(err, "unable to preload patch blobs, falling back to on-demand reads"))
			preloaded = nil
		}
	}

	for archiveHash, group := range groups {
		if err := p.patchArchiveGroup(ctx, logger, archiveHash, group, verifiedBasis, preloaded); err != nil {
			return err
		}
	}
	return nil
}

// preloadPatchBlobs fetches every needed delta blob through a private
// manifest reader, so the apply step below doesn't contend on the shared
// reader's mutex.
func (p *Processor) preloadPatchBlobs(jobs []patchJob) (map[string][]byte, error) {
	reader, err := manifest.Open(p.Manifest.Path())
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	out := make(map[string][]byte, len(jobs))
	for _, j := range jobs {
		data, err := reader.ReadBlob(j.payload.PatchID)
		if err != nil {
			return nil, err
		}
		out[j.payload.PatchID] = data
	}
	return out, nil
}

func (p *Processor) patchArchiveGroup(ctx context.Context, logger *logging.Logger, archiveHash string, jobs []patchJob, verifiedBasis map[string]store.PatchBasisRecord, preloaded map[string][]byte) error {
	var needExtraction []patchJob
	resolvedBasis := make(map[int64]string) // directiveID -> local basis path

	for _, j := range jobs {
		key1 := store.BasisKey(j.payload.ArchiveHashPath...)
		if rec, ok := verifiedBasis[key1]; ok && p.basisMatchesFromHash(rec, j.payload.FromHash) {
			resolvedBasis[j.directive.ID] = rec.LocalOutputPath
			continue
		}
		needExtraction = append(needExtraction, j)
	}

	if len(needExtraction) > 0 {
		extractedBasis, err := p.extractPatchBasisSources(archiveHash, needExtraction)
		if err != nil {
			for _, j := range needExtraction {
				p.failDirective(logger, j.directive.ID, archiveHash, err)
			}
		} else {
			for id, path := range extractedBasis {
				resolvedBasis[id] = path
			}
		}
	}

	g, _ := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.Workers)
	for _, j := range jobs {
		j := j
		basisPath, ok := resolvedBasis[j.directive.ID]
		if !ok {
			continue
		}
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			p.applyPatch(logger, j, basisPath, preloaded)
			return nil
		})
	}
	return g.Wait()
}

// basisMatchesFromHash applies the optional final check described for the
// patch-basis cache: when the directive carries a from_hash, the basis's
// full cryptographic hash must match it (memoized per path/size/mtime so
// repeated lookups don't re-hash).
func (p *Processor) basisMatchesFromHash(rec store.PatchBasisRecord, fromHash string) bool {
	if fromHash == "" {
		return true
	}
	info, err := os.Stat(rec.LocalOutputPath)
	if err != nil {
		return false
	}
	mtime := info.ModTime().Unix()
	if matched, ok := p.Store.FullHashCheckMemo(rec.LocalOutputPath, rec.Size, mtime); ok {
		return matched
	}
	got, err := hashutil.FullHashFile(rec.LocalOutputPath)
	matched := err == nil && got == fromHash
	p.Store.MemoizeFullHashCheck(rec.LocalOutputPath, rec.Size, mtime, matched)
	return matched
}

// extractPatchBasisSources extracts the basis sources needed by jobs
// (which share archiveHash) to files under a scratch directory, returning
// each directive's resolved local basis path. Simple sources are extracted
// straight to disk; for a nested source, the inner container and the file
// inside it are read into memory with ExtractFile before the file is
// written to disk.
func (p *Processor) extractPatchBasisSources(archiveHash string, jobs []patchJob) (map[int64]string, error) {
	path, _, err := p.resolveArchivePath(archiveHash)
	if err != nil {
		return nil, err
	}
	r, family, err := archive.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	scratchDir, err := newScratchDir(p.scratchRoot())
	if err != nil {
		return nil, err
	}

	result := make(map[int64]string, len(jobs))

	var simple, nested []patchJob
	for _, j := range jobs {
		if len(j.payload.ArchiveHashPath) == 3 {
			nested = append(nested, j)
		} else {
			simple = append(simple, j)
		}
	}

	if len(simple) > 0 {
		wanted := make([]string, 0, len(simple))
		for _, j := range simple {
			wanted = append(wanted, j.payload.ArchiveHashPath[1])
		}
		extracted, err := extractWanted(r, family, wanted, scratchDir, p.Workers, p.Config)
		if err != nil {
			return nil, err
		}
		for _, j := range simple {
			if diskPath, ok := lookupExtracted(extracted, j.payload.ArchiveHashPath[1]); ok {
				result[j.directive.ID] = diskPath
				p.recordPatchBasis(j, diskPath)
			}
		}
	}

	for _, j := range nested {
		data, err := r.ExtractFile(j.payload.ArchiveHashPath[1])
		if err != nil {
			continue
		}
		nestedTmp, err := os.CreateTemp(scratchDir, "nested-basis-*")
		if err != nil {
			continue
		}
		if _, err := nestedTmp.Write(data); err != nil {
			nestedTmp.Close()
			continue
		}
		nestedTmp.Close()
		nestedReader, _, err := archive.Open(nestedTmp.Name())
		if err != nil {
			continue
		}
		innerData, err := nestedReader.ExtractFile(j.payload.ArchiveHashPath[2])
		nestedReader.Close()
		if err != nil {
			continue
		}
		destPath := nestedTmp.Name() + ".inner"
		if err := os.WriteFile(destPath, innerData, 0o644); err != nil {
			continue
		}
		result[j.directive.ID] = destPath
		p.recordPatchBasis(j, destPath)
	}

	return result, nil
}

// recordPatchBasis stores a freshly extracted basis in the patch-basis
// cache under two keys for robustness: one built from the raw directive
// path and, when the archive index resolved a differently-cased original
// path, one built from that resolved path too.
func (p *Processor) recordPatchBasis(j patchJob, diskPath string) {
	info, err := os.Stat(diskPath)
	if err != nil {
		return
	}
	quick, err := hashutil.QuickHashFile(diskPath)
	if err != nil {
		return
	}
	rec := store.PatchBasisRecord{LocalOutputPath: diskPath, Size: info.Size(), QuickHash: quick}

	rawKey := store.BasisKey(j.payload.ArchiveHashPath...)
	_ = p.Store.UpsertPatchBasis(p.ModlistName, rawKey, rec)

	resolvedParts := append([]string(nil), j.payload.ArchiveHashPath...)
	original, ok, err := p.Store.LookupIndexed(resolvedParts[0], resolvedParts[1])
	if err != nil || !ok {
		return
	}
	resolvedParts[1] = original
	resolvedKey := store.BasisKey(resolvedParts...)
	if resolvedKey != rawKey {
		_ = p.Store.UpsertPatchBasis(p.ModlistName, resolvedKey, rec)
	}
}

func lookupExtracted(extracted map[string]string, requested string) (string, bool) {
	if path, ok := extracted[requested]; ok {
		return path, true
	}
	path, ok := extracted[pathutil.NormalizeForLookup(requested)]
	return path, ok
}

// applyPatch memory-maps the basis, streams the delta engine's output
// through a buffered writer directly to the destination file, and verifies
// the resulting size against the directive's declared size.
func (p *Processor) applyPatch(logger *logging.Logger, j patchJob, basisPath string, preloaded map[string][]byte) {
	d := j.directive
	p.markProcessing(logger, d.ID)

	basisFile, err := os.Open(basisPath)
	if err != nil {
		p.failDirective(logger, d.ID, d.ArchiveHash, err)
		return
	}
	defer basisFile.Close()

	info, err := basisFile.Stat()
	if err != nil {
		p.failDirective(logger, d.ID, d.ArchiveHash, err)
		return
	}

	var deltaReader *delta.Reader
	if info.Size() == 0 {
		deltaReader, err = p.openDeltaReader(emptyBasis{}, j, preloaded)
	} else {
		var basisMap mmap.MMap
		basisMap, err = mmap.Map(basisFile, mmap.RDONLY, 0)
		if err == nil {
			defer basisMap.Unmap()
			deltaReader, err = p.openDeltaReader(byteAtReader(basisMap), j, preloaded)
		}
	}
	if err != nil {
		p.failDirective(logger, d.ID, d.ArchiveHash, err)
		return
	}

	dest := p.outputPath(d.Destination)
	if err := pathutil.EnsureParentDirs(dest); err != nil {
		p.failDirective(logger, d.ID, d.ArchiveHash, err)
		return
	}
	out, err := os.Create(dest)
	if err != nil {
		p.failDirective(logger, d.ID, d.ArchiveHash, err)
		return
	}

	w := bufio.NewWriter(out)
	written, copyErr := copyDelta(w, deltaReader)
	flushErr := w.Flush()
	closeErr := out.Close()

	if copyErr != nil || flushErr != nil || closeErr != nil {
		os.Remove(dest)
		err := firstNonNil(copyErr, flushErr, closeErr)
		p.failDirective(logger, d.ID, d.ArchiveHash, errors.Wrap(err, "unable to apply patch"))
		return
	}
	if written != d.ExpectedSize {
		os.Remove(dest)
		p.failDirective(logger, d.ID, d.ArchiveHash,
			errors.Errorf("patched output %q has size %d, expected %d", d.Destination, written, d.ExpectedSize))
		return
	}

	if err := p.Store.MarkCompleted(d.ID); err != nil {
		logger.Warn(err)
	}
}

func (p *Processor) openDeltaReader(basis delta.BasisSource, j patchJob, preloaded map[string][]byte) (*delta.Reader, error) {
	if data, ok := preloaded[j.payload.PatchID]; ok {
		return delta.NewReader(basis, bytes.NewReader(data))
	}
	blobReader, err := p.Manifest.OpenBlob(j.payload.PatchID)
	if err != nil {
		return nil, err
	}
	return delta.NewReader(basis, blobReader)
}

func copyDelta(w *bufio.Writer, r *delta.Reader) (int64, error) {
	buf := make([]byte, 256*1024)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
	}
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// emptyBasis is a zero-length BasisSource, used when a patch's basis file
// legitimately has no bytes (e.g. a zero-byte game file being patched into
// something new).
type emptyBasis struct{}

func (emptyBasis) ReadAt(p []byte, off int64) (int, error) {
	return 0, errors.New("basis is empty")
}

type byteAtReader []byte

func (b byteAtReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(b)) {
		return 0, errors.New("offset out of range")
	}
	n := copy(p, b[off:])
	if n < len(p) {
		return n, errShortBasisRead
	}
	return n, nil
}

var errShortBasisRead = errors.New("short read from memory-mapped basis")

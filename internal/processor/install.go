package processor

import (
	"context"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wj-modforge/modforge/internal/archive"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/pathutil"
	"github.com/wj-modforge/modforge/internal/remap"
	"github.com/wj-modforge/modforge/internal/store"
)

// fromArchiveJob pairs a stored FromArchive directive with its decoded
// payload, so a group doesn't need to re-decode JSON per access.
type fromArchiveJob struct {
	directive store.Directive
	payload   manifest.FromArchiveDirective
}

// InstallPhase handles FromArchive, InlineFile, and RemappedInlineFile
// directives: the bulk of a fresh install's file count.
func (p *Processor) InstallPhase(ctx context.Context) error {
	logger := p.Logger.Sublogger("install")
	logger.Banner("Install")

	if err := os.MkdirAll(p.scratchRoot(), 0o755); err != nil {
		return errors.Wrap(err, "unable to create install scratch root")
	}
	defer os.RemoveAll(p.scratchRoot())

	fromArchiveDirectives, err := p.Store.ListPendingByType(manifest.KindFromArchive)
	if err != nil {
		return err
	}

	var wholeFile []fromArchiveJob
	groups := make(map[string][]fromArchiveJob)

	for _, d := range fromArchiveDirectives {
		skipped, err := p.preFilterSkip(d.ID, d.Destination, d.ExpectedSize)
		if err != nil {
			return err
		}
		if skipped {
			continue
		}
		payload, err := decodeFromArchive(d)
		if err != nil {
			p.failDirective(logger, d.ID, d.ArchiveHash, err)
			continue
		}
		job := fromArchiveJob{directive: d, payload: payload}
		if len(payload.ArchiveHashPath) == 1 {
			wholeFile = append(wholeFile, job)
		} else {
			hash := payload.ArchiveHashPath[0]
			groups[hash] = append(groups[hash], job)
		}
	}

	if err := p.runWorkerPool(len(wholeFile), func(i int) error {
		return p.installWholeFile(logger, wholeFile[i])
	}); err != nil {
		return err
	}

	if err := p.installInlineDirectives(ctx, logger); err != nil {
		return err
	}

	return p.installArchiveGroups(ctx, logger, groups)
}

// preFilterSkip marks a directive completed without opening its source
// archive if the output already exists with the exact expected size.
func (p *Processor) preFilterSkip(id int64, destination string, expectedSize int64) (bool, error) {
	out := p.outputPath(destination)
	info, err := os.Stat(out)
	if err != nil {
		return false, nil
	}
	if info.Size() != expectedSize {
		return false, nil
	}
	if err := p.Store.MarkCompleted(id); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Processor) outputPath(destination string) string {
	return pathutil.JoinOutput(p.OutputDir, destination)
}

func (p *Processor) failDirective(logger *logging.Logger, id int64, archiveKey string, err error) {
	if archiveKey == "" {
		archiveKey = "(no archive)"
	}
	p.failures.record(archiveKey, err.Error(), 100)
	if markErr := p.Store.MarkFailed(id, err.Error()); markErr != nil && logger != nil {
		logger.Warn(markErr)
	}
}

// markProcessing transitions a directive out of pending right as a worker
// picks it up, so a crash mid-phase leaves a trail ResetProcessingToPending
// can find on the next run instead of silently reverting to pending (which
// would be indistinguishable from never having been attempted).
func (p *Processor) markProcessing(logger *logging.Logger, id int64) {
	if err := p.Store.MarkProcessing(id); err != nil && logger != nil {
		logger.Warn(err)
	}
}

// installWholeFile handles an ArchiveHashPath of length 1: the archive is
// itself the source file and is copied to destination verbatim.
func (p *Processor) installWholeFile(logger *logging.Logger, job fromArchiveJob) error {
	d := job.directive
	p.markProcessing(logger, d.ID)
	srcPath, _, err := p.resolveArchivePath(job.payload.ArchiveHashPath[0])
	if err != nil {
		p.failDirective(logger, d.ID, job.payload.ArchiveHashPath[0], err)
		return nil
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		p.failDirective(logger, d.ID, job.payload.ArchiveHashPath[0], err)
		return nil
	}
	if info.Size() != d.ExpectedSize {
		p.failDirective(logger, d.ID, job.payload.ArchiveHashPath[0],
			errors.Errorf("whole-file source %q has size %d, expected %d", srcPath, info.Size(), d.ExpectedSize))
		return nil
	}

	dest := p.outputPath(d.Destination)
	if err := pathutil.EnsureParentDirs(dest); err != nil {
		p.failDirective(logger, d.ID, job.payload.ArchiveHashPath[0], err)
		return nil
	}
	if err := copyFile(srcPath, dest); err != nil {
		p.failDirective(logger, d.ID, job.payload.ArchiveHashPath[0], err)
		return nil
	}
	if err := p.Store.MarkCompleted(d.ID); err != nil {
		return err
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "unable to open %q", src)
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "unable to create %q", dst)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return errors.Wrapf(err, "unable to copy %q to %q", src, dst)
	}
	return nil
}

// installInlineDirectives handles InlineFile and RemappedInlineFile
// directives, which read a blob from the manifest archive rather than a
// source archive.
func (p *Processor) installInlineDirectives(ctx context.Context, logger *logging.Logger) error {
	inline, err := p.Store.ListPendingByType(manifest.KindInlineFile)
	if err != nil {
		return err
	}
	remapped, err := p.Store.ListPendingByType(manifest.KindRemappedInlineFile)
	if err != nil {
		return err
	}

	var pending []store.Directive
	for _, d := range inline {
		skipped, err := p.preFilterSkip(d.ID, d.Destination, d.ExpectedSize)
		if err != nil {
			return err
		}
		if !skipped {
			pending = append(pending, d)
		}
	}
	inlineCount := len(pending)
	for _, d := range remapped {
		// RemappedInlineFile skips the size pre-filter entirely: remapping
		// can change the byte length, so an on-disk size match proves
		// nothing about correctness. Presence alone is not enough signal
		// either, so these are always reprocessed unless already completed.
		pending = append(pending, d)
	}

	g, _ := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.Workers)
	for i, d := range pending {
		d := d
		isInline := i < inlineCount
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			if isInline {
				return p.installInlineFile(logger, d)
			}
			return p.installRemappedInlineFile(logger, d)
		})
	}
	return g.Wait()
}

func (p *Processor) installInlineFile(logger *logging.Logger, d store.Directive) error {
	p.markProcessing(logger, d.ID)
	payload, err := decodeInlineFile(d)
	if err != nil {
		p.failDirective(logger, d.ID, "", err)
		return nil
	}
	data, err := p.Manifest.ReadBlob(payload.SourceDataID)
	if err != nil {
		p.failDirective(logger, d.ID, "", err)
		return nil
	}
	if int64(len(data)) != d.ExpectedSize {
		logger.Warn(errors.Errorf("inline blob %q for %q has size %d, manifest declared %d (writing anyway)",
			payload.SourceDataID, d.Destination, len(data), d.ExpectedSize))
	}
	dest := p.outputPath(d.Destination)
	if err := pathutil.EnsureParentDirs(dest); err != nil {
		p.failDirective(logger, d.ID, "", err)
		return nil
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		p.failDirective(logger, d.ID, "", errors.Wrapf(err, "unable to write %q", dest))
		return nil
	}
	return p.Store.MarkCompleted(d.ID)
}

func (p *Processor) installRemappedInlineFile(logger *logging.Logger, d store.Directive) error {
	p.markProcessing(logger, d.ID)
	payload, err := decodeRemappedInlineFile(d)
	if err != nil {
		p.failDirective(logger, d.ID, "", err)
		return nil
	}
	data, err := p.Manifest.ReadBlob(payload.SourceDataID)
	if err != nil {
		p.failDirective(logger, d.ID, "", err)
		return nil
	}
	if remap.NeedsSubstitution(data) {
		data = remap.Apply(data, remap.Roots{
			Output:    p.OutputDir,
			Game:      p.GameDir,
			Downloads: p.DownloadsDir,
		})
	}
	dest := p.outputPath(d.Destination)
	if err := pathutil.EnsureParentDirs(dest); err != nil {
		p.failDirective(logger, d.ID, "", err)
		return nil
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		p.failDirective(logger, d.ID, "", errors.Wrapf(err, "unable to write %q", dest))
		return nil
	}
	return p.Store.MarkCompleted(d.ID)
}

// installArchiveGroups schedules per-archive groups of FromArchive
// directives by size tier and drives them through the shared move
// pipeline.
func (p *Processor) installArchiveGroups(ctx context.Context, logger *logging.Logger, groups map[string][]fromArchiveJob) error {
	if len(groups) == 0 {
		return nil
	}

	type entry struct {
		hash string
		jobs []fromArchiveJob
		size int64
	}
	entries := make([]entry, 0, len(groups))
	for hash, jobs := range groups {
		size := int64(0)
		if a, err := p.Store.GetArchive(hash); err == nil && a != nil {
			size = a.Size
		}
		entries = append(entries, entry{hash: hash, jobs: jobs, size: size})
	}

	var small, medium, large []entry
	for _, e := range entries {
		switch classifySize(e.size) {
		case tierSmall:
			small = append(small, e)
		case tierMedium:
			medium = append(medium, e)
		default:
			large = append(large, e)
		}
	}
	for _, bucket := range [][]entry{small, medium, large} {
		sort.Slice(bucket, func(i, j int) bool { return bucket[i].size < bucket[j].size })
	}

	var resultMu sync.Mutex
	mp := newMovePipeline(p.Workers, logger, func(id int64, err error) {
		resultMu.Lock()
		defer resultMu.Unlock()
		if err != nil {
			p.failDirective(logger, id, "", err)
			return
		}
		if markErr := p.Store.MarkCompleted(id); markErr != nil {
			logger.Warn(markErr)
		}
	})
	defer mp.Close()

	runTier := func(bucket []entry, concurrency, threadsHint int) error {
		if len(bucket) == 0 {
			return nil
		}
		g, _ := errgroup.WithContext(ctx)
		sem := make(chan struct{}, concurrency)
		for _, e := range bucket {
			e := e
			sem <- struct{}{}
			g.Go(func() error {
				defer func() { <-sem }()
				p.installArchiveGroup(logger, e.hash, e.jobs, mp, threadsHint)
				return nil
			})
		}
		return g.Wait()
	}

	half := p.Workers / 2
	if half < 1 {
		half = 1
	}
	if err := runTier(small, p.Workers, 1); err != nil {
		return err
	}
	if err := runTier(medium, half, 2); err != nil {
		return err
	}
	if err := runTier(large, 1, p.Workers); err != nil {
		return err
	}
	return nil
}

// installArchiveGroup processes every FromArchive directive sourced from a
// single archive: direct reads for Bethesda containers, or full extraction
// to scratch plus move-pipeline jobs for everything else.
func (p *Processor) installArchiveGroup(logger *logging.Logger, archiveHash string, jobs []fromArchiveJob, mp *movePipeline, threadsHint int) {
	path, _, err := p.resolveArchivePath(archiveHash)
	if err != nil {
		for _, j := range jobs {
			p.failDirective(logger, j.directive.ID, archiveHash, err)
		}
		return
	}

	r, family, err := archive.Open(path)
	if err != nil {
		for _, j := range jobs {
			p.failDirective(logger, j.directive.ID, archiveHash, err)
		}
		return
	}
	defer r.Close()

	if archive.IsBethesda(family) {
		p.installBethesdaGroup(logger, r, archiveHash, jobs)
		return
	}
	p.installGenericGroup(logger, r, family, archiveHash, jobs, mp, threadsHint)
}

func (p *Processor) installBethesdaGroup(logger *logging.Logger, r archive.Reader, archiveHash string, jobs []fromArchiveJob) {
	for _, j := range jobs {
		p.markProcessing(logger, j.directive.ID)
		path := j.payload.ArchiveHashPath
		switch len(path) {
		case 2:
			data, err := r.ExtractFile(path[1])
			if err != nil {
				p.failDirective(logger, j.directive.ID, archiveHash, err)
				continue
			}
			p.writeInstalledFile(logger, j.directive, data)
		case 3:
			nestedData, err := r.ExtractFile(path[1])
			if err != nil {
				p.failDirective(logger, j.directive.ID, archiveHash, err)
				continue
			}
			p.installFromNestedBytes(logger, j.directive, archiveHash, nestedData, path[2])
		default:
			p.failDirective(logger, j.directive.ID, archiveHash,
				errors.Errorf("unexpected ArchiveHashPath length %d", len(path)))
		}
	}
}

func (p *Processor) installGenericGroup(logger *logging.Logger, r archive.Reader, family archive.Family, archiveHash string, jobs []fromArchiveJob, mp *movePipeline, threadsHint int) {
	scratchDir, err := newScratchDir(p.scratchRoot())
	if err != nil {
		for _, j := range jobs {
			p.failDirective(logger, j.directive.ID, archiveHash, err)
		}
		return
	}

	extracted, err := r.ExtractAll(scratchDir, threadsHint)
	if err != nil {
		os.RemoveAll(scratchDir)
		for _, j := range jobs {
			p.failDirective(logger, j.directive.ID, archiveHash, err)
		}
		return
	}

	var nested, simple []fromArchiveJob
	for _, j := range jobs {
		switch len(j.payload.ArchiveHashPath) {
		case 3:
			nested = append(nested, j)
		case 2:
			simple = append(simple, j)
		default:
			p.failDirective(logger, j.directive.ID, archiveHash,
				errors.Errorf("unexpected ArchiveHashPath length %d", len(j.payload.ArchiveHashPath)))
		}
	}

	// Nested-archive directives read from the scratch copy before any
	// single-use source file in it is renamed away.
	for _, j := range nested {
		p.markProcessing(logger, j.directive.ID)
		norm := pathutil.NormalizeForLookup(j.payload.ArchiveHashPath[1])
		diskPath, ok := extracted[norm]
		if !ok {
			p.failDirective(logger, j.directive.ID, archiveHash,
				errors.Errorf("nested container %q not found in %q", j.payload.ArchiveHashPath[1], archiveHash))
			continue
		}
		nestedData, err := os.ReadFile(diskPath)
		if err != nil {
			p.failDirective(logger, j.directive.ID, archiveHash, err)
			continue
		}
		p.installFromNestedBytes(logger, j.directive, archiveHash, nestedData, j.payload.ArchiveHashPath[2])
	}

	if len(simple) == 0 {
		os.RemoveAll(scratchDir)
		return
	}

	refCount := make(map[string]int, len(simple))
	for _, j := range simple {
		refCount[pathutil.NormalizeForLookup(j.payload.ArchiveHashPath[1])]++
	}
	dirHandle := newRefCountedDir(scratchDir, len(simple))

	for _, j := range simple {
		p.markProcessing(logger, j.directive.ID)
		norm := pathutil.NormalizeForLookup(j.payload.ArchiveHashPath[1])
		diskPath, ok := extracted[norm]
		if !ok {
			p.failDirective(logger, j.directive.ID, archiveHash,
				errors.Errorf("%q not found in extracted archive %q", j.payload.ArchiveHashPath[1], archiveHash))
			dirHandle.Release()
			continue
		}
		mp.Submit(moveJob{
			directiveID:  j.directive.ID,
			destination:  p.outputPath(j.directive.Destination),
			expectedSize: j.directive.ExpectedSize,
			sourcePath:   diskPath,
			dir:          dirHandle,
			shared:       refCount[norm] > 1,
		})
	}
}

// installFromNestedBytes writes nestedContainerData to a temp file, opens
// it with the archive package (its detected family, typically BSA/BA2),
// extracts innerPath, and writes the result directly to the directive's
// destination.
func (p *Processor) installFromNestedBytes(logger *logging.Logger, d store.Directive, archiveHash string, nestedContainerData []byte, innerPath string) {
	tmp, err := os.CreateTemp(p.scratchRoot(), "nested-*")
	if err != nil {
		p.failDirective(logger, d.ID, archiveHash, err)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(nestedContainerData); err != nil {
		tmp.Close()
		p.failDirective(logger, d.ID, archiveHash, err)
		return
	}
	tmp.Close()

	nestedReader, _, err := archive.Open(tmpPath)
	if err != nil {
		p.failDirective(logger, d.ID, archiveHash, err)
		return
	}
	defer nestedReader.Close()

	data, err := nestedReader.ExtractFile(innerPath)
	if err != nil {
		p.failDirective(logger, d.ID, archiveHash, err)
		return
	}
	p.writeInstalledFile(logger, d, data)
}

func (p *Processor) writeInstalledFile(logger *logging.Logger, d store.Directive, data []byte) {
	if int64(len(data)) != d.ExpectedSize {
		p.failDirective(logger, d.ID, d.ArchiveHash,
			errors.Errorf("extracted %q has size %d, expected %d", d.Destination, len(data), d.ExpectedSize))
		return
	}
	dest := p.outputPath(d.Destination)
	if err := pathutil.EnsureParentDirs(dest); err != nil {
		p.failDirective(logger, d.ID, d.ArchiveHash, err)
		return
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		p.failDirective(logger, d.ID, d.ArchiveHash, errors.Wrapf(err, "unable to write %q", dest))
		return
	}
	if err := p.Store.MarkCompleted(d.ID); err != nil {
		logger.Warn(err)
	}
}

// runWorkerPool runs fn(i) for i in [0, n) with at most p.Workers running
// concurrently.
func (p *Processor) runWorkerPool(n int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	g := new(errgroup.Group)
	sem := make(chan struct{}, p.Workers)
	for i := 0; i < n; i++ {
		i := i
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			return fn(i)
		})
	}
	return g.Wait()
}

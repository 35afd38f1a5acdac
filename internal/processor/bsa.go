package processor

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wj-modforge/modforge/internal/archive"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/pathutil"
	"github.com/wj-modforge/modforge/internal/store"
)

// bsaBuildJob pairs a stored CreateBSA directive with its decoded payload.
type bsaBuildJob struct {
	directive store.Directive
	payload   manifest.CreateBSADirective
}

// smallBSABatchSize is how many small (<=bsaSmallFileThreshold files) builds
// run concurrently; large builds run one at a time to bound peak memory,
// since the whole archive is assembled before being written out.
const (
	bsaSmallFileThreshold = 250
	smallBSABatchSize     = 4
)

// ArchiveBuildPhase handles CreateBSA directives: assemble the files staged
// under the output tree's TEMP_BSA_FILES/<TempID> directory into a BSA or
// BA2 container.
func (p *Processor) ArchiveBuildPhase(ctx context.Context) error {
	logger := p.Logger.Sublogger("archive-build")
	logger.Banner("Archive Build")

	pending, err := p.Store.ListPendingByType(manifest.KindCreateBSA)
	if err != nil {
		return err
	}

	var jobs []bsaBuildJob
	for _, d := range pending {
		payload, err := decodeCreateBSA(d)
		if err != nil {
			p.failDirective(logger, d.ID, "", err)
			continue
		}
		jobs = append(jobs, bsaBuildJob{directive: d, payload: payload})
	}
	if len(jobs) == 0 {
		return nil
	}

	sort.Slice(jobs, func(i, j int) bool {
		return len(jobs[i].payload.FileStates) < len(jobs[j].payload.FileStates)
	})

	var small, large []bsaBuildJob
	for _, j := range jobs {
		if len(j.payload.FileStates) <= bsaSmallFileThreshold {
			small = append(small, j)
		} else {
			large = append(large, j)
		}
	}

	g, _ := errgroup.WithContext(ctx)
	sem := make(chan struct{}, smallBSABatchSize)
	for _, j := range small {
		j := j
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			p.buildBSA(logger, j)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, j := range large {
		p.buildBSA(logger, j)
	}
	return nil
}

func (p *Processor) buildBSA(logger *logging.Logger, j bsaBuildJob) {
	d := j.directive
	p.markProcessing(logger, d.ID)
	stagingDir := filepath.Join(p.stagingRoot(), j.payload.TempID)

	dest := p.outputPath(d.Destination)
	if err := pathutil.EnsureParentDirs(dest); err != nil {
		p.failDirective(logger, d.ID, "", err)
		return
	}

	var err error
	switch j.payload.Format {
	case "BSA":
		err = p.buildBSAArchive(stagingDir, j.payload, dest)
	case "BA2":
		err = p.buildBA2Archive(stagingDir, j.payload, dest)
	default:
		err = errors.Errorf("unrecognized archive build format %q", j.payload.Format)
	}
	if err != nil {
		p.failDirective(logger, d.ID, "", err)
		return
	}

	if err := verifyBuiltArchiveMagic(dest, j.payload.Format); err != nil {
		os.Remove(dest)
		p.failDirective(logger, d.ID, "", err)
		return
	}

	os.RemoveAll(stagingDir)

	if err := p.Store.MarkCompleted(d.ID); err != nil {
		logger.Warn(err)
	}
}

func (p *Processor) buildBSAArchive(stagingDir string, payload manifest.CreateBSADirective, dest string) error {
	builder := archive.NewBSABuilder(payload.Version, payload.ArchiveFlags, payload.FileFlags,
		payload.ArchiveFlags&archive.BSAFlagCompressed != 0)

	for _, fs := range payload.FileStates {
		data, err := os.ReadFile(filepath.Join(stagingDir, filepath.FromSlash(fs.Path)))
		if err != nil {
			return errors.Wrapf(err, "unable to read staged file %q for %q", fs.Path, dest)
		}
		builder.AddFile(fs.Path, data)
	}

	if err := builder.Build(dest); err != nil {
		if archive.IsOverflowError(err) {
			retry := archive.NewBSABuilder(payload.Version, payload.ArchiveFlags&^archive.BSAFlagCompressed, payload.FileFlags, false)
			for _, fs := range payload.FileStates {
				data, err := os.ReadFile(filepath.Join(stagingDir, filepath.FromSlash(fs.Path)))
				if err != nil {
					return errors.Wrapf(err, "unable to read staged file %q for %q", fs.Path, dest)
				}
				retry.AddFile(fs.Path, data)
			}
			return retry.Build(dest)
		}
		return err
	}
	return nil
}

func (p *Processor) buildBA2Archive(stagingDir string, payload manifest.CreateBSADirective, dest string) error {
	isDX10 := payload.BA2Type == "DX10"
	builder := archive.NewBA2Builder(payload.Version, isDX10, payload.ArchiveFlags&archive.BSAFlagCompressed != 0)

	for _, fs := range payload.FileStates {
		data, err := os.ReadFile(filepath.Join(stagingDir, filepath.FromSlash(fs.Path)))
		if err != nil {
			return errors.Wrapf(err, "unable to read staged file %q for %q", fs.Path, dest)
		}
		builder.AddFile(fs.Path, data)
		// The manifest's per-chunk DX10 layout doesn't carry pixel
		// dimensions or mip count, only mip-range and size; the builder's
		// single-full-size-chunk default is used instead of a partial,
		// unreliable AddTextureLayout call.
	}

	return builder.Build(dest)
}

func verifyBuiltArchiveMagic(path, format string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "unable to reopen built archive %q for verification", path)
	}
	defer f.Close()

	var want string
	switch format {
	case "BSA":
		want = "BSA\x00"
	case "BA2":
		want = "BTDX"
	default:
		return errors.Errorf("unrecognized archive build format %q", format)
	}

	header := make([]byte, len(want))
	if _, err := io.ReadFull(f, header); err != nil {
		return errors.Wrapf(err, "unable to read header of built archive %q", path)
	}
	if string(header) != want {
		return errors.Errorf("built archive %q has unexpected magic %q, expected %q", path, header, want)
	}
	return nil
}

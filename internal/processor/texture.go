package processor

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wj-modforge/modforge/internal/archive"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/pathutil"
	"github.com/wj-modforge/modforge/internal/store"
	"github.com/wj-modforge/modforge/internal/texture"
)

// textureJob pairs a stored TransformedTexture directive with its decoded
// payload.
type textureJob struct {
	directive store.Directive
	payload   manifest.TransformedTextureDirective
}

// TexturePhase handles TransformedTexture directives: decode a DDS source,
// resize it to the directive's declared dimensions, and re-encode to the
// target pixel format.
func (p *Processor) TexturePhase(ctx context.Context) error {
	logger := p.Logger.Sublogger("texture")
	logger.Banner("Texture Transform")

	pending, err := p.Store.ListPendingByType(manifest.KindTransformedTexture)
	if err != nil {
		return err
	}

	var jobs []textureJob
	var unsupported []string
	for _, d := range pending {
		skipped, err := p.preFilterSkip(d.ID, d.Destination, d.ExpectedSize)
		if err != nil {
			return err
		}
		if skipped {
			continue
		}
		payload, err := decodeTransformedTexture(d)
		if err != nil {
			p.failDirective(logger, d.ID, d.ArchiveHash, err)
			continue
		}
		if _, err := texture.TargetFromImageState(payload.ImageState.Format); err != nil {
			unsupported = append(unsupported, payload.ImageState.Format)
			if !p.Config.BC1FallbackOnUnsupported {
				p.failDirective(logger, d.ID, d.ArchiveHash, err)
				continue
			}
		}
		jobs = append(jobs, textureJob{directive: d, payload: payload})
	}
	if len(unsupported) > 0 {
		logger.Warn(errors.Errorf("unsupported target texture formats encountered: %v", dedupeStrings(unsupported)))
	}
	if len(jobs) == 0 {
		return nil
	}

	groups := make(map[string][]textureJob)
	for _, j := range jobs {
		groups[j.payload.ArchiveHashPath[0]] = append(groups[j.payload.ArchiveHashPath[0]], j)
	}

	for archiveHash, group := range groups {
		if err := p.textureArchiveGroup(ctx, logger, archiveHash, group); err != nil {
			return err
		}
	}
	return nil
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func (p *Processor) textureArchiveGroup(ctx context.Context, logger *logging.Logger, archiveHash string, jobs []textureJob) error {
	path, _, err := p.resolveArchivePath(archiveHash)
	if err != nil {
		for _, j := range jobs {
			p.failDirective(logger, j.directive.ID, archiveHash, err)
		}
		return nil
	}

	r, family, err := archive.Open(path)
	if err != nil {
		for _, j := range jobs {
			p.failDirective(logger, j.directive.ID, archiveHash, err)
		}
		return nil
	}
	defer r.Close()

	sources, err := p.extractTextureSources(r, family, archiveHash, jobs)
	if err != nil {
		for _, j := range jobs {
			p.failDirective(logger, j.directive.ID, archiveHash, err)
		}
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.Workers)
	for _, j := range jobs {
		j := j
		data, ok := sources[j.directive.ID]
		if !ok {
			continue
		}
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			p.applyTextureTransform(logger, j, data)
			return nil
		})
	}
	return g.Wait()
}

// extractTextureSources resolves the raw DDS bytes of every job's source,
// pre-filtering by DDS header validity rather than size (a transformed
// texture's output size differs from its input by construction).
func (p *Processor) extractTextureSources(r archive.Reader, family archive.Family, archiveHash string, jobs []textureJob) (map[int64][]byte, error) {
	result := make(map[int64][]byte, len(jobs))

	var simple, nested []textureJob
	for _, j := range jobs {
		if len(j.payload.ArchiveHashPath) == 3 {
			nested = append(nested, j)
		} else {
			simple = append(simple, j)
		}
	}

	if archive.IsBethesda(family) {
		for _, j := range simple {
			data, err := r.ExtractFile(j.payload.ArchiveHashPath[1])
			if err != nil {
				continue
			}
			result[j.directive.ID] = data
		}
	} else if len(simple) > 0 {
		scratchDir, err := newScratchDir(p.scratchRoot())
		if err != nil {
			return nil, err
		}
		wanted := make([]string, 0, len(simple))
		for _, j := range simple {
			wanted = append(wanted, j.payload.ArchiveHashPath[1])
		}
		extracted, err := extractWanted(r, family, wanted, scratchDir, p.Workers, p.Config)
		if err != nil {
			return nil, err
		}
		for _, j := range simple {
			diskPath, ok := lookupExtracted(extracted, j.payload.ArchiveHashPath[1])
			if !ok {
				continue
			}
			data, err := os.ReadFile(diskPath)
			if err != nil {
				continue
			}
			result[j.directive.ID] = data
		}
	}

	for _, j := range nested {
		nestedData, err := r.ExtractFile(j.payload.ArchiveHashPath[1])
		if err != nil {
			continue
		}
		tmp, err := os.CreateTemp(p.scratchRoot(), "nested-texture-*")
		if err != nil {
			continue
		}
		tmpPath := tmp.Name()
		if _, err := tmp.Write(nestedData); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			continue
		}
		tmp.Close()
		nestedReader, _, err := archive.Open(tmpPath)
		if err != nil {
			os.Remove(tmpPath)
			continue
		}
		data, err := nestedReader.ExtractFile(j.payload.ArchiveHashPath[2])
		nestedReader.Close()
		os.Remove(tmpPath)
		if err != nil {
			continue
		}
		result[j.directive.ID] = data
	}

	return result, nil
}

// applyTextureTransform decodes, resizes, and re-encodes source, falling
// back to a verbatim copy when the target format has no encoder and
// BC1FallbackOnUnsupported is set.
func (p *Processor) applyTextureTransform(logger *logging.Logger, j textureJob, source []byte) {
	d := j.directive
	p.markProcessing(logger, d.ID)

	if !texture.IsDDS(source) {
		p.failDirective(logger, d.ID, d.ArchiveHash, errors.Errorf("source for %q is not a valid DDS file", d.Destination))
		return
	}

	target, err := texture.TargetFromImageState(j.payload.ImageState.Format)
	var output []byte
	if err != nil {
		if !p.Config.BC1FallbackOnUnsupported {
			p.failDirective(logger, d.ID, d.ArchiveHash, err)
			return
		}
		output = source
	} else {
		output, err = texture.Transform(source, int(j.payload.ImageState.Width), int(j.payload.ImageState.Height), target)
		if err != nil {
			if !p.Config.BC1FallbackOnUnsupported {
				p.failDirective(logger, d.ID, d.ArchiveHash, err)
				return
			}
			output = source
		}
	}

	dest := p.outputPath(d.Destination)
	if err := pathutil.EnsureParentDirs(dest); err != nil {
		p.failDirective(logger, d.ID, d.ArchiveHash, err)
		return
	}
	if err := os.WriteFile(dest, output, 0o644); err != nil {
		p.failDirective(logger, d.ID, d.ArchiveHash, errors.Wrapf(err, "unable to write %q", dest))
		return
	}
	if err := p.Store.MarkCompleted(d.ID); err != nil {
		logger.Warn(err)
	}
}

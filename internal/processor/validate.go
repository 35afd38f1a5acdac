package processor

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/wj-modforge/modforge/internal/archive"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/pathutil"
	"github.com/wj-modforge/modforge/internal/store"
)

// ValidatePhase re-checks every downloaded archive's on-disk size against
// its declared size, resetting a mismatched archive back to pending
// download (a corrupt or truncated download), and builds the archive file
// index for every archive that still needs one. Whole-file archives (no
// recognized container format) have no listing of their own and are marked
// not_needed instead; Bethesda archives are indexed like any other
// container.
func (p *Processor) ValidatePhase(ctx context.Context) error {
	logger := p.Logger.Sublogger("validate")
	logger.Banner("Validate")

	archives, err := p.Store.ListArchivesByDownloadStatus(store.DownloadCompleted)
	if err != nil {
		return err
	}
	if len(archives) == 0 {
		return nil
	}

	g, _ := errgroup.WithContext(ctx)
	sem := make(chan struct{}, p.Workers)
	for _, a := range archives {
		a := a
		sem <- struct{}{}
		g.Go(func() error {
			defer func() { <-sem }()
			p.validateArchive(logger, a)
			return nil
		})
	}
	return g.Wait()
}

func (p *Processor) validateArchive(logger *logging.Logger, a store.Archive) {
	path := a.LocalPath
	if path == "" {
		return
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() != a.Size {
		logger.Warn(errors.Errorf("archive %q (%s) failed size validation at %q, resetting for redownload", a.Name, a.Hash, path))
		if err := p.Store.UpdateDownloadStatus(a.Hash, store.DownloadPending, ""); err != nil {
			logger.Warn(err)
		}
		return
	}

	if a.ExtractionStatus != store.ExtractionPending {
		return
	}

	if err := p.indexArchive(a.Hash, path); err != nil {
		logger.Warn(errors.Wrapf(err, "unable to index archive %q (%s)", a.Name, a.Hash))
		if err := p.Store.UpdateExtractionStatus(a.Hash, store.ExtractionFailed); err != nil {
			logger.Warn(err)
		}
	}
}

// indexArchive lists hash's contents (if any) and records them in the file
// index, or marks the archive as needing no index when it has no internal
// listing of its own.
func (p *Processor) indexArchive(hash, path string) error {
	r, family, err := archive.Open(path)
	if err != nil {
		return err
	}
	defer r.Close()

	if family == archive.FamilyUnknown {
		return p.Store.UpdateExtractionStatus(hash, store.ExtractionNotNeeded)
	}

	entries, err := r.List()
	if err != nil {
		return err
	}

	indexed := make([]store.IndexEntry, 0, len(entries))
	for _, e := range entries {
		indexed = append(indexed, store.IndexEntry{
			OriginalPath:   e.Path,
			NormalizedPath: pathutil.NormalizeForLookup(e.Path),
			Size:           e.Size,
		})
	}

	if err := p.Store.IndexArchive(hash, indexed); err != nil {
		return err
	}
	return p.Store.UpdateExtractionStatus(hash, store.ExtractionExtracted)
}

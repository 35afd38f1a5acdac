package processor

import (
	"os"

	"github.com/pkg/errors"

	"github.com/wj-modforge/modforge/internal/hashutil"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
)

// hashCheckedKinds are the directive kinds whose output is expected to be
// bit-identical to what was recorded at install time, so their full hash is
// worth recomputing during the verify sweep. TransformedTexture and
// RemappedInlineFile outputs are derived (resized/re-encoded, or rewritten
// with host-specific paths) and have no stable expected hash to compare
// against; their size check alone is the verify signal.
var hashCheckedKinds = []manifest.DirectiveKind{
	manifest.KindFromArchive,
	manifest.KindInlineFile,
	manifest.KindPatchedFromArchive,
	manifest.KindCreateBSA,
}

var sizeOnlyKinds = []manifest.DirectiveKind{
	manifest.KindRemappedInlineFile,
	manifest.KindTransformedTexture,
}

// VerifyPhase re-opens every completed directive's declared output and
// confirms it still matches what was recorded at install time, reverting
// any mismatch back to pending so the next run repairs it. It exists to
// catch outputs damaged or removed by something other than this installer
// between runs.
func (p *Processor) VerifyPhase() error {
	logger := p.Logger.Sublogger("verify")
	logger.Banner("Verify")

	reverted := 0

	for _, kind := range hashCheckedKinds {
		n, err := p.verifyKind(logger, kind, true)
		if err != nil {
			return err
		}
		reverted += n
	}
	for _, kind := range sizeOnlyKinds {
		n, err := p.verifyKind(logger, kind, false)
		if err != nil {
			return err
		}
		reverted += n
	}

	if reverted > 0 {
		logger.Infof("reverted %d directive(s) to pending after verify mismatch", reverted)
	}
	return nil
}

func (p *Processor) verifyKind(logger *logging.Logger, kind manifest.DirectiveKind, checkHash bool) (int, error) {
	completed, err := p.Store.ListCompletedByType(kind)
	if err != nil {
		return 0, err
	}

	reverted := 0
	for _, c := range completed {
		dest := p.outputPath(c.Destination)
		mismatch, err := p.verifyOutput(dest, c.ExpectedSize, c.ExpectedHash, checkHash)
		if err != nil {
			logger.Warn(errors.Wrapf(err, "unable to verify %q", dest))
			continue
		}
		if !mismatch {
			continue
		}
		if err := p.Store.RevertToPending(c.ID); err != nil {
			logger.Warn(err)
			continue
		}
		// The owning archive's other directives that are not completed
		// (failed or still processing) are reset to pending as well.
		// ResetAllForArchiveHash leaves completed directives as they are, so
		// among the archive's completed outputs only the reverted one is
		// redone.
		if c.ArchiveHash != "" {
			if err := p.Store.ResetAllForArchiveHash(c.ArchiveHash); err != nil {
				logger.Warn(err)
			}
		}
		reverted++
	}
	return reverted, nil
}

// verifyOutput reports whether path no longer matches the declared size (and,
// if checkHash is set, full hash), returning true when it should be reverted
// to pending. A missing file always counts as a mismatch.
func (p *Processor) verifyOutput(path string, expectedSize int64, expectedHash string, checkHash bool) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	if info.Size() != expectedSize {
		return true, nil
	}
	if !checkHash || expectedHash == "" {
		return false, nil
	}

	actual, err := hashutil.FullHashFile(path)
	if err != nil {
		return false, err
	}
	return actual != expectedHash, nil
}

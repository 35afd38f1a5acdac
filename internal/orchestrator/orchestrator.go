// Package orchestrator drives the eight-phase installer pipeline in order,
// recording per-phase elapsed time and resident memory, short-circuiting on
// a download failure, and running the final cleanup (and optional verify)
// pass. Game Check and Download are external collaborators; this package
// only defines the interfaces they satisfy and calls them at the right
// point in the sequence.
package orchestrator

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/processor"
	"github.com/wj-modforge/modforge/internal/store"
)

// MissingArchive names a source archive the Download Coordinator could not
// obtain, for the fatal missing-archive report.
type MissingArchive struct {
	Name string
	Hash string
	Size int64
}

// DownloadResult summarizes a Download Coordinator pass over the pending
// archive set.
type DownloadResult struct {
	Downloaded int
	Skipped    int
	Failed     []MissingArchive
	Manual     []MissingArchive
}

// GameChecker validates the configured game directory before anything else
// runs (correct game, correct install, version sane enough to proceed).
type GameChecker interface {
	Check(ctx context.Context, gameDir string) error
}

// Downloader fetches every archive in pending, reporting what it managed to
// obtain. It owns retry/backoff and post-download size and hash validation;
// the orchestrator only acts on its summary.
type Downloader interface {
	Fetch(ctx context.Context, pending []store.Archive) (DownloadResult, error)
}

// Orchestrator wires the external collaborators to the directive processor
// and drives one full run.
type Orchestrator struct {
	Store       *store.Store
	Processor   *processor.Processor
	Logger      *logging.Logger
	GameChecker GameChecker
	Downloader  Downloader

	// RunVerify enables the optional post-cleanup verify sweep.
	RunVerify bool
}

// Run executes Game Check, Download, Validate, Install, Patch, Texture,
// Archive Build, and Cleanup in sequence, returning the first fatal error.
// A download failure is fatal: the run stops after printing the missing-
// archive report rather than proceeding to install against an incomplete
// archive set.
func (o *Orchestrator) Run(ctx context.Context, gameDir string) error {
	if o.GameChecker != nil {
		if err := o.runPhase("game-check", func() error {
			return o.GameChecker.Check(ctx, gameDir)
		}); err != nil {
			return err
		}
	}

	if o.Downloader != nil {
		if err := o.runPhase("download", func() error {
			return o.download(ctx)
		}); err != nil {
			return err
		}
	}

	phases := []struct {
		name string
		run  func() error
	}{
		{"validate", func() error { return o.Processor.ValidatePhase(ctx) }},
		{"install", func() error { return o.Processor.InstallPhase(ctx) }},
		{"patch", func() error { return o.Processor.PatchPhase(ctx) }},
		{"texture", func() error { return o.Processor.TexturePhase(ctx) }},
		{"archive-build", func() error { return o.Processor.ArchiveBuildPhase(ctx) }},
		{"cleanup", func() error { return o.Processor.CleanupPhase() }},
	}
	if o.RunVerify {
		phases = append(phases, struct {
			name string
			run  func() error
		}{"verify", func() error { return o.Processor.VerifyPhase() }})
	}

	for _, phase := range phases {
		if err := o.runPhase(phase.name, phase.run); err != nil {
			return err
		}
	}
	o.reportFailures()
	return nil
}

// runPhase times fn, logging elapsed wall time and resident memory
// afterward regardless of outcome.
func (o *Orchestrator) runPhase(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	rss := currentRSS()
	if rss > 0 {
		o.Logger.Infof("%s: %s elapsed, %s RSS", name, elapsed.Round(time.Millisecond), humanize.Bytes(rss))
	} else {
		o.Logger.Infof("%s: %s elapsed", name, elapsed.Round(time.Millisecond))
	}
	return err
}

// reportFailures prints the top offending archives recorded across every
// directive-processing phase of the run, if any directive failed.
func (o *Orchestrator) reportFailures() {
	top := o.Processor.FailureSummary(10)
	if len(top) == 0 {
		return
	}
	o.Logger.Warn(errors.Errorf("top failing sources: %v", top))
}

// download runs the collaborator and fails the run fatally if anything
// could not be obtained, printing the missing set sorted by descending
// declared size so the largest gaps are visible first.
func (o *Orchestrator) download(ctx context.Context) error {
	pending, err := o.Store.ListArchivesByDownloadStatus(store.DownloadPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	result, err := o.Downloader.Fetch(ctx, pending)
	if err != nil {
		return err
	}

	missing := append(append([]MissingArchive{}, result.Failed...), result.Manual...)
	if len(missing) == 0 {
		return nil
	}

	sort.Slice(missing, func(i, j int) bool { return missing[i].Size > missing[j].Size })
	for _, m := range missing {
		o.Logger.Error(errors.Errorf("missing archive %q (%s): %s", m.Name, m.Hash, humanize.Bytes(uint64(m.Size))))
	}
	return errors.Errorf("%d source archive(s) could not be obtained", len(missing))
}

// currentRSS returns the calling process's resident set size in bytes, or 0
// if it cannot be determined (unsupported platform, permission denied).
func currentRSS() uint64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	info, err := proc.MemoryInfo()
	if err != nil || info == nil {
		return 0
	}
	return info.RSS
}

// NeedsReimport is a thin re-export so the CLI host program can decide
// whether to call ImportManifest before constructing an Orchestrator,
// without importing the store package's manifest-fingerprint helper
// directly alongside this one.
func NeedsReimport(st *store.Store, modlistPath string) (bool, error) {
	size, mtime, err := manifest.Fingerprint(modlistPath)
	if err != nil {
		return false, err
	}
	return st.NeedsReimport(size, mtime)
}

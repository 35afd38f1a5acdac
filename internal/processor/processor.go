// Package processor implements the directive processor: the per-phase
// engine that turns a parsed, imported manifest into the output tree. It
// covers the Validate, Install, Patch, Texture, Archive Build, and Cleanup
// phases; Game Check and Download are external collaborators the
// orchestrator drives separately.
package processor

import (
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/eknkc/basex"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/wj-modforge/modforge/internal/config"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/store"
)

// tempIDAlphabet is used to render random identifiers (temp extraction
// directories, basis keys for game-derived files) as short, filesystem-safe
// strings instead of full UUIDs.
const tempIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

var tempIDEncoding = basex.NewEncoding(tempIDAlphabet)

func newTempID() string {
	id := uuid.New()
	return tempIDEncoding.Encode(id[:])
}

// Processor drives the install, patch, texture, archive-build, and cleanup
// phases against a single imported manifest. One Processor is constructed
// per run.
type Processor struct {
	Store        *store.Store
	Manifest     *manifest.Reader
	Config       config.Config
	Logger       *logging.Logger
	ModlistName  string
	OutputDir    string
	DownloadsDir string
	GameDir      string

	// Workers is the size of the shared worker pool, defaulting to the
	// host's logical CPU count.
	Workers int

	failures *failureTracker
}

// New constructs a Processor. workers <= 0 selects runtime.NumCPU().
func New(st *store.Store, mr *manifest.Reader, cfg config.Config, logger *logging.Logger, modlistName, outputDir, downloadsDir, gameDir string, workers int) *Processor {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Processor{
		Store:        st,
		Manifest:     mr,
		Config:       cfg,
		Logger:       logger,
		ModlistName:  modlistName,
		OutputDir:    outputDir,
		DownloadsDir: downloadsDir,
		GameDir:      gameDir,
		Workers:      workers,
		failures:     newFailureTracker(),
	}
}

// sizeTier classifies a source archive by byte size for install-phase
// scheduling.
type sizeTier int

const (
	tierSmall sizeTier = iota
	tierMedium
	tierLarge
)

const (
	mediumTierFloor = 512 * 1024 * 1024
	largeTierFloor  = 2 * 1024 * 1024 * 1024
)

func classifySize(size int64) sizeTier {
	switch {
	case size >= largeTierFloor:
		return tierLarge
	case size >= mediumTierFloor:
		return tierMedium
	default:
		return tierSmall
	}
}

// resolveArchivePath returns the local on-disk path for a source archive
// hash: the archive's resolved LocalPath if the download coordinator (or a
// prior GameFileSource resolution) set one, otherwise the conventional
// <downloads>/<name> path.
func (p *Processor) resolveArchivePath(hash string) (string, *store.Archive, error) {
	a, err := p.Store.GetArchive(hash)
	if err != nil {
		return "", nil, err
	}
	if a == nil {
		return "", nil, errors.Errorf("archive %q is not present in the imported manifest", hash)
	}

	path := a.LocalPath
	if path == "" {
		path = filepath.Join(p.DownloadsDir, a.Name)
	}
	if _, err := os.Stat(path); err != nil {
		return "", a, errors.Wrapf(err, "source archive %q (%s) not found at %q", a.Name, hash, path)
	}
	return path, a, nil
}

// stagingRoot is the output-tree directory CreateBSA directives stage their
// future archive's files under.
func (p *Processor) stagingRoot() string {
	return filepath.Join(p.OutputDir, "TEMP_BSA_FILES")
}

// scratchRoot is where per-archive extraction scratch directories live,
// directly under the output tree so a final rename-into-place never
// crosses a filesystem boundary.
func (p *Processor) scratchRoot() string {
	return filepath.Join(p.OutputDir, ".modforge_scratch")
}

// bsaWorkingRoot is the cache directory under the downloads directory that
// holds BSA/BA2 containers extracted out of generic archives across runs.
// Cleanup removes it at the end of a run along with the other staging
// directories; it is recreated on demand the next time it's needed.
func (p *Processor) bsaWorkingRoot() string {
	return filepath.Join(p.DownloadsDir, ".modforge_bsa_working")
}

func newScratchDir(root string) (string, error) {
	dir := filepath.Join(root, newTempID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "unable to create scratch directory %q", dir)
	}
	return dir, nil
}

// failureTracker counts per-archive directive failures across a phase so
// the phase-end summary can print the top-N offenders.
type failureTracker struct {
	mu     sync.Mutex
	counts map[string]int // keyed by archive hash (or "(no archive)" for archive-less failures)
	first  []string       // first N verbose error lines, across every phase
}

func newFailureTracker() *failureTracker {
	return &failureTracker{counts: make(map[string]int)}
}

func (t *failureTracker) record(key string, detail string, verboseLimit int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[key]++
	if len(t.first) < verboseLimit {
		t.first = append(t.first, detail)
	}
}

// TopN returns the n archives/kinds with the most recorded failures,
// descending.
func (t *failureTracker) TopN(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	type kv struct {
		key   string
		count int
	}
	kvs := make([]kv, 0, len(t.counts))
	for k, c := range t.counts {
		kvs = append(kvs, kv{k, c})
	}
	for i := 1; i < len(kvs); i++ {
		for j := i; j > 0 && kvs[j-1].count < kvs[j].count; j-- {
			kvs[j-1], kvs[j] = kvs[j], kvs[j-1]
		}
	}
	if n > len(kvs) {
		n = len(kvs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = errors.Errorf("%s (%d failures)", kvs[i].key, kvs[i].count).Error()
	}
	return out
}

// VerboseErrors returns the first-recorded verbose error lines, up to the
// limit passed to record calls.
func (t *failureTracker) VerboseErrors() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, len(t.first))
	copy(out, t.first)
	return out
}

// FailureSummary exposes the accumulated top-N offenders across every
// phase run by this Processor, for the phase-end failure summary.
func (p *Processor) FailureSummary(n int) []string {
	return p.failures.TopN(n)
}

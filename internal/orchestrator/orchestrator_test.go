package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/wj-modforge/modforge/internal/config"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/processor"
	"github.com/wj-modforge/modforge/internal/store"
)

var errTestGameCheckFailed = errors.New("game check failed")

type fakeGameChecker struct {
	called bool
	err    error
}

func (f *fakeGameChecker) Check(ctx context.Context, gameDir string) error {
	f.called = true
	return f.err
}

type fakeDownloader struct {
	result DownloadResult
	err    error
}

func (f *fakeDownloader) Fetch(ctx context.Context, pending []store.Archive) (DownloadResult, error) {
	return f.result, f.err
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	logger := logging.New(logging.LevelDisabled)
	proc := processor.New(st, nil, config.Config{}, logger, "Test List", t.TempDir(), t.TempDir(), "", 1)
	return &Orchestrator{Store: st, Processor: proc, Logger: logger}, st
}

func TestRunStopsAfterFailedGameCheck(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	checker := &fakeGameChecker{err: errTestGameCheckFailed}
	orch.GameChecker = checker

	err := orch.Run(context.Background(), "/nonexistent")
	if err == nil {
		t.Fatal("expected a failing game check to stop the run")
	}
	if !checker.called {
		t.Error("expected the game checker to have been invoked")
	}
}

func TestRunFailsFatallyOnMissingArchives(t *testing.T) {
	orch, st := newTestOrchestrator(t)
	modlist := &manifest.Modlist{
		Name:     "Test List",
		Archives: []manifest.Archive{{Hash: "archive1", Name: "mod.zip", Size: 10}},
	}
	if err := st.ImportManifest(modlist, 1, 1); err != nil {
		t.Fatal(err)
	}

	orch.Downloader = &fakeDownloader{result: DownloadResult{
		Failed: []MissingArchive{{Name: "mod.zip", Hash: "archive1", Size: 10}},
	}}

	err := orch.Run(context.Background(), "")
	if err == nil {
		t.Fatal("expected missing archives to fail the run")
	}
}

func TestRunCompletesWithNoCollaborators(t *testing.T) {
	orch, _ := newTestOrchestrator(t)
	if err := orch.Run(context.Background(), ""); err != nil {
		t.Fatalf("expected a run with no pending work to complete cleanly: %v", err)
	}
}

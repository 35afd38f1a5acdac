package processor

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wj-modforge/modforge/internal/config"
	"github.com/wj-modforge/modforge/internal/logging"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/store"
)

func modlistWithDestination(dest string) *manifest.Modlist {
	return &manifest.Modlist{
		Name: "Test List",
		Directives: []manifest.Directive{
			{Kind: manifest.KindInlineFile, To: dest, Hash: "", Size: 4,
				Payload: manifest.InlineFileDirective{To: dest, Size: 4, SourceDataID: "blob-1"}},
		},
	}
}

func newTestProcessor(t *testing.T, outputDir, downloadsDir string) *Processor {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, nil, config.Config{}, logging.New(logging.LevelDisabled), "Test List", outputDir, downloadsDir, "", 1)
}

func TestIsProtected(t *testing.T) {
	protected, err := protectedPrefix("/base/downloads")
	if err != nil {
		t.Fatal(err)
	}
	if !isProtected("/base/downloads", protected) {
		t.Error("expected the downloads directory itself to be protected")
	}
	if !isProtected("/base/downloads/a.zip", protected) {
		t.Error("expected a file inside the downloads directory to be protected")
	}
	if isProtected("/base/downloads2/a.zip", protected) {
		t.Error("did not expect a sibling directory with a shared prefix to be protected")
	}
	if isProtected("/base/output/a.zip", protected) {
		t.Error("did not expect an unrelated directory to be protected")
	}
}

func TestIsProtectedWithNoDownloadsConfigured(t *testing.T) {
	protected, err := protectedPrefix("")
	if err != nil {
		t.Fatal(err)
	}
	if isProtected("/anything", protected) {
		t.Error("expected no protection when downloads dir is unset")
	}
}

func TestCleanupPhaseRemovesUnexpectedFiles(t *testing.T) {
	outputDir := t.TempDir()
	downloadsDir := t.TempDir()

	expectedPath := filepath.Join(outputDir, "Data", "keep.esp")
	if err := os.MkdirAll(filepath.Dir(expectedPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(expectedPath, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}

	unexpectedPath := filepath.Join(outputDir, "Data", "leftover.tmp")
	if err := os.WriteFile(unexpectedPath, []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	emptyDir := filepath.Join(outputDir, "Data", "EmptyAfterSweep")
	if err := os.MkdirAll(emptyDir, 0o755); err != nil {
		t.Fatal(err)
	}

	nestedDownloads := filepath.Join(outputDir, "downloads-nested")
	if err := os.MkdirAll(nestedDownloads, 0o755); err != nil {
		t.Fatal(err)
	}
	nestedDownloadFile := filepath.Join(nestedDownloads, "archive.7z")
	if err := os.WriteFile(nestedDownloadFile, []byte("dl"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestProcessor(t, outputDir, nestedDownloads)
	if err := p.Store.ImportManifest(modlistWithDestination("Data/keep.esp"), 1, 1); err != nil {
		t.Fatal(err)
	}

	if err := p.CleanupPhase(); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(expectedPath); err != nil {
		t.Errorf("expected declared output to survive cleanup: %v", err)
	}
	if _, err := os.Stat(unexpectedPath); !os.IsNotExist(err) {
		t.Errorf("expected unexpected file to be removed, stat err = %v", err)
	}
	if _, err := os.Stat(emptyDir); !os.IsNotExist(err) {
		t.Errorf("expected now-empty directory to be pruned, stat err = %v", err)
	}
	if _, err := os.Stat(nestedDownloadFile); err != nil {
		t.Errorf("expected downloads directory nested under output to survive cleanup: %v", err)
	}
}

package processor

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/store"
)

func writeTestZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestValidatePhaseIndexesDownloadedArchive(t *testing.T) {
	downloadsDir := t.TempDir()
	archivePath := filepath.Join(downloadsDir, "mod.zip")
	writeTestZip(t, archivePath, map[string]string{"meshes/thing.nif": "data"})

	info, err := os.Stat(archivePath)
	if err != nil {
		t.Fatal(err)
	}

	p := newTestProcessor(t, t.TempDir(), downloadsDir)
	modlist := &manifest.Modlist{
		Name:     "Test List",
		Archives: []manifest.Archive{{Hash: "archive1", Name: "mod.zip", Size: info.Size()}},
	}
	if err := p.Store.ImportManifest(modlist, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.Store.UpdateDownloadStatus("archive1", store.DownloadCompleted, archivePath); err != nil {
		t.Fatal(err)
	}

	if err := p.ValidatePhase(context.Background()); err != nil {
		t.Fatal(err)
	}

	a, err := p.Store.GetArchive("archive1")
	if err != nil {
		t.Fatal(err)
	}
	if a.ExtractionStatus != store.ExtractionExtracted {
		t.Fatalf("expected archive to be indexed, got extraction status %q", a.ExtractionStatus)
	}

	original, ok, err := p.Store.LookupIndexed("archive1", "meshes/thing.nif")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || original != "meshes/thing.nif" {
		t.Fatalf("expected indexed lookup to find the entry, got ok=%v original=%q", ok, original)
	}
}

func TestValidatePhaseResetsCorruptDownload(t *testing.T) {
	downloadsDir := t.TempDir()
	archivePath := filepath.Join(downloadsDir, "mod.zip")
	if err := os.WriteFile(archivePath, []byte("short"), 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestProcessor(t, t.TempDir(), downloadsDir)
	modlist := &manifest.Modlist{
		Name:     "Test List",
		Archives: []manifest.Archive{{Hash: "archive1", Name: "mod.zip", Size: 99999}},
	}
	if err := p.Store.ImportManifest(modlist, 1, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.Store.UpdateDownloadStatus("archive1", store.DownloadCompleted, archivePath); err != nil {
		t.Fatal(err)
	}

	if err := p.ValidatePhase(context.Background()); err != nil {
		t.Fatal(err)
	}

	a, err := p.Store.GetArchive("archive1")
	if err != nil {
		t.Fatal(err)
	}
	if a.DownloadStatus != store.DownloadPending {
		t.Fatalf("expected a size-mismatched archive to be reset to pending download, got %q", a.DownloadStatus)
	}
}

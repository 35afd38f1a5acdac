package processor

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/wj-modforge/modforge/internal/hashutil"
	"github.com/wj-modforge/modforge/internal/manifest"
	"github.com/wj-modforge/modforge/internal/store"
)

func modlistWithFromArchive(dest, hash string, size int64) *manifest.Modlist {
	return &manifest.Modlist{
		Name: "Test List",
		Archives: []manifest.Archive{
			{Hash: "archive1", Name: "a.zip", Size: 10},
		},
		Directives: []manifest.Directive{
			{Kind: manifest.KindFromArchive, To: dest, Hash: hash, Size: size,
				Payload: manifest.FromArchiveDirective{To: dest, Hash: hash, Size: size, ArchiveHashPath: []string{"archive1", "meshes/thing.nif"}}},
		},
	}
}

func completeFirstPending(t *testing.T, p *Processor) int64 {
	t.Helper()
	pending, err := p.Store.ListPendingByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected exactly 1 pending directive, got %d", len(pending))
	}
	if err := p.Store.MarkCompleted(pending[0].ID); err != nil {
		t.Fatal(err)
	}
	return pending[0].ID
}

func TestVerifyPhaseLeavesMatchingOutputAlone(t *testing.T) {
	outputDir := t.TempDir()
	content := []byte("the quick brown fox")
	hash, err := hashutil.FullHash(bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(outputDir, "Data", "Foo.bin")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, content, 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestProcessor(t, outputDir, t.TempDir())
	if err := p.Store.ImportManifest(modlistWithFromArchive("Data/Foo.bin", hash, int64(len(content))), 1, 1); err != nil {
		t.Fatal(err)
	}
	id := completeFirstPending(t, p)

	if err := p.VerifyPhase(); err != nil {
		t.Fatal(err)
	}

	completed, err := p.Store.ListCompletedByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 || completed[0].ID != id {
		t.Fatal("expected the matching directive to remain completed")
	}
}

func TestVerifyPhaseRevertsCorruptedOutput(t *testing.T) {
	outputDir := t.TempDir()
	original := []byte("the quick brown fox")
	hash, err := hashutil.FullHash(bytes.NewReader(original))
	if err != nil {
		t.Fatal(err)
	}

	dest := filepath.Join(outputDir, "Data", "Foo.bin")
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dest, original, 0o644); err != nil {
		t.Fatal(err)
	}

	p := newTestProcessor(t, outputDir, t.TempDir())
	if err := p.Store.ImportManifest(modlistWithFromArchive("Data/Foo.bin", hash, int64(len(original))), 1, 1); err != nil {
		t.Fatal(err)
	}
	completeFirstPending(t, p)

	if err := os.WriteFile(dest, []byte("the quick brown fox, tampered"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := p.VerifyPhase(); err != nil {
		t.Fatal(err)
	}

	pending, err := p.Store.ListPendingByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatal("expected the size-mismatched directive to be reverted to pending")
	}
}

func TestVerifyPhaseRevertsMissingOutput(t *testing.T) {
	outputDir := t.TempDir()
	content := []byte("gone")
	hash, err := hashutil.FullHash(bytes.NewReader(content))
	if err != nil {
		t.Fatal(err)
	}

	p := newTestProcessor(t, outputDir, t.TempDir())
	if err := p.Store.ImportManifest(modlistWithFromArchive("Data/Missing.bin", hash, int64(len(content))), 1, 1); err != nil {
		t.Fatal(err)
	}
	completeFirstPending(t, p)

	if err := p.VerifyPhase(); err != nil {
		t.Fatal(err)
	}

	pending, err := p.Store.ListPendingByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatal("expected a missing output file to be reverted to pending")
	}
}


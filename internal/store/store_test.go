package store

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/wj-modforge/modforge/internal/hashutil"
	"github.com/wj-modforge/modforge/internal/manifest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func testModlist() *manifest.Modlist {
	return &manifest.Modlist{
		Name:    "Test List",
		Version: "1.0",
		Archives: []manifest.Archive{
			{Hash: "archive1", Name: "a.zip", Size: 100},
		},
		Directives: []manifest.Directive{
			{Kind: manifest.KindFromArchive, To: "Data/Foo.bin", Hash: "h1", Size: 3,
				Payload: manifest.FromArchiveDirective{To: "Data/Foo.bin", Hash: "h1", Size: 3, ArchiveHashPath: []string{"archive1", "data/foo.bin"}}},
			{Kind: manifest.KindInlineFile, To: "Data/inline.txt", Hash: "h2", Size: 2,
				Payload: manifest.InlineFileDirective{To: "Data/inline.txt", Hash: "h2", Size: 2, SourceDataID: "blob-1"}},
		},
	}
}

func TestNeedsReimportOnFreshStore(t *testing.T) {
	st := openTestStore(t)

	needs, err := st.NeedsReimport(123, 456)
	if err != nil {
		t.Fatal(err)
	}
	if !needs {
		t.Fatal("expected a fresh store to need reimport")
	}

	if err := st.ImportManifest(testModlist(), 123, 456); err != nil {
		t.Fatal(err)
	}

	needs, err = st.NeedsReimport(123, 456)
	if err != nil {
		t.Fatal(err)
	}
	if needs {
		t.Fatal("expected an unchanged fingerprint to not need reimport")
	}

	needs, err = st.NeedsReimport(123, 789)
	if err != nil {
		t.Fatal(err)
	}
	if !needs {
		t.Fatal("expected a changed mtime to need reimport")
	}
}

func TestImportManifestRoundTrip(t *testing.T) {
	st := openTestStore(t)
	if err := st.ImportManifest(testModlist(), 1, 1); err != nil {
		t.Fatal(err)
	}

	a, err := st.GetArchive("archive1")
	if err != nil {
		t.Fatal(err)
	}
	if a == nil {
		t.Fatal("expected archive1 to be present")
	}
	if a.Size != 100 || a.DownloadStatus != DownloadPending {
		t.Errorf("unexpected archive record: %+v", a)
	}

	directives, err := st.ListPendingByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	if len(directives) != 1 {
		t.Fatalf("expected 1 pending FromArchive directive, got %d", len(directives))
	}
	if directives[0].ArchiveHash != "archive1" {
		t.Errorf("expected archive hash to be derived from payload, got %q", directives[0].ArchiveHash)
	}

	dests, err := st.ListAllDestinations()
	if err != nil {
		t.Fatal(err)
	}
	if len(dests) != 2 {
		t.Fatalf("expected 2 destinations, got %d", len(dests))
	}
}

func TestDirectiveStatusTransitions(t *testing.T) {
	st := openTestStore(t)
	if err := st.ImportManifest(testModlist(), 1, 1); err != nil {
		t.Fatal(err)
	}

	directives, err := st.ListPendingByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	id := directives[0].ID

	if err := st.MarkProcessing(id); err != nil {
		t.Fatal(err)
	}
	if n, err := st.ResetProcessingToPending(); err != nil {
		t.Fatal(err)
	} else if n != 1 {
		t.Fatalf("expected 1 directive reset, got %d", n)
	}

	if err := st.MarkCompleted(id); err != nil {
		t.Fatal(err)
	}
	completed, err := st.ListCompletedByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 1 || completed[0].ID != id {
		t.Fatalf("expected directive %d to be completed, got %+v", id, completed)
	}

	if err := st.RevertToPending(id); err != nil {
		t.Fatal(err)
	}
	pending, err := st.ListPendingByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatal("expected directive to be pending again after revert")
	}
}

func TestPatchBasisCacheRoundTrip(t *testing.T) {
	st := openTestStore(t)

	key := BasisKey("archive1", "data/foo.bsa", "meshes/thing.nif")
	basisPath := filepath.Join(t.TempDir(), "thing.nif")
	if err := os.WriteFile(basisPath, bytes.Repeat([]byte("x"), 42), 0o644); err != nil {
		t.Fatal(err)
	}
	quick, err := hashutil.QuickHashFile(basisPath)
	if err != nil {
		t.Fatal(err)
	}
	rec := PatchBasisRecord{LocalOutputPath: basisPath, Size: 42, QuickHash: quick}
	if err := st.UpsertPatchBasis("Test List", key, rec); err != nil {
		t.Fatal(err)
	}

	verified, err := st.LoadVerifiedBasis("Test List")
	if err != nil {
		t.Fatal(err)
	}
	got, ok := verified[key]
	if !ok {
		t.Fatalf("expected basis key %q to be present", key)
	}
	if got.LocalOutputPath != rec.LocalOutputPath || got.Size != rec.Size || got.QuickHash != rec.QuickHash {
		t.Errorf("basis record mismatch: %+v", got)
	}
}

func TestFullHashCheckMemo(t *testing.T) {
	st := openTestStore(t)

	if _, ok := st.FullHashCheckMemo("/tmp/x", 10, 100); ok {
		t.Fatal("expected no memoized result before any MemoizeFullHashCheck call")
	}

	st.MemoizeFullHashCheck("/tmp/x", 10, 100, true)
	matched, ok := st.FullHashCheckMemo("/tmp/x", 10, 100)
	if !ok || !matched {
		t.Fatalf("expected memoized match, got matched=%v ok=%v", matched, ok)
	}

	if _, ok := st.FullHashCheckMemo("/tmp/x", 11, 100); ok {
		t.Fatal("expected a different size to miss the memo")
	}
}

func TestResetAllForArchiveHash(t *testing.T) {
	st := openTestStore(t)
	if err := st.ImportManifest(testModlist(), 1, 1); err != nil {
		t.Fatal(err)
	}

	directives, err := st.ListPendingByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	id := directives[0].ID
	if err := st.MarkCompleted(id); err != nil {
		t.Fatal(err)
	}

	if err := st.ResetAllForArchiveHash("archive1"); err != nil {
		t.Fatal(err)
	}

	completed, err := st.ListCompletedByType(manifest.KindFromArchive)
	if err != nil {
		t.Fatal(err)
	}
	if len(completed) != 0 {
		t.Fatal("expected completed directive to remain completed, since ResetAllForArchiveHash excludes completed rows")
	}
}

package manifest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeTestManifest(t *testing.T, modlistJSON string, blobs map[string][]byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.manifest")

	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.Create("modlist")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte(modlistJSON)); err != nil {
		t.Fatal(err)
	}
	for name, data := range blobs {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadModlistParsesDirectiveVariants(t *testing.T) {
	modlistJSON := `{
		"Name": "Test List",
		"Version": "1.0",
		"WabbajackVersion": "3.0",
		"GameType": "SkyrimSpecialEdition",
		"Archives": [{"Hash": "abc", "Meta": "", "Name": "a.zip", "Size": 3, "State": {}}],
		"Directives": [
			{"$type": "FromArchive", "To": "Data/Foo.bin", "Hash": "h1", "Size": 3, "ArchiveHashPath": ["abc", "data/foo.bin"]},
			{"$type": "InlineFile", "To": "Data/inline.txt", "Hash": "h2", "Size": 0, "SourceDataID": "blob-1"}
		]
	}`

	path := writeTestManifest(t, modlistJSON, map[string][]byte{"blob-1": []byte("hi")})

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	modlist, err := r.ReadModlist()
	if err != nil {
		t.Fatalf("ReadModlist: %v", err)
	}
	if len(modlist.Directives) != 2 {
		t.Fatalf("expected 2 directives, got %d", len(modlist.Directives))
	}
	if modlist.Directives[0].Kind != KindFromArchive {
		t.Errorf("expected FromArchive, got %s", modlist.Directives[0].Kind)
	}
	payload, ok := modlist.Directives[0].Payload.(FromArchiveDirective)
	if !ok {
		t.Fatalf("expected FromArchiveDirective payload, got %T", modlist.Directives[0].Payload)
	}
	if len(payload.ArchiveHashPath) != 2 || payload.ArchiveHashPath[0] != "abc" {
		t.Errorf("unexpected archive hash path: %v", payload.ArchiveHashPath)
	}

	blob, err := r.ReadBlob("blob-1")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blob, []byte("hi")) {
		t.Errorf("blob mismatch: %q", blob)
	}
}

func TestUnrecognizedDirectiveVariantFailsLoudly(t *testing.T) {
	var d Directive
	err := json.Unmarshal([]byte(`{"$type": "SomeFutureDirective", "To": "x"}`), &d)
	if err == nil {
		t.Fatal("expected an error for an unrecognized directive variant")
	}
}

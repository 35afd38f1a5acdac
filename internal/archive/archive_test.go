package archive

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
)

func TestDetectBytesRecognizesEachFamily(t *testing.T) {
	cases := []struct {
		name   string
		header []byte
		want   Family
	}{
		{"zip", []byte("PK\x03\x04rest"), FamilyZip},
		{"7z", append([]byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}, 0, 0), FamilySevenZip},
		{"rar5", []byte("Rar!\x1A\x07\x01\x00"), FamilyRar},
		{"bsa", []byte("BSA\x00\x67\x00\x00\x00"), FamilyBSA},
		{"ba2", []byte("BTDXrestofheader"), FamilyBA2},
		{"unknown", []byte("not an archive"), FamilyUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := DetectBytes(c.header); got != c.want {
				t.Fatalf("DetectBytes(%q) = %s, want %s", c.name, got, c.want)
			}
		})
	}
}

func TestDetectIgnoresExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "disguised.rar")
	if err := os.WriteFile(path, []byte("PK\x03\x04\x14\x00\x00\x00"), 0o644); err != nil {
		t.Fatal(err)
	}
	family, err := Detect(path)
	if err != nil {
		t.Fatal(err)
	}
	if family != FamilyZip {
		t.Fatalf("Detect(%q) = %s, want zip despite .rar extension", path, family)
	}
}

func TestBSARoundTripUncompressed(t *testing.T) {
	testBSARoundTrip(t, 103, false)
}

func TestBSARoundTripCompressed(t *testing.T) {
	testBSARoundTrip(t, 104, true)
}

func TestBSARoundTripV105(t *testing.T) {
	testBSARoundTrip(t, 105, true)
}

func testBSARoundTrip(t *testing.T, version uint32, compressed bool) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "test.bsa")

	b := NewBSABuilder(version, 0, 0, compressed)
	b.AddFile("meshes\\armor\\a.nif", []byte("nif-bytes-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))
	b.AddFile("meshes\\armor\\b.nif", []byte("second file, different content, should compress reasonably well well well well"))
	b.AddFile("textures\\rock.dds", []byte{0x44, 0x44, 0x53, 0x20, 1, 2, 3, 4, 5})

	if err := b.Build(out); err != nil {
		t.Fatalf("Build: %v", err)
	}

	r, err := openBSA(out)
	if err != nil {
		t.Fatalf("openBSA: %v", err)
	}
	defer r.Close()

	entries, err := r.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}

	want := map[string][]byte{
		"meshes/armor/a.nif": []byte("nif-bytes-aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		"meshes/armor/b.nif": []byte("second file, different content, should compress reasonably well well well well"),
		"textures/rock.dds":  {0x44, 0x44, 0x53, 0x20, 1, 2, 3, 4, 5},
	}
	for path, data := range want {
		got, err := r.ExtractFile(path)
		if err != nil {
			t.Fatalf("ExtractFile(%q): %v", path, err)
		}
		if string(got) != string(data) {
			t.Fatalf("ExtractFile(%q) = %q, want %q", path, got, data)
		}
	}
}

func TestBSAMagicDetectedAfterBuild(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "built.bsa")
	b := NewBSABuilder(105, 0, 0, false)
	b.AddFile("x.nif", []byte("abc"))
	if err := b.Build(out); err != nil {
		t.Fatal(err)
	}
	family, err := Detect(out)
	if err != nil {
		t.Fatal(err)
	}
	if family != FamilyBSA {
		t.Fatalf("Detect(built.bsa) = %s, want bsa", family)
	}
}

func TestBA2GNRLRoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "test.ba2")

	b := NewBA2Builder(1, false, true)
	b.AddFile("textures/a.dds", []byte("texture-data-goes-here-texture-data-goes-here"))
	b.AddFile("meshes/b.nif", []byte("mesh-bytes"))

	if err := b.Build(out); err != nil {
		t.Fatalf("Build: %v", err)
	}

	family, err := Detect(out)
	if err != nil {
		t.Fatal(err)
	}
	if family != FamilyBA2 {
		t.Fatalf("Detect(built.ba2) = %s, want ba2", family)
	}

	r, err := openBA2(out)
	if err != nil {
		t.Fatalf("openBA2: %v", err)
	}
	defer r.Close()

	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	var paths []string
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	sort.Strings(paths)
	if len(paths) != 2 || paths[0] != "meshes/b.nif" || paths[1] != "textures/a.dds" {
		t.Fatalf("unexpected entries: %v", paths)
	}

	got, err := r.ExtractFile("textures/a.dds")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "texture-data-goes-here-texture-data-goes-here" {
		t.Fatalf("ExtractFile mismatch: %q", got)
	}
}

func TestBA2DX10RoundTrip(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "test_dx10.ba2")

	b := NewBA2Builder(1, true, false)
	b.AddFile("textures/rock.dds", []byte("0123456789abcdef"))
	b.AddTextureLayout("textures/rock.dds", DX10ChunkSpec{EndMip: 0, Height: 64, Width: 64, NumMips: 1, PixelFormat: 27})

	if err := b.Build(out); err != nil {
		t.Fatalf("Build: %v", err)
	}

	r, err := openBA2(out)
	if err != nil {
		t.Fatalf("openBA2: %v", err)
	}
	defer r.Close()

	got, err := r.ExtractFile("textures/rock.dds")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "0123456789abcdef" {
		t.Fatalf("ExtractFile mismatch: %q", got)
	}
}

func TestWholeFileReader(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "payload.bin")
	if err := os.WriteFile(src, []byte("plain bytes, not a container"), 0o644); err != nil {
		t.Fatal(err)
	}

	r, family, err := Open(src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	if family != FamilyUnknown {
		t.Fatalf("family = %s, want unknown (whole-file)", family)
	}

	entries, err := r.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Path != "payload.bin" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestIsBethesda(t *testing.T) {
	for _, f := range []Family{FamilyBSA, FamilyBA2, FamilyTES3BSA} {
		if !IsBethesda(f) {
			t.Fatalf("IsBethesda(%s) = false, want true", f)
		}
	}
	for _, f := range []Family{FamilyZip, FamilySevenZip, FamilyRar, FamilyUnknown} {
		if IsBethesda(f) {
			t.Fatalf("IsBethesda(%s) = true, want false", f)
		}
	}
}

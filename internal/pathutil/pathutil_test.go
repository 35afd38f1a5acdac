package pathutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeForLookupIdempotent(t *testing.T) {
	cases := []string{
		`Textures\Rock.DDS`,
		"textures/rock.dds",
		"/Textures/Rock.dds/",
		`DATA\Meshes\Foo.NIF`,
	}
	for _, c := range cases {
		once := NormalizeForLookup(c)
		twice := NormalizeForLookup(once)
		if once != twice {
			t.Errorf("NormalizeForLookup(%q) not idempotent: %q vs %q", c, once, twice)
		}
	}
}

func TestNormalizeForLookupWindowsMatchesUnix(t *testing.T) {
	windows := `Data\Textures\Rock.DDS`
	unix := "data/textures/rock.dds"
	if NormalizeForLookup(windows) != NormalizeForLookup(unix) {
		t.Errorf("expected normalized forms to match: %q vs %q", NormalizeForLookup(windows), NormalizeForLookup(unix))
	}
}

func TestJoinOutput(t *testing.T) {
	got := JoinOutput("/out", `Data\Textures\Rock.dds`)
	want := filepath.Join("/out", "Data", "Textures", "Rock.dds")
	if got != want {
		t.Errorf("JoinOutput = %q, want %q", got, want)
	}
}

func TestEnsureDirRemovesBlockingFile(t *testing.T) {
	root := t.TempDir()
	blocked := filepath.Join(root, "Data", "Textures")

	if err := os.MkdirAll(filepath.Dir(blocked), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(blocked, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureDir(blocked); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	info, err := os.Stat(blocked)
	if err != nil {
		t.Fatal(err)
	}
	if !info.IsDir() {
		t.Fatalf("expected %q to be a directory", blocked)
	}
}

func TestResolveCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "Data", "Textures")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}

	resolved, err := ResolveCaseInsensitive(root, `data\TEXTURES`)
	if err != nil {
		t.Fatalf("ResolveCaseInsensitive: %v", err)
	}
	if resolved != nested {
		t.Errorf("resolved = %q, want %q", resolved, nested)
	}
}

func TestDecodeArchiveNameValidUTF8Passthrough(t *testing.T) {
	name := "Rüstung.esp"
	if got := DecodeArchiveName([]byte(name)); got != name {
		t.Errorf("DecodeArchiveName passthrough = %q, want %q", got, name)
	}
}

func TestCP437RoundTripsHighBytes(t *testing.T) {
	// 0x81 maps to U+00FC (ü) in CP437 and is not valid standalone UTF-8.
	raw := []byte{0x81}
	decoded, err := CP437ToUTF8(raw)
	if err != nil {
		t.Fatalf("CP437ToUTF8: %v", err)
	}
	if decoded != "ü" {
		t.Errorf("CP437ToUTF8(0x81) = %q, want %q", decoded, "ü")
	}
}

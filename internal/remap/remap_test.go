package remap

import "testing"

func TestNoSentinelReturnsVerbatim(t *testing.T) {
	data := []byte("just some plain binary-ish content, no tokens here")
	roots := Roots{Output: "/o", Game: "/g", Downloads: "/o/dl"}
	got := Apply(data, roots)
	if string(got) != string(data) {
		t.Fatalf("expected verbatim passthrough, got %q", got)
	}
}

func TestMO2PathMagicForward(t *testing.T) {
	roots := Roots{Output: "/o/Mod Organizer 2", Game: "/g", Downloads: "/dl"}
	got := Apply([]byte("path={--||MO2_PATH_MAGIC_FORWARD||--}/foo"), roots)
	want := "path=Z:/o/Mod Organizer 2/foo"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMO2PathMagicBack(t *testing.T) {
	roots := Roots{Output: "/o", Game: "/g", Downloads: "/dl"}
	got := Apply([]byte("p={--||MO2_PATH_MAGIC_BACK||--}"), roots)
	want := `p=Z:\o`
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestLegacyPlaceholder(t *testing.T) {
	roots := Roots{Output: "/o", Game: "/g", Downloads: "/dl"}
	got := Apply([]byte("root=[MO2_PATH]\\mods"), roots)
	want := "root=Z:\\o\\mods"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestDownloadDirectoryLineRewrite(t *testing.T) {
	roots := Roots{Output: "/o", Game: "/g", Downloads: "/o/dl"}
	got := Apply([]byte("download_directory=E:/Downloads\ncustom=normal"), roots)
	want := "download_directory=Z:\\o\\dl\ncustom=normal"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

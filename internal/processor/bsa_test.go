package processor

import (
	"os"
	"path/filepath"
	"testing"
)

func TestVerifyBuiltArchiveMagic(t *testing.T) {
	dir := t.TempDir()

	bsaPath := filepath.Join(dir, "out.bsa")
	if err := os.WriteFile(bsaPath, append([]byte("BSA\x00"), []byte{0, 0, 0}...), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyBuiltArchiveMagic(bsaPath, "BSA"); err != nil {
		t.Errorf("expected a valid BSA header to pass verification: %v", err)
	}

	ba2Path := filepath.Join(dir, "out.ba2")
	if err := os.WriteFile(ba2Path, append([]byte("BTDX"), []byte{0, 0, 0}...), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyBuiltArchiveMagic(ba2Path, "BA2"); err != nil {
		t.Errorf("expected a valid BA2 header to pass verification: %v", err)
	}

	wrongPath := filepath.Join(dir, "wrong.bsa")
	if err := os.WriteFile(wrongPath, []byte("NOPE"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyBuiltArchiveMagic(wrongPath, "BSA"); err == nil {
		t.Error("expected a mismatched magic to fail verification")
	}

	truncatedPath := filepath.Join(dir, "short.bsa")
	if err := os.WriteFile(truncatedPath, []byte("BS"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := verifyBuiltArchiveMagic(truncatedPath, "BSA"); err == nil {
		t.Error("expected a truncated header to fail verification")
	}
}

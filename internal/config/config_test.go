package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	for _, name := range []string{
		"SELECTIVE_EXTRACT_THRESHOLD", "SOLID_7Z_SELECTIVE_THRESHOLD",
		"PRELOAD_PATCH_BLOBS", "BC1_FALLBACK_ON_UNSUPPORTED", "MODFORGE_DOTENV",
	} {
		t.Setenv(name, "")
	}

	cfg := Load()
	if cfg.SelectiveExtractThreshold != defaultSelectiveExtractThreshold {
		t.Errorf("SelectiveExtractThreshold = %d, want %d", cfg.SelectiveExtractThreshold, defaultSelectiveExtractThreshold)
	}
	if cfg.Solid7zSelectiveThreshold != defaultSolid7zSelectiveThreshold {
		t.Errorf("Solid7zSelectiveThreshold = %d, want %d", cfg.Solid7zSelectiveThreshold, defaultSolid7zSelectiveThreshold)
	}
	if !cfg.PreloadPatchBlobs {
		t.Error("expected PreloadPatchBlobs to default true")
	}
	if !cfg.BC1FallbackOnUnsupported {
		t.Error("expected BC1FallbackOnUnsupported to default true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SELECTIVE_EXTRACT_THRESHOLD", "99")
	t.Setenv("PRELOAD_PATCH_BLOBS", "false")
	t.Setenv("BC1_FALLBACK_ON_UNSUPPORTED", "false")

	cfg := Load()
	if cfg.SelectiveExtractThreshold != 99 {
		t.Errorf("SelectiveExtractThreshold = %d, want 99", cfg.SelectiveExtractThreshold)
	}
	if cfg.PreloadPatchBlobs {
		t.Error("expected PreloadPatchBlobs override to false")
	}
	if cfg.BC1FallbackOnUnsupported {
		t.Error("expected BC1FallbackOnUnsupported override to false")
	}
}

func TestIntEnvFallsBackOnUnparsable(t *testing.T) {
	t.Setenv("SELECTIVE_EXTRACT_THRESHOLD", "not-a-number")
	cfg := Load()
	if cfg.SelectiveExtractThreshold != defaultSelectiveExtractThreshold {
		t.Errorf("expected fallback to default on unparsable value, got %d", cfg.SelectiveExtractThreshold)
	}
}

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

func fakeDDS(body string) []byte {
	header := make([]byte, 128)
	copy(header, "DDS ")
	return append(header, []byte(body)...)
}

func newTextureTestProcessor(t *testing.T, outputDir string, cfg config.Config) *Processor {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return New(st, nil, cfg, logging.New(logging.LevelDisabled), "Test List", outputDir, t.TempDir(), "", 1)
}

func textureDirective(dest string) store.Directive {
	return store.Directive{ID: 1, Kind: manifest.KindTransformedTexture, Destination: dest, ArchiveHash: "archive1"}
}

func TestApplyTextureTransformFallsBackOnUnsupportedFormat(t *testing.T) {
	outputDir := t.TempDir()
	cfg := config.Config{BC1FallbackOnUnsupported: true}
	p := newTextureTestProcessor(t, outputDir, cfg)

	source := fakeDDS("unchanged-pixels")
	j := textureJob{
		directive: textureDirective("Textures/odd.dds"),
		payload: manifest.TransformedTextureDirective{
			To:              "Textures/odd.dds",
			ArchiveHashPath: []string{"archive1", "textures/odd.dds"},
			ImageState:      manifest.ImageState{Width: 4, Height: 4, Format: "BC7"},
		},
	}

	p.applyTextureTransform(p.Logger, j, source)

	dest := p.outputPath(j.directive.Destination)
	written, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("expected the fallback copy to be written: %v", err)
	}
	if string(written) != string(source) {
		t.Error("expected the fallback path to write the source bytes verbatim")
	}
}

func TestApplyTextureTransformFailsOnUnsupportedFormatWithoutFallback(t *testing.T) {
	outputDir := t.TempDir()
	cfg := config.Config{BC1FallbackOnUnsupported: false}
	p := newTextureTestProcessor(t, outputDir, cfg)

	modlist := &manifest.Modlist{
		Name: "Test List",
		Directives: []manifest.Directive{
			{Kind: manifest.KindTransformedTexture, To: "Textures/odd.dds", Size: 4,
				Payload: manifest.TransformedTextureDirective{To: "Textures/odd.dds", ImageState: manifest.ImageState{Format: "BC7"}}},
		},
	}
	if err := p.Store.ImportManifest(modlist, 1, 1); err != nil {
		t.Fatal(err)
	}
	pending, err := p.Store.ListPendingByType(manifest.KindTransformedTexture)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected exactly one pending directive, err=%v", err)
	}

	j := textureJob{
		directive: pending[0],
		payload: manifest.TransformedTextureDirective{
			To:              "Textures/odd.dds",
			ArchiveHashPath: []string{"archive1", "textures/odd.dds"},
			ImageState:      manifest.ImageState{Width: 4, Height: 4, Format: "BC7"},
		},
	}

	p.applyTextureTransform(p.Logger, j, fakeDDS("pixels"))

	dest := p.outputPath(j.directive.Destination)
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Errorf("expected no output written when fallback is disabled, stat err = %v", err)
	}

	failedCount, err := p.Store.CountDirectivesByStatus(store.DirectiveFailed)
	if err != nil {
		t.Fatal(err)
	}
	if failedCount != 1 {
		t.Fatalf("expected the directive to be marked failed, got %d failed", failedCount)
	}
}

func TestApplyTextureTransformRejectsNonDDSSource(t *testing.T) {
	outputDir := t.TempDir()
	p := newTextureTestProcessor(t, outputDir, config.Config{BC1FallbackOnUnsupported: true})

	modlist := &manifest.Modlist{
		Name: "Test List",
		Directives: []manifest.Directive{
			{Kind: manifest.KindTransformedTexture, To: "Textures/bad.dds", Size: 4,
				Payload: manifest.TransformedTextureDirective{To: "Textures/bad.dds", ImageState: manifest.ImageState{Format: "BC1"}}},
		},
	}
	if err := p.Store.ImportManifest(modlist, 1, 1); err != nil {
		t.Fatal(err)
	}
	pending, err := p.Store.ListPendingByType(manifest.KindTransformedTexture)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected exactly one pending directive, err=%v", err)
	}

	j := textureJob{
		directive: pending[0],
		payload: manifest.TransformedTextureDirective{
			To:         "Textures/bad.dds",
			ImageState: manifest.ImageState{Width: 4, Height: 4, Format: "BC1"},
		},
	}

	p.applyTextureTransform(p.Logger, j, []byte("not a dds file"))

	failedCount, err := p.Store.CountDirectivesByStatus(store.DirectiveFailed)
	if err != nil {
		t.Fatal(err)
	}
	if failedCount != 1 {
		t.Fatalf("expected the directive to be marked failed for a non-DDS source, got %d failed", failedCount)
	}
}

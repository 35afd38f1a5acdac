package texture

import (
	"image"
	"image/color"
	"testing"
)

func solidImage(width, height int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestIsDDS(t *testing.T) {
	if !IsDDS([]byte("DDS \x7c\x00\x00\x00")) {
		t.Fatal("expected DDS magic to be recognized")
	}
	if IsDDS([]byte("PK\x03\x04")) {
		t.Fatal("expected non-DDS magic to be rejected")
	}
}

func TestBC1RoundTripSolidColor(t *testing.T) {
	src := solidImage(8, 8, color.NRGBA{R: 200, G: 100, B: 50, A: 255})

	encoded, err := Encode(src, FormatBC1)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !IsDDS(encoded) {
		t.Fatal("encoded output is not a valid DDS file")
	}

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Pixels.Bounds().Dx() != 8 || decoded.Pixels.Bounds().Dy() != 8 {
		t.Fatalf("unexpected decoded dimensions: %v", decoded.Pixels.Bounds())
	}

	c := decoded.Pixels.NRGBAAt(4, 4)
	if diff(c.R, 200) > 8 || diff(c.G, 100) > 8 || diff(c.B, 50) > 8 {
		t.Fatalf("decoded color %+v too far from source (200,100,50)", c)
	}
}

func TestRGBA8RoundTrip(t *testing.T) {
	src := solidImage(4, 4, color.NRGBA{R: 10, G: 20, B: 30, A: 255})

	encoded, err := Encode(src, FormatRGBA8)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	got := decoded.Pixels.NRGBAAt(0, 0)
	want := color.NRGBA{R: 10, G: 20, B: 30, A: 255}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestTransformResizesAndReencodes(t *testing.T) {
	src := solidImage(16, 16, color.NRGBA{R: 128, G: 128, B: 128, A: 255})
	ddsSrc, err := Encode(src, FormatRGBA8)
	if err != nil {
		t.Fatal(err)
	}

	out, err := Transform(ddsSrc, 8, 8, FormatBC1)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}

	hdr, _, err := ParseHeader(out)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Width != 8 || hdr.Height != 8 {
		t.Fatalf("got %dx%d, want 8x8", hdr.Width, hdr.Height)
	}
	if hdr.Format != FormatBC1 {
		t.Fatalf("got format %s, want BC1", hdr.Format)
	}
}

func TestTargetFromImageStateUnsupported(t *testing.T) {
	if _, err := TargetFromImageState("BC7"); err == nil {
		t.Fatal("expected BC7 to be reported unsupported")
	}
}

func diff(a uint8, b int) int {
	d := int(a) - b
	if d < 0 {
		return -d
	}
	return d
}

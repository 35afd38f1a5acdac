package texture

import (
	"image"

	"golang.org/x/image/draw"
)

// Resize scales src to the given dimensions using bilinear filtering,
// matching the quality tradeoff typical mod texture resizers use for
// downscaling large source textures to target in-game resolutions.
func Resize(src *image.NRGBA, width, height int) *image.NRGBA {
	if src.Bounds().Dx() == width && src.Bounds().Dy() == height {
		return src
	}
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
	return dst
}

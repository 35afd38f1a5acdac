package texture

import (
	"encoding/binary"
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// BC1 (DXT1) and BC3 (DXT5) encode/decode pixels in 4x4 blocks of
// sixteen. BC1 stores two reference colors at 5:6:5 and a 2-bit index per
// pixel into an interpolated 4-color (or 3-color-plus-transparent) palette.
// BC3 adds a separate 8-byte alpha block (two 8-bit endpoints plus 3-bit
// indices) ahead of an otherwise-BC1-shaped color block.

func rgb565(c uint16) (r, g, b uint8) {
	r = uint8((c >> 11 & 0x1F) * 255 / 31)
	g = uint8((c >> 5 & 0x3F) * 255 / 63)
	b = uint8((c & 0x1F) * 255 / 31)
	return
}

func to565(r, g, b uint8) uint16 {
	return uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
}

func decodeBC1(data []byte, width, height int) (*image.NRGBA, error) {
	blocksWide := (width + 3) / 4
	blocksHigh := (height + 3) / 4
	need := blocksWide * blocksHigh * 8
	if len(data) < need {
		return nil, errors.New("BC1 pixel data truncated")
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for by := 0; by < blocksHigh; by++ {
		for bx := 0; bx < blocksWide; bx++ {
			block := data[(by*blocksWide+bx)*8:]
			palette, hasAlpha := bc1Palette(block)
			indices := binary.LittleEndian.Uint32(block[4:8])
			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := bx*4+px, by*4+py
					if x >= width || y >= height {
						continue
					}
					idx := (indices >> uint((py*4+px)*2)) & 0x3
					c := palette[idx]
					if idx == 3 && hasAlpha {
						img.SetNRGBA(x, y, color.NRGBA{})
					} else {
						img.SetNRGBA(x, y, c)
					}
				}
			}
		}
	}
	return img, nil
}

func bc1Palette(block []byte) (palette [4]nrgba, hasAlpha bool) {
	c0 := binary.LittleEndian.Uint16(block[0:2])
	c1 := binary.LittleEndian.Uint16(block[2:4])
	r0, g0, b0 := rgb565(c0)
	r1, g1, b1 := rgb565(c1)

	palette[0] = nrgba{r0, g0, b0, 255}
	palette[1] = nrgba{r1, g1, b1, 255}

	if c0 > c1 {
		palette[2] = nrgba{lerp(r0, r1, 1, 3), lerp(g0, g1, 1, 3), lerp(b0, b1, 1, 3), 255}
		palette[3] = nrgba{lerp(r0, r1, 2, 3), lerp(g0, g1, 2, 3), lerp(b0, b1, 2, 3), 255}
	} else {
		palette[2] = nrgba{avg(r0, r1), avg(g0, g1), avg(b0, b1), 255}
		palette[3] = nrgba{0, 0, 0, 0}
		hasAlpha = true
	}
	return
}

func lerp(a, b uint8, num, den int) uint8 {
	return uint8((int(a)*(den-num) + int(b)*num) / den)
}

func avg(a, b uint8) uint8 {
	return uint8((int(a) + int(b)) / 2)
}

type nrgba = color.NRGBA

func decodeBC3(data []byte, width, height int) (*image.NRGBA, error) {
	blocksWide := (width + 3) / 4
	blocksHigh := (height + 3) / 4
	need := blocksWide * blocksHigh * 16
	if len(data) < need {
		return nil, errors.New("BC3 pixel data truncated")
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for by := 0; by < blocksHigh; by++ {
		for bx := 0; bx < blocksWide; bx++ {
			block := data[(by*blocksWide+bx)*16:]
			alphaBlock := block[0:8]
			colorBlock := block[8:16]

			alphaPalette := bc3AlphaPalette(alphaBlock)
			alphaIndices := bc3AlphaIndices(alphaBlock)

			palette, _ := bc1Palette(colorBlock)
			colorIndices := binary.LittleEndian.Uint32(colorBlock[4:8])

			for py := 0; py < 4; py++ {
				for px := 0; px < 4; px++ {
					x, y := bx*4+px, by*4+py
					if x >= width || y >= height {
						continue
					}
					pi := py*4 + px
					cidx := (colorIndices >> uint(pi*2)) & 0x3
					c := palette[cidx]
					a := alphaPalette[alphaIndices[pi]]
					img.SetNRGBA(x, y, color.NRGBA{R: c.R, G: c.G, B: c.B, A: a})
				}
			}
		}
	}
	return img, nil
}

func bc3AlphaPalette(block []byte) [8]uint8 {
	a0, a1 := block[0], block[1]
	var p [8]uint8
	p[0], p[1] = a0, a1
	if a0 > a1 {
		for i := 1; i <= 6; i++ {
			p[1+i] = uint8((int(a0)*(7-i) + int(a1)*i) / 7)
		}
	} else {
		for i := 1; i <= 4; i++ {
			p[1+i] = uint8((int(a0)*(5-i) + int(a1)*i) / 5)
		}
		p[6] = 0
		p[7] = 255
	}
	return p
}

func bc3AlphaIndices(block []byte) [16]uint8 {
	var bits uint64
	for i := 0; i < 6; i++ {
		bits |= uint64(block[2+i]) << (8 * i)
	}
	var out [16]uint8
	for i := range out {
		out[i] = uint8((bits >> uint(i*3)) & 0x7)
	}
	return out
}

func encodeBC1(img *image.NRGBA) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	blocksWide := (width + 3) / 4
	blocksHigh := (height + 3) / 4
	out := make([]byte, blocksWide*blocksHigh*8)

	for by := 0; by < blocksHigh; by++ {
		for bx := 0; bx < blocksWide; bx++ {
			block := encodeBC1Block(img, bx*4, by*4, width, height)
			copy(out[(by*blocksWide+bx)*8:], block)
		}
	}
	return out
}

// encodeBC1Block quantizes one 4x4 block using the per-channel maximum and
// minimum colors of the block as endpoints, the standard cheap-encoder
// approach: exact nearest-color assignment without cluster refinement.
func encodeBC1Block(img *image.NRGBA, ox, oy, width, height int) []byte {
	var minR, minG, minB uint8 = 255, 255, 255
	var maxR, maxG, maxB uint8

	pix := make([][4]uint8, 16)
	for py := 0; py < 4; py++ {
		for px := 0; px < 4; px++ {
			x, y := ox+px, oy+py
			var r, g, b, a uint8 = 0, 0, 0, 255
			if x < width && y < height {
				c := img.NRGBAAt(x, y)
				r, g, b, a = c.R, c.G, c.B, c.A
			}
			pix[py*4+px] = [4]uint8{r, g, b, a}
			if r < minR {
				minR = r
			}
			if g < minG {
				minG = g
			}
			if b < minB {
				minB = b
			}
			if r > maxR {
				maxR = r
			}
			if g > maxG {
				maxG = g
			}
			if b > maxB {
				maxB = b
			}
		}
	}

	c0 := to565(maxR, maxG, maxB)
	c1 := to565(minR, minG, minB)
	if c0 == c1 && c0 > 0 {
		c1--
	}

	palette, _ := bc1Palette([]byte{byte(c0), byte(c0 >> 8), byte(c1), byte(c1 >> 8), 0, 0, 0, 0})

	var indices uint32
	for i, p := range pix {
		best, bestDist := 0, int(^uint(0)>>1)
		for pi, pc := range palette {
			dist := sq(int(p[0])-int(pc.R)) + sq(int(p[1])-int(pc.G)) + sq(int(p[2])-int(pc.B))
			if dist < bestDist {
				best, bestDist = pi, dist
			}
		}
		indices |= uint32(best) << uint(i*2)
	}

	block := make([]byte, 8)
	binary.LittleEndian.PutUint16(block[0:2], c0)
	binary.LittleEndian.PutUint16(block[2:4], c1)
	binary.LittleEndian.PutUint32(block[4:8], indices)
	return block
}

func sq(x int) int { return x * x }

func encodeBC3(img *image.NRGBA) []byte {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	blocksWide := (width + 3) / 4
	blocksHigh := (height + 3) / 4
	out := make([]byte, blocksWide*blocksHigh*16)

	for by := 0; by < blocksHigh; by++ {
		for bx := 0; bx < blocksWide; bx++ {
			alphaBlock := encodeBC3AlphaBlock(img, bx*4, by*4, width, height)
			colorBlock := encodeBC1Block(img, bx*4, by*4, width, height)
			dst := out[(by*blocksWide+bx)*16:]
			copy(dst[0:8], alphaBlock)
			copy(dst[8:16], colorBlock)
		}
	}
	return out
}

func encodeBC3AlphaBlock(img *image.NRGBA, ox, oy, width, height int) []byte {
	var minA, maxA uint8 = 255, 0
	var alphas [16]uint8
	for py := 0; py < 4; py++ {
		for px := 0; px < 4; px++ {
			x, y := ox+px, oy+py
			a := uint8(255)
			if x < width && y < height {
				a = img.NRGBAAt(x, y).A
			}
			alphas[py*4+px] = a
			if a < minA {
				minA = a
			}
			if a > maxA {
				maxA = a
			}
		}
	}

	block := make([]byte, 8)
	block[0], block[1] = maxA, minA
	palette := bc3AlphaPalette(block[0:8])

	var bits uint64
	for i, a := range alphas {
		best, bestDist := 0, 256
		for pi, pv := range palette {
			d := int(a) - int(pv)
			if d < 0 {
				d = -d
			}
			if d < bestDist {
				best, bestDist = pi, d
			}
		}
		bits |= uint64(best) << uint(i*3)
	}
	for i := 0; i < 6; i++ {
		block[2+i] = byte(bits >> uint(8*i))
	}
	return block
}

// Package texture implements the decode/resize/re-encode pipeline behind
// the TransformedTexture directive: a DDS source is decoded to RGBA,
// resized to the directive's target dimensions, and re-encoded to the
// target pixel format. Formats this package cannot encode fall back to a
// verbatim copy, which the caller surfaces as a "BC1 fallback".
package texture

import (
	"encoding/binary"
	"image"

	"github.com/pkg/errors"
)

const (
	ddsMagic       = "DDS "
	ddsHeaderSize  = 124
	dx10HeaderSize = 20
)

// pixel format fourCCs this package understands natively.
const (
	fourCCDXT1 = "DXT1"
	fourCCDXT3 = "DXT3"
	fourCCDXT5 = "DXT5"
	fourCCDX10 = "DX10"
)

// Format identifies a pixel format this package can decode/encode. Names
// match the manifest's ImageState.Format strings.
type Format string

const (
	FormatBC1   Format = "BC1"   // DXT1, opaque or 1-bit alpha
	FormatBC3   Format = "BC3"   // DXT5
	FormatRGBA8 Format = "RGBA8" // uncompressed, 32bpp
)

// Image is a decoded DDS texture: RGBA pixels plus the format it was
// decoded from.
type Image struct {
	Pixels *image.NRGBA
	Source Format
}

// Header holds the fields of a parsed DDS file needed to decode pixel data.
type Header struct {
	Width, Height uint32
	FourCC        string
	RGBBitCount   uint32
	Format        Format
}

// IsDDS reports whether data begins with a valid DDS magic (the first
// four bytes "DDS ").
func IsDDS(data []byte) bool {
	return len(data) >= 4 && string(data[0:4]) == ddsMagic
}

// ParseHeader parses the DDS header and returns it along with the offset
// at which pixel data begins.
func ParseHeader(data []byte) (Header, int, error) {
	if !IsDDS(data) {
		return Header{}, 0, errors.New("not a DDS file (bad magic)")
	}
	if len(data) < 4+ddsHeaderSize {
		return Header{}, 0, errors.New("DDS file truncated before header")
	}
	le := binary.LittleEndian
	h := data[4 : 4+ddsHeaderSize]

	height := le.Uint32(h[8:12])
	width := le.Uint32(h[12:16])
	pf := h[72:104] // DDS_PIXELFORMAT, offset 72 within the 124-byte header
	pfFlags := le.Uint32(pf[4:8])
	fourCC := string(pf[8:12])
	rgbBitCount := le.Uint32(pf[12:16])

	offset := 4 + ddsHeaderSize
	var format Format
	switch {
	case pfFlags&0x4 != 0 && fourCC == fourCCDX10: // DDPF_FOURCC
		if len(data) < offset+dx10HeaderSize {
			return Header{}, 0, errors.New("DDS file truncated before DX10 header")
		}
		dxgiFormat := le.Uint32(data[offset : offset+4])
		format = formatFromDXGI(dxgiFormat)
		offset += dx10HeaderSize
	case pfFlags&0x4 != 0 && fourCC == fourCCDXT1:
		format = FormatBC1
	case pfFlags&0x4 != 0 && (fourCC == fourCCDXT3 || fourCC == fourCCDXT5):
		format = FormatBC3
	case pfFlags&0x40 != 0: // DDPF_RGB
		format = FormatRGBA8
	default:
		format = Format(fourCC)
	}

	return Header{Width: width, Height: height, FourCC: fourCC, RGBBitCount: rgbBitCount, Format: format}, offset, nil
}

func formatFromDXGI(code uint32) Format {
	switch code {
	case 71, 72: // DXGI_FORMAT_BC1_UNORM / _SRGB
		return FormatBC1
	case 77, 78: // DXGI_FORMAT_BC3_UNORM / _SRGB
		return FormatBC3
	case 28, 29: // DXGI_FORMAT_R8G8B8A8_UNORM / _SRGB
		return FormatRGBA8
	default:
		return Format("DXGI_UNSUPPORTED")
	}
}

// Supported reports whether this package can both decode and re-encode fmt.
func Supported(f Format) bool {
	switch f {
	case FormatBC1, FormatBC3, FormatRGBA8:
		return true
	default:
		return false
	}
}

// Decode parses a full DDS file and returns its top-level mip as RGBA.
func Decode(data []byte) (*Image, error) {
	hdr, offset, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if !Supported(hdr.Format) {
		return nil, errors.Errorf("unsupported DDS pixel format %q", hdr.Format)
	}
	if offset > len(data) {
		return nil, errors.New("DDS file truncated before pixel data")
	}
	pixelData := data[offset:]

	var img *image.NRGBA
	switch hdr.Format {
	case FormatBC1:
		img, err = decodeBC1(pixelData, int(hdr.Width), int(hdr.Height))
	case FormatBC3:
		img, err = decodeBC3(pixelData, int(hdr.Width), int(hdr.Height))
	case FormatRGBA8:
		img, err = decodeRGBA8(pixelData, int(hdr.Width), int(hdr.Height))
	}
	if err != nil {
		return nil, err
	}
	return &Image{Pixels: img, Source: hdr.Format}, nil
}

func decodeRGBA8(data []byte, width, height int) (*image.NRGBA, error) {
	need := width * height * 4
	if len(data) < need {
		return nil, errors.New("DDS RGBA8 pixel data truncated")
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, data[:need])
	return img, nil
}

// Encode re-encodes img to the target format, returning the full DDS file
// bytes (header + pixel data).
func Encode(img *image.NRGBA, target Format) ([]byte, error) {
	if !Supported(target) {
		return nil, errors.Errorf("unsupported DDS encode target %q", target)
	}
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	var pixelData []byte
	var fourCC string
	var rgbBitCount uint32
	var pfFlags uint32

	switch target {
	case FormatBC1:
		pixelData = encodeBC1(img)
		fourCC = fourCCDXT1
		pfFlags = 0x4
	case FormatBC3:
		pixelData = encodeBC3(img)
		fourCC = fourCCDXT5
		pfFlags = 0x4
	case FormatRGBA8:
		pixelData = append([]byte(nil), img.Pix...)
		rgbBitCount = 32
		pfFlags = 0x41 // DDPF_ALPHAPIXELS | DDPF_RGB
	}

	return buildDDSFile(width, height, fourCC, rgbBitCount, pfFlags, pixelData), nil
}

func buildDDSFile(width, height int, fourCC string, rgbBitCount, pfFlags uint32, pixelData []byte) []byte {
	le := binary.LittleEndian
	out := make([]byte, 4+ddsHeaderSize)
	copy(out[0:4], ddsMagic)

	h := out[4 : 4+ddsHeaderSize]
	le.PutUint32(h[0:4], ddsHeaderSize)
	le.PutUint32(h[4:8], 0x0002100F) // CAPS|HEIGHT|WIDTH|PIXELFORMAT|PITCH|MIPMAPCOUNT
	le.PutUint32(h[8:12], uint32(height))
	le.PutUint32(h[12:16], uint32(width))
	le.PutUint32(h[16:20], uint32(len(pixelData)))
	le.PutUint32(h[24:28], 1) // dwMipMapCount

	pf := h[72:104]
	le.PutUint32(pf[0:4], 32)
	le.PutUint32(pf[4:8], pfFlags)
	copy(pf[8:12], fourCC)
	le.PutUint32(pf[12:16], rgbBitCount)

	le.PutUint32(h[104:108], 0x1000) // DDSCAPS_TEXTURE

	return append(out, pixelData...)
}

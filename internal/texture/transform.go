package texture

import (
	"github.com/pkg/errors"
)

// TargetFromImageState maps the manifest's free-form ImageState.Format
// string to a Format this package can encode. Unknown strings surface as
// ErrUnsupportedFormat so the caller can apply its own fallback policy.
func TargetFromImageState(format string) (Format, error) {
	switch format {
	case "BC1", "DXT1":
		return FormatBC1, nil
	case "BC3", "DXT5":
		return FormatBC3, nil
	case "RGBA8", "R8G8B8A8", "Uncompressed":
		return FormatRGBA8, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedFormat, "format %q", format)
	}
}

// ErrUnsupportedFormat is returned by TargetFromImageState and Transform
// when the requested source or target pixel format has no encoder/decoder
// in this package. Callers may substitute a BC1 fallback (copy-unchanged)
// or abort, depending on configuration.
var ErrUnsupportedFormat = errors.New("unsupported texture pixel format")

// Transform decodes source (a full DDS file), resizes to width x height,
// and re-encodes to target, returning the resulting DDS file bytes.
func Transform(source []byte, width, height int, target Format) ([]byte, error) {
	if !IsDDS(source) {
		return nil, errors.Wrap(ErrUnsupportedFormat, "source is not a DDS file")
	}

	img, err := Decode(source)
	if err != nil {
		return nil, errors.Wrap(ErrUnsupportedFormat, err.Error())
	}

	resized := Resize(img.Pixels, width, height)

	out, err := Encode(resized, target)
	if err != nil {
		return nil, errors.Wrap(ErrUnsupportedFormat, err.Error())
	}
	return out, nil
}

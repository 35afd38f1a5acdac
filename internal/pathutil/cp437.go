package pathutil

import (
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// IsValidUTF8Name reports whether name can be safely treated as UTF-8. The
// generic extractor sometimes yields legacy DOS-era filenames that are not
// valid UTF-8; callers should fall back to CP437ToUTF8 in that case.
func IsValidUTF8Name(name string) bool {
	return utf8.ValidString(name)
}

// CP437ToUTF8 decodes bytes using the IBM Code Page 437 table, the encoding
// generic (ZIP) extractors historically fall back to for filenames that
// predate Unicode support. It is only invoked when the raw bytes do not
// already form valid UTF-8.
func CP437ToUTF8(raw []byte) (string, error) {
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(raw)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

// DecodeArchiveName returns the best-effort UTF-8 representation of an
// in-archive path as yielded by a generic extractor: the raw bytes
// unchanged if they already form valid UTF-8, otherwise the CP437
// decoding of those bytes. Callers that build a lookup map should
// register both DecodeArchiveName(raw) and the raw string under
// NormalizeForLookup when they differ.
func DecodeArchiveName(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	if decoded, err := CP437ToUTF8(raw); err == nil {
		return decoded
	}
	return string(raw)
}

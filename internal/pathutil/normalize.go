// Package pathutil implements the case-insensitive, cross-platform path
// operations shared by every phase of the installer: normalization for
// lookup keys, Windows-to-host separator conversion, legacy CP437 filename
// decoding, and parent-directory creation that tolerates blocking
// non-directory entries left over from a previous run.
package pathutil

import (
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeForLookup converts s into the canonical form used as the sole key
// for case-insensitive path lookups: NFC-normalized, lowercased, with
// backslashes converted to forward slashes and leading/trailing slashes
// trimmed.
func NormalizeForLookup(s string) string {
	s = strings.ReplaceAll(s, `\`, "/")
	s = norm.NFC.String(s)
	s = strings.ToLower(s)
	s = strings.Trim(s, "/")
	return s
}

// JoinOutput converts a Windows-style relative path (as stored in a
// directive's destination field) into a path joined beneath base using the
// host's separator conventions.
func JoinOutput(base, windowsRelative string) string {
	rel := strings.ReplaceAll(windowsRelative, `\`, "/")
	rel = strings.TrimPrefix(rel, "/")
	if rel == "" {
		return base
	}
	return filepath.Join(base, filepath.FromSlash(rel))
}

// Package remap implements the token substitution applied to
// RemappedInlineFile payloads: MO2/game/downloads path sentinels in
// three slash conventions, a handful of legacy bracketed placeholders, and a
// special rewrite of "download_directory=" lines.
package remap

import (
	"regexp"
	"strings"
)

// Roots carries the three absolute directories tokens may resolve to.
type Roots struct {
	Output    string
	Game      string
	Downloads string
}

var sentinelPattern = regexp.MustCompile(`\{--\|\|[A-Za-z0-9_]+\|\|--\}`)

var legacyPlaceholders = map[string]string{
	"[Game Folder Files]": "GAME_PATH_MAGIC_BACK",
	"[MO2_PATH]":           "MO2_PATH_MAGIC_BACK",
	"[DOWNLOADS_PATH]":     "DOWNLOADS_PATH_MAGIC_BACK",
}

var downloadDirectoryLine = regexp.MustCompile(`(?m)^download_directory=[A-Za-z]:.*$`)

// NeedsSubstitution reports whether data contains at least one sentinel the
// Apply function recognizes. A blob with none is written verbatim.
func NeedsSubstitution(data []byte) bool {
	if sentinelPattern.Match(data) {
		return true
	}
	text := string(data)
	for legacy := range legacyPlaceholders {
		if strings.Contains(text, legacy) {
			return true
		}
	}
	return downloadDirectoryLine.Match(data)
}

// Apply performs token substitution over data and returns the result. Data
// not matching NeedsSubstitution is returned unmodified.
func Apply(data []byte, roots Roots) []byte {
	if !NeedsSubstitution(data) {
		return data
	}

	text := string(data)
	for legacy, canonical := range legacyPlaceholders {
		text = strings.ReplaceAll(text, legacy, "{--||"+canonical+"||--}")
	}

	text = sentinelPattern.ReplaceAllStringFunc(text, func(token string) string {
		name := strings.TrimSuffix(strings.TrimPrefix(token, "{--||"), "||--}")
		replacement, ok := resolve(name, roots)
		if !ok {
			return token
		}
		return replacement
	})

	text = rewriteDownloadDirectoryLines(text, roots)

	return []byte(text)
}

func resolve(token string, roots Roots) (string, bool) {
	switch token {
	case "MO2_PATH_MAGIC_FORWARD":
		return "Z:" + forwardSlash(roots.Output), true
	case "MO2_PATH_MAGIC_BACK":
		return "Z:" + backSlash(roots.Output), true
	case "MO2_PATH_MAGIC_DOUBLE_BACK":
		return "Z:" + doubleBackSlash(roots.Output), true
	case "GAME_PATH_MAGIC_FORWARD":
		return "Z:" + forwardSlash(roots.Game), true
	case "GAME_PATH_MAGIC_BACK":
		return "Z:" + backSlash(roots.Game), true
	case "GAME_PATH_MAGIC_DOUBLE_BACK":
		return "Z:" + doubleBackSlash(roots.Game), true
	case "DOWNLOADS_PATH_MAGIC_FORWARD":
		return "Z:" + forwardSlash(roots.Downloads), true
	case "DOWNLOADS_PATH_MAGIC_BACK":
		return "Z:" + backSlash(roots.Downloads), true
	case "DOWNLOADS_PATH_MAGIC_DOUBLE_BACK":
		return "Z:" + doubleBackSlash(roots.Downloads), true
	default:
		return "", false
	}
}

func forwardSlash(p string) string {
	return strings.ReplaceAll(strings.ReplaceAll(p, "\\", "/"), "//", "/")
}

func backSlash(p string) string {
	return strings.ReplaceAll(p, "/", "\\")
}

func doubleBackSlash(p string) string {
	return strings.ReplaceAll(backSlash(p), "\\", "\\\\")
}

// rewriteDownloadDirectoryLines replaces any "download_directory=X:..." line
// wholesale with the resolved downloads path in backslash form, leaving
// every other line untouched.
func rewriteDownloadDirectoryLines(text string, roots Roots) string {
	return downloadDirectoryLine.ReplaceAllLiteralString(text, "download_directory=Z:"+backSlash(roots.Downloads))
}

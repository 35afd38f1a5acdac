package processor

import (
	"github.com/wj-modforge/modforge/internal/archive"
	"github.com/wj-modforge/modforge/internal/config"
)

// selectiveExtraction decides whether to request only wantedCount specific
// paths from an archive, or to extract the whole thing. Bethesda archives
// are never selective (they're read directly, with no extractor
// involved); 7z archives get a much lower threshold because this reader
// cannot distinguish a solid stream from a non-solid one, so it
// conservatively treats every 7z archive as if it were solid.
func selectiveExtraction(family archive.Family, wantedCount int, cfg config.Config) bool {
	if wantedCount == 0 {
		return false
	}
	if archive.IsBethesda(family) {
		return false
	}
	if wantedCount > cfg.SelectiveExtractThreshold {
		return false
	}
	if family == archive.FamilySevenZip {
		return wantedCount <= cfg.Solid7zSelectiveThreshold
	}
	return true
}

// extractWanted extracts the requested in-archive paths listed in wanted
// from reader into outDir, choosing selective or full
// extraction per selectiveExtraction, and returns a map keyed the same way
// reader.ExtractMany/ExtractAll do: by requested string for selective, by
// normalized in-archive path for full.
func extractWanted(r archive.Reader, family archive.Family, wanted []string, outDir string, threadsHint int, cfg config.Config) (map[string]string, error) {
	if selectiveExtraction(family, len(wanted), cfg) {
		return r.ExtractMany(wanted, outDir, threadsHint)
	}
	return r.ExtractAll(outDir, threadsHint)
}

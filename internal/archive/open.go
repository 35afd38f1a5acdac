package archive

import (
	"github.com/pkg/errors"
)

// Open detects path's family by magic bytes and returns the appropriate
// Reader. The archive's own extension is advisory only: a mislabelled
// container is opened according to its detected family.
func Open(path string) (Reader, Family, error) {
	family, err := Detect(path)
	if err != nil {
		return nil, FamilyUnknown, err
	}

	switch family {
	case FamilyZip, FamilySevenZip, FamilyRar:
		r, err := openGeneric(path, family)
		return r, family, err
	case FamilyBSA, FamilyTES3BSA:
		r, err := openBSA(path)
		return r, family, err
	case FamilyBA2:
		r, err := openBA2(path)
		return r, family, err
	default:
		r, err := openWholeFile(path)
		return r, FamilyUnknown, err
	}
}

// IsBethesda reports whether family is a BSA/BA2 variant, which callers
// treat specially: a direct reader, never selective extraction via a
// generic extractor.
func IsBethesda(family Family) bool {
	return family == FamilyBSA || family == FamilyBA2 || family == FamilyTES3BSA
}

var errUnsupportedFamily = errors.New("unsupported archive family")

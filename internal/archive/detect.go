// Package archive provides uniform listing and extraction over four
// container families: generic (ZIP/7z/RAR), Bethesda BSA, Bethesda BA2,
// and "whole-file" archives. Family is always determined by magic bytes,
// never by file extension, so a mislabelled container (a .rar whose bytes
// are actually ZIP) is handled correctly.
package archive

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Family identifies the on-disk container format of a source archive.
type Family int

const (
	// FamilyUnknown is returned when no recognized magic matches; the
	// archive is then treated as whole-file.
	FamilyUnknown Family = iota
	FamilyZip
	FamilySevenZip
	FamilyRar
	FamilyBSA
	FamilyBA2
	FamilyTES3BSA
)

func (f Family) String() string {
	switch f {
	case FamilyZip:
		return "zip"
	case FamilySevenZip:
		return "7z"
	case FamilyRar:
		return "rar"
	case FamilyBSA:
		return "bsa"
	case FamilyBA2:
		return "ba2"
	case FamilyTES3BSA:
		return "tes3bsa"
	default:
		return "unknown"
	}
}

var (
	zipLocal    = []byte("PK\x03\x04")
	zipEmpty    = []byte("PK\x05\x06")
	zipSpanned  = []byte("PK\x07\x08")
	sevenZip    = []byte("7z\xBC\xAF\x27\x1C")
	rar4        = []byte("Rar!\x1A\x07\x00")
	rar5        = []byte("Rar!\x1A\x07\x01\x00")
	bsaMagic    = []byte("BSA\x00")
	ba2Magic    = []byte("BTDX")
	tes3Magic   = []byte{0x00, 0x01, 0x00, 0x00}
)

// maxMagicLen is the number of leading bytes sniffed to detect a family.
const maxMagicLen = 8

// DetectBytes determines the archive family from the first bytes of a file.
func DetectBytes(header []byte) Family {
	switch {
	case bytes.HasPrefix(header, zipLocal), bytes.HasPrefix(header, zipEmpty), bytes.HasPrefix(header, zipSpanned):
		return FamilyZip
	case bytes.HasPrefix(header, sevenZip):
		return FamilySevenZip
	case bytes.HasPrefix(header, rar5), bytes.HasPrefix(header, rar4):
		return FamilyRar
	case bytes.HasPrefix(header, bsaMagic):
		return FamilyBSA
	case bytes.HasPrefix(header, ba2Magic):
		return FamilyBA2
	case bytes.HasPrefix(header, tes3Magic) && len(header) >= 4:
		return FamilyTES3BSA
	default:
		return FamilyUnknown
	}
}

// Detect opens path and sniffs its family from magic bytes, ignoring any
// extension the file name carries.
func Detect(path string) (Family, error) {
	f, err := os.Open(path)
	if err != nil {
		return FamilyUnknown, errors.Wrapf(err, "unable to open %q for format detection", path)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	header, err := br.Peek(maxMagicLen)
	if err != nil && err != io.EOF {
		return FamilyUnknown, errors.Wrapf(err, "unable to read header of %q", path)
	}
	return DetectBytes(header), nil
}

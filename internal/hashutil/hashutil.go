// Package hashutil provides the two hash flavors used throughout the
// installer: a fast, non-cryptographic "quick hash" over a head/tail sample
// (used to cheaply detect that a patch basis candidate still matches what
// was recorded), and a cryptographic hash used for the final from_hash /
// expected-output-hash verification.
package hashutil

import (
	"encoding/base64"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"golang.org/x/crypto/blake2b"
)

// QuickHashSampleSize is the size, in bytes, of the head and tail samples
// used to compute a quick hash.
const QuickHashSampleSize = 64 * 1024

// QuickHashBytes computes the quick hash of an in-memory buffer: an xxHash64
// digest over up to the first and last QuickHashSampleSize bytes.
func QuickHashBytes(data []byte) uint64 {
	digester := xxhash.New()
	head := data
	if len(head) > QuickHashSampleSize {
		head = data[:QuickHashSampleSize]
	}
	digester.Write(head)
	if len(data) > QuickHashSampleSize {
		tailStart := len(data) - QuickHashSampleSize
		if tailStart < len(head) {
			tailStart = len(head)
		}
		digester.Write(data[tailStart:])
	}
	return digester.Sum64()
}

// QuickHashFile computes the quick hash of the file at path without reading
// it fully into memory.
func QuickHashFile(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "unable to open %q for quick hash", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, errors.Wrapf(err, "unable to stat %q", path)
	}
	size := info.Size()

	digester := xxhash.New()
	headLen := int64(QuickHashSampleSize)
	if headLen > size {
		headLen = size
	}
	if headLen > 0 {
		head := make([]byte, headLen)
		if _, err := io.ReadFull(f, head); err != nil {
			return 0, errors.Wrapf(err, "unable to read head sample of %q", path)
		}
		digester.Write(head)
	}

	if size > int64(QuickHashSampleSize) {
		tailLen := int64(QuickHashSampleSize)
		if size-headLen < tailLen {
			tailLen = size - headLen
		}
		if tailLen > 0 {
			if _, err := f.Seek(-tailLen, io.SeekEnd); err != nil {
				return 0, errors.Wrapf(err, "unable to seek tail sample of %q", path)
			}
			tail := make([]byte, tailLen)
			if _, err := io.ReadFull(f, tail); err != nil {
				return 0, errors.Wrapf(err, "unable to read tail sample of %q", path)
			}
			digester.Write(tail)
		}
	}

	return digester.Sum64(), nil
}

// FullHash computes the cryptographic verification hash of r's contents,
// used for the final from_hash check in the patch-basis cache and for
// verifying completed directives. BLAKE2b-256 is used rather than a legacy
// digest so a single fast primitive covers both install-time and
// patch-time verification.
func FullHash(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", errors.Wrap(err, "unable to construct hash")
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, "unable to read data for hashing")
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

// FullHashFile computes FullHash over the contents of the file at path.
func FullHashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "unable to open %q for hashing", path)
	}
	defer f.Close()
	return FullHash(f)
}

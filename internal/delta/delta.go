// Package delta implements the streaming reader for a simple binary-delta
// format: a fixed magic, a version byte, a length-prefixed hash-algorithm
// name and expected-output hash, a 3-byte end-of-header marker, then a
// command stream of Copy(offset,len)/Write(len) opcodes.
package delta

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

const (
	opCopy  byte = 0x60
	opWrite byte = 0x80
)

var (
	magic      = [9]byte{'O', 'C', 'T', 'O', 'D', 'E', 'L', 'T', 'A'}
	endMarker  = [3]byte{'>', '>', '>'}
)

// Header is the parsed metadata preceding a delta's command stream.
type Header struct {
	Version       byte
	HashAlgorithm string
	ExpectedHash  []byte
}

// ReadHeader parses the fixed magic, version, hash-algorithm name, and
// expected-output hash from the start of a delta stream.
func ReadHeader(r io.Reader) (*Header, error) {
	var gotMagic [9]byte
	if _, err := io.ReadFull(r, gotMagic[:]); err != nil {
		return nil, errors.Wrap(err, "unable to read delta magic")
	}
	if gotMagic != magic {
		return nil, errors.New("not a recognized delta stream: bad magic")
	}

	var version [1]byte
	if _, err := io.ReadFull(r, version[:]); err != nil {
		return nil, errors.Wrap(err, "unable to read delta version")
	}
	if version[0] != 1 {
		return nil, errors.Errorf("unsupported delta version %d", version[0])
	}

	var algoLen [1]byte
	if _, err := io.ReadFull(r, algoLen[:]); err != nil {
		return nil, errors.Wrap(err, "unable to read hash algorithm name length")
	}
	algoName := make([]byte, algoLen[0])
	if algoLen[0] > 0 {
		if _, err := io.ReadFull(r, algoName); err != nil {
			return nil, errors.Wrap(err, "unable to read hash algorithm name")
		}
	}

	var hashLen [4]byte
	if _, err := io.ReadFull(r, hashLen[:]); err != nil {
		return nil, errors.Wrap(err, "unable to read expected-hash length")
	}
	n := int32(binary.LittleEndian.Uint32(hashLen[:]))
	if n < 0 {
		return nil, errors.New("negative expected-hash length")
	}
	expectedHash := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, expectedHash); err != nil {
			return nil, errors.Wrap(err, "unable to read expected hash")
		}
	}

	var marker [3]byte
	if _, err := io.ReadFull(r, marker[:]); err != nil {
		return nil, errors.Wrap(err, "unable to read end-of-header marker")
	}
	if marker != endMarker {
		return nil, errors.New("invalid end-of-header marker")
	}

	return &Header{
		Version:       version[0],
		HashAlgorithm: string(algoName),
		ExpectedHash:  expectedHash,
	}, nil
}

// BasisSource is a random-access byte source for the basis stream (the
// unpatched file).
type BasisSource interface {
	io.ReaderAt
}

// Reader streams the target bytes produced by applying a delta to a basis,
// fetching the next command only when the current one is exhausted.
type Reader struct {
	basis BasisSource
	delta io.Reader
	// Header is the parsed delta header.
	Header *Header

	state      commandState
	remaining  int64
	copyOffset int64
}

type commandState int

const (
	stateNeedCommand commandState = iota
	stateCopy
	stateWrite
)

// NewReader constructs a streaming delta Reader, consuming and validating
// the header from delta before returning.
func NewReader(basis BasisSource, deltaStream io.Reader) (*Reader, error) {
	header, err := ReadHeader(deltaStream)
	if err != nil {
		return nil, err
	}
	return &Reader{
		basis:  basis,
		delta:  deltaStream,
		Header: header,
		state:  stateNeedCommand,
	}, nil
}

// Read implements io.Reader, producing target bytes on demand.
func (r *Reader) Read(buf []byte) (int, error) {
	for {
		switch r.state {
		case stateNeedCommand:
			op, atEOF, err := r.readOpcode()
			if err != nil {
				return 0, err
			}
			if atEOF {
				return 0, io.EOF
			}
			switch op {
			case opCopy:
				offset, length, err := r.readCopyParams()
				if err != nil {
					return 0, err
				}
				r.copyOffset = offset
				r.remaining = length
				r.state = stateCopy
			case opWrite:
				length, err := r.readWriteLength()
				if err != nil {
					return 0, err
				}
				r.remaining = length
				r.state = stateWrite
			default:
				return 0, errors.Errorf("unknown delta opcode 0x%02x", op)
			}

		case stateCopy:
			if r.remaining == 0 {
				r.state = stateNeedCommand
				continue
			}
			want := int64(len(buf))
			if want > r.remaining {
				want = r.remaining
			}
			n, err := r.basis.ReadAt(buf[:want], r.copyOffset)
			if n > 0 {
				r.copyOffset += int64(n)
				r.remaining -= int64(n)
				return n, nil
			}
			if err == io.EOF || err == nil {
				return 0, errors.New("basis exhausted mid-copy command")
			}
			return 0, errors.Wrap(err, "error reading basis during copy command")

		case stateWrite:
			if r.remaining == 0 {
				r.state = stateNeedCommand
				continue
			}
			want := int64(len(buf))
			if want > r.remaining {
				want = r.remaining
			}
			n, err := r.delta.Read(buf[:want])
			if n > 0 {
				r.remaining -= int64(n)
				return n, nil
			}
			if err == io.EOF {
				return 0, errors.New("delta stream ended mid-write command")
			}
			if err != nil {
				return 0, errors.Wrap(err, "error reading delta during write command")
			}
		}
	}
}

func (r *Reader) readOpcode() (op byte, atEOF bool, err error) {
	var b [1]byte
	if _, err := io.ReadFull(r.delta, b[:]); err != nil {
		if err == io.EOF {
			return 0, true, nil
		}
		return 0, false, errors.Wrap(err, "unable to read command opcode")
	}
	return b[0], false, nil
}

func (r *Reader) readCopyParams() (offset, length int64, err error) {
	var params [16]byte
	if _, err := io.ReadFull(r.delta, params[:]); err != nil {
		return 0, 0, errors.Wrap(err, "truncated copy command")
	}
	offset = int64(binary.LittleEndian.Uint64(params[0:8]))
	length = int64(binary.LittleEndian.Uint64(params[8:16]))
	return offset, length, nil
}

func (r *Reader) readWriteLength() (int64, error) {
	var params [8]byte
	if _, err := io.ReadFull(r.delta, params[:]); err != nil {
		return 0, errors.Wrap(err, "truncated write command")
	}
	return int64(binary.LittleEndian.Uint64(params[:])), nil
}

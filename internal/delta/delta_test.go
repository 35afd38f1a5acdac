package delta

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

// buildDelta constructs a minimal valid delta stream from a sequence of
// commands, for use in tests. Each command is either a copy(offset,length)
// or a write(data).
type testCommand struct {
	isWrite bool
	offset  int64
	length  int64
	data    []byte
}

func buildDelta(t *testing.T, cmds []testCommand) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(1) // version
	buf.WriteByte(4) // hash algo name length
	buf.WriteString("SHA1")
	hashLen := make([]byte, 4)
	binary.LittleEndian.PutUint32(hashLen, 20)
	buf.Write(hashLen)
	buf.Write(make([]byte, 20)) // zeroed expected hash
	buf.Write(endMarker[:])

	for _, c := range cmds {
		if c.isWrite {
			buf.WriteByte(opWrite)
			length := make([]byte, 8)
			binary.LittleEndian.PutUint64(length, uint64(len(c.data)))
			buf.Write(length)
			buf.Write(c.data)
		} else {
			buf.WriteByte(opCopy)
			offset := make([]byte, 8)
			binary.LittleEndian.PutUint64(offset, uint64(c.offset))
			buf.Write(offset)
			length := make([]byte, 8)
			binary.LittleEndian.PutUint64(length, uint64(c.length))
			buf.Write(length)
		}
	}
	return buf.Bytes()
}

func applyDelta(t *testing.T, basis []byte, deltaBytes []byte) []byte {
	t.Helper()
	r, err := NewReader(bytes.NewReader(basis), bytes.NewReader(deltaBytes))
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return out
}

func TestDeltaRoundTripSmall(t *testing.T) {
	basis := []byte("hello world")
	// "hello world" -> "hello, world!" : copy "hello", write ", ", copy "world", write "!"
	d := buildDelta(t, []testCommand{
		{isWrite: false, offset: 0, length: 5},
		{isWrite: true, data: []byte(", ")},
		{isWrite: false, offset: 6, length: 5},
		{isWrite: true, data: []byte("!")},
	})

	got := applyDelta(t, basis, d)
	want := "hello, world!"
	if string(got) != want {
		t.Errorf("applyDelta = %q, want %q", got, want)
	}
}

func TestDeltaRoundTripLarge(t *testing.T) {
	basis := bytes.Repeat([]byte("0123456789abcdef"), 1<<20) // 16 MiB
	d := buildDelta(t, []testCommand{
		{isWrite: false, offset: 0, length: int64(len(basis))},
		{isWrite: true, data: []byte("TAIL")},
	})

	got := applyDelta(t, basis, d)
	if !bytes.Equal(got[:len(basis)], basis) {
		t.Error("large copy did not round-trip basis bytes")
	}
	if string(got[len(basis):]) != "TAIL" {
		t.Errorf("expected trailing write bytes, got %q", got[len(basis):])
	}
}

func TestDeltaUnknownOpcode(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(1)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(endMarker[:])
	buf.WriteByte(0x42) // unknown opcode

	r, err := NewReader(bytes.NewReader(nil), &buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected an error for an unknown opcode")
	}
}

func TestDeltaTruncatedMidCommandIsError(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(1)
	buf.WriteByte(0)
	buf.Write([]byte{0, 0, 0, 0})
	buf.Write(endMarker[:])
	buf.WriteByte(opCopy)
	buf.Write([]byte{1, 2, 3}) // truncated params

	r, err := NewReader(bytes.NewReader(nil), &buf)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	if _, err := io.ReadAll(r); err == nil {
		t.Fatal("expected an error for a truncated command")
	}
}

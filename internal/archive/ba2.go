package archive

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	ba2HeaderSize     = 24 // magic(4) + version(4) + type(4) + fileCount(4) + nameTableOffset(8)
	ba2GeneralEntry   = 36
	ba2TextureEntry   = 24 // per-file header before its chunks
	ba2TextureChunk   = 24
)

// ba2Entry is the reader's uniform view of one BA2 member, regardless of
// whether it came from a GNRL or DX10 container.
type ba2Entry struct {
	originalPath string
	offset       int64
	packedSize   uint32
	unpackedSize uint32
	// chunks is non-empty only for DX10 (texture) archives.
	chunks []ba2ChunkLocation
}

type ba2ChunkLocation struct {
	offset       int64
	packedSize   uint32
	unpackedSize uint32
}

type ba2Reader struct {
	path     string
	isDX10   bool
	entries  map[string]*ba2Entry
	order    []string
}

func openBA2(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %q as ba2", path)
	}
	defer f.Close()

	var hdr [ba2HeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, errors.Wrapf(err, "unable to read ba2 header of %q", path)
	}
	if string(hdr[0:4]) != "BTDX" {
		return nil, errors.Errorf("%q is not a BA2 archive (bad magic)", path)
	}
	le := binary.LittleEndian
	archiveType := string(hdr[8:12])
	fileCount := le.Uint32(hdr[12:16])
	nameTableOffset := le.Uint64(hdr[16:24])

	r := &ba2Reader{path: path, isDX10: archiveType == "DX10", entries: make(map[string]*ba2Entry, fileCount)}

	type rawEntry struct {
		hash   uint32
		offset int64
		packed uint32
		unpack uint32
		chunks []ba2ChunkLocation
	}
	raw := make([]rawEntry, fileCount)

	if !r.isDX10 {
		for i := range raw {
			var rec [ba2GeneralEntry]byte
			if _, err := io.ReadFull(f, rec[:]); err != nil {
				return nil, errors.Wrapf(err, "unable to read ba2 general entry %d of %q", i, path)
			}
			raw[i] = rawEntry{
				hash:   le.Uint32(rec[0:4]),
				offset: int64(le.Uint64(rec[16:24])),
				packed: le.Uint32(rec[24:28]),
				unpack: le.Uint32(rec[28:32]),
			}
		}
	} else {
		for i := range raw {
			var hdr2 [ba2TextureEntry]byte
			if _, err := io.ReadFull(f, hdr2[:]); err != nil {
				return nil, errors.Wrapf(err, "unable to read ba2 texture entry %d of %q", i, path)
			}
			numChunks := int(hdr2[13])
			chunks := make([]ba2ChunkLocation, numChunks)
			for c := 0; c < numChunks; c++ {
				var chunk [ba2TextureChunk]byte
				if _, err := io.ReadFull(f, chunk[:]); err != nil {
					return nil, errors.Wrapf(err, "unable to read ba2 texture chunk %d of entry %d of %q", c, i, path)
				}
				chunks[c] = ba2ChunkLocation{
					offset:       int64(le.Uint64(chunk[0:8])),
					packedSize:   le.Uint32(chunk[8:12]),
					unpackedSize: le.Uint32(chunk[12:16]),
				}
			}
			raw[i] = rawEntry{hash: le.Uint32(hdr2[0:4]), chunks: chunks}
		}
	}

	// Name table: NUL-absent, length-prefixed (uint16 LE) strings, one per
	// entry in declaration order, located at nameTableOffset.
	if _, err := f.Seek(int64(nameTableOffset), io.SeekStart); err != nil {
		return nil, errors.Wrapf(err, "unable to seek to ba2 name table in %q", path)
	}
	names := make([]string, fileCount)
	for i := range names {
		var lenBuf [2]byte
		if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
			return nil, errors.Wrapf(err, "unable to read ba2 name length in %q", path)
		}
		nameLen := le.Uint16(lenBuf[:])
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(f, nameBuf); err != nil {
			return nil, errors.Wrapf(err, "unable to read ba2 name in %q", path)
		}
		names[i] = strings.ReplaceAll(string(nameBuf), "\\", "/")
	}

	for i, rr := range raw {
		e := &ba2Entry{originalPath: names[i], offset: rr.offset, packedSize: rr.packed, unpackedSize: rr.unpack}
		for _, c := range rr.chunks {
			e.chunks = append(e.chunks, c)
		}
		key := normalizeKey(names[i])
		r.entries[key] = e
		r.order = append(r.order, names[i])
	}

	return r, nil
}

func (r *ba2Reader) List() ([]Entry, error) {
	entries := make([]Entry, 0, len(r.order))
	for _, p := range r.order {
		e := r.entries[normalizeKey(p)]
		size := e.unpackedSize
		if r.isDX10 {
			size = 0
			for _, c := range e.chunks {
				size += c.unpackedSize
			}
		}
		entries = append(entries, Entry{Path: p, Size: int64(size)})
	}
	return entries, nil
}

func (r *ba2Reader) ExtractFile(requested string) ([]byte, error) {
	e, ok := r.entries[normalizeKey(requested)]
	if !ok {
		return nil, errors.Errorf("%q not found in %q", requested, r.path)
	}
	f, err := os.Open(r.path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to reopen %q", r.path)
	}
	defer f.Close()

	if !r.isDX10 {
		return readBA2Block(f, e.offset, e.packedSize, e.unpackedSize)
	}

	var out bytes.Buffer
	for _, c := range e.chunks {
		chunkData, err := readBA2Block(f, c.offset, c.packedSize, c.unpackedSize)
		if err != nil {
			return nil, err
		}
		out.Write(chunkData)
	}
	return out.Bytes(), nil
}

func readBA2Block(f *os.File, offset int64, packedSize, unpackedSize uint32) ([]byte, error) {
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "unable to seek to ba2 data block")
	}
	if packedSize == 0 {
		buf := make([]byte, unpackedSize)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, errors.Wrap(err, "unable to read uncompressed ba2 block")
		}
		return buf, nil
	}
	compressed := make([]byte, packedSize)
	if _, err := io.ReadFull(f, compressed); err != nil {
		return nil, errors.Wrap(err, "unable to read compressed ba2 block")
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, errors.Wrap(err, "unable to decompress ba2 block")
	}
	defer zr.Close()
	out := make([]byte, unpackedSize)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, errors.Wrap(err, "unable to inflate ba2 block")
	}
	return out, nil
}

func (r *ba2Reader) ExtractMany(paths []string, outDir string, _ int) (map[string]string, error) {
	result := make(map[string]string, len(paths))
	for _, p := range paths {
		data, err := r.ExtractFile(p)
		if err != nil {
			return nil, err
		}
		dest, err := writeExtracted(outDir, normalizeKey(p), data)
		if err != nil {
			return nil, err
		}
		result[p] = dest
	}
	return result, nil
}

func (r *ba2Reader) ExtractAll(outDir string, _ int) (map[string]string, error) {
	result := make(map[string]string, len(r.order))
	for _, p := range r.order {
		data, err := r.ExtractFile(p)
		if err != nil {
			return nil, err
		}
		dest, err := writeExtracted(outDir, normalizeKey(p), data)
		if err != nil {
			return nil, err
		}
		result[normalizeKey(p)] = dest
	}
	return result, nil
}

func (r *ba2Reader) Close() error { return nil }

// BA2Builder assembles a GNRL or DX10 BA2 archive.
type BA2Builder struct {
	Version    uint32
	IsDX10     bool
	Compress   bool
	files      []BSAFile
	dx10States map[string][]DX10ChunkSpec
}

// DX10ChunkSpec mirrors manifest.DX10Chunk without importing the manifest
// package, keeping internal/archive free of a dependency on it.
type DX10ChunkSpec struct {
	StartMip, EndMip uint16
	Height, Width    uint16
	NumMips          uint8
	PixelFormat      uint8
}

func NewBA2Builder(version uint32, isDX10, compress bool) *BA2Builder {
	return &BA2Builder{Version: version, IsDX10: isDX10, Compress: compress, dx10States: map[string][]DX10ChunkSpec{}}
}

func (b *BA2Builder) AddFile(path string, data []byte) {
	b.files = append(b.files, BSAFile{Path: strings.ReplaceAll(path, "\\", "/"), Data: data})
}

// AddTextureLayout records the DX10 chunk geometry for a texture entry
// already added via AddFile. When absent, the builder emits a single
// full-size chunk.
func (b *BA2Builder) AddTextureLayout(path string, spec DX10ChunkSpec) {
	key := strings.ReplaceAll(path, "\\", "/")
	b.dx10States[key] = append(b.dx10States[key], spec)
}

func (b *BA2Builder) Build(outputPath string) error {
	if len(b.files) == 0 {
		return errors.New("ba2 builder: no files to write")
	}

	type prepared struct {
		file   *BSAFile
		stored []byte
		packed uint32 // 0 if uncompressed
	}
	preparedFiles := make([]prepared, len(b.files))
	for i := range b.files {
		f := &b.files[i]
		p := prepared{file: f, stored: f.Data}
		if b.Compress {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(f.Data); err != nil {
				return errors.Wrapf(err, "unable to compress %q", f.Path)
			}
			if err := zw.Close(); err != nil {
				return err
			}
			p.stored = buf.Bytes()
			p.packed = uint32(len(buf.Bytes()))
		}
		preparedFiles[i] = p
	}

	archiveType := "GNRL"
	if b.IsDX10 {
		archiveType = "DX10"
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return errors.Wrapf(err, "unable to create %q", outputPath)
	}
	defer out.Close()

	entryHeadersSize := 0
	if b.IsDX10 {
		for _, f := range b.files {
			n := len(b.dx10States[f.Path])
			if n == 0 {
				n = 1
			}
			entryHeadersSize += ba2TextureEntry + n*ba2TextureChunk
		}
	} else {
		entryHeadersSize = len(b.files) * ba2GeneralEntry
	}

	dataStart := int64(ba2HeaderSize) + int64(entryHeadersSize)
	le := binary.LittleEndian

	hdr := make([]byte, ba2HeaderSize)
	copy(hdr[0:4], "BTDX")
	le.PutUint32(hdr[4:8], b.Version)
	copy(hdr[8:12], archiveType)
	le.PutUint32(hdr[12:16], uint32(len(b.files)))
	// nameTableOffset filled once data length is known, below.

	offset := dataStart
	var entryBytes bytes.Buffer
	for i, f := range b.files {
		p := preparedFiles[i]
		if !b.IsDX10 {
			rec := make([]byte, ba2GeneralEntry)
			le.PutUint32(rec[0:4], uint32(bsaHash(f.Path, true)))
			copy(rec[4:8], fileExtBytes(f.Path))
			le.PutUint32(rec[8:12], uint32(bsaHash(filepath.ToSlash(filepath.Dir(f.Path)), false)))
			le.PutUint64(rec[16:24], uint64(offset))
			le.PutUint32(rec[24:28], p.packed)
			le.PutUint32(rec[28:32], uint32(len(f.Data)))
			le.PutUint32(rec[32:36], 0xBAADF00D)
			entryBytes.Write(rec)
			offset += int64(len(p.stored))
			continue
		}

		specs := b.dx10States[f.Path]
		if len(specs) == 0 {
			specs = []DX10ChunkSpec{{EndMip: 0}}
		}
		texHdr := make([]byte, ba2TextureEntry)
		le.PutUint32(texHdr[0:4], uint32(bsaHash(f.Path, true)))
		copy(texHdr[4:8], fileExtBytes(f.Path))
		le.PutUint32(texHdr[8:12], uint32(bsaHash(filepath.ToSlash(filepath.Dir(f.Path)), false)))
		texHdr[12] = 1                     // unk8
		texHdr[13] = byte(len(specs))       // chunk count
		le.PutUint16(texHdr[14:16], ba2TextureChunk)
		le.PutUint16(texHdr[16:18], specs[0].Height)
		le.PutUint16(texHdr[18:20], specs[0].Width)
		texHdr[20] = specs[0].NumMips
		texHdr[21] = specs[0].PixelFormat
		entryBytes.Write(texHdr)

		// A single data blob is split evenly across the declared chunks;
		// real DX10 archives split by mip range, which the directive's
		// ImageState already encodes upstream of the builder.
		chunkData := splitEvenly(p.stored, len(specs))
		for ci, spec := range specs {
			cd := chunkData[ci]
			chunk := make([]byte, ba2TextureChunk)
			le.PutUint64(chunk[0:8], uint64(offset))
			packed := uint32(0)
			if b.Compress {
				packed = uint32(len(cd))
			}
			le.PutUint32(chunk[8:12], packed)
			le.PutUint32(chunk[12:16], uint32(len(cd)))
			le.PutUint16(chunk[16:18], spec.StartMip)
			le.PutUint16(chunk[18:20], spec.EndMip)
			le.PutUint32(chunk[20:24], 0xBAADF00D)
			entryBytes.Write(chunk)
			offset += int64(len(cd))
		}
	}

	nameTableOffset := uint64(offset)
	le.PutUint64(hdr[16:24], nameTableOffset)

	if _, err := out.Write(hdr); err != nil {
		return err
	}
	if _, err := out.Write(entryBytes.Bytes()); err != nil {
		return err
	}
	for _, p := range preparedFiles {
		if _, err := out.Write(p.stored); err != nil {
			return errors.Wrapf(err, "unable to write data for %q", p.file.Path)
		}
	}
	for _, f := range b.files {
		name := []byte(f.Path)
		var lenBuf [2]byte
		le.PutUint16(lenBuf[:], uint16(len(name)))
		if _, err := out.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := out.Write(name); err != nil {
			return err
		}
	}

	return nil
}

func fileExtBytes(path string) []byte {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	b := make([]byte, 4)
	copy(b, ext)
	return b
}

// splitEvenly divides data into n roughly equal contiguous slices; used
// when a texture's chunk geometry declares more than one chunk but the
// source data arrives as a single blob.
func splitEvenly(data []byte, n int) [][]byte {
	if n <= 1 {
		return [][]byte{data}
	}
	out := make([][]byte, n)
	base := len(data) / n
	pos := 0
	for i := 0; i < n; i++ {
		size := base
		if i == n-1 {
			size = len(data) - pos
		}
		out[i] = data[pos : pos+size]
		pos += size
	}
	return out
}

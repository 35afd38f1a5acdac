package archive

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// BSA archive flags (header offset 12).
const (
	BSAFlagIncludeDirectoryNames uint32 = 1 << 0
	BSAFlagIncludeFileNames      uint32 = 1 << 1
	BSAFlagCompressed            uint32 = 1 << 2
	BSAFlagEmbedFileNames        uint32 = 1 << 9 // version 105 only
)

const (
	bsaHeaderSize          = 36
	bsaFolderRecordSizeV10x = 16 // version 103/104: hash(8) + count(4) + offset(4)
	bsaFolderRecordSizeV105 = 24 // version 105: hash(8) + count(4) + pad(4) + offset(8)

	// bsaSizeMask masks out the two high bits reserved for the per-file
	// compression-toggle flag in a FileRecord's size field.
	bsaSizeMask           = 0x3FFFFFFF
	bsaCompressionToggle  = 0x40000000
)

// BSAFile is one member of a BSA archive as presented to the writer: path is
// the archive-relative path using backslashes, per the TES4 convention.
type BSAFile struct {
	Path string
	Data []byte
}

// bsaReader implements Reader directly against an on-disk BSA, without
// staging to a temp directory: Bethesda sources are read in place, never
// extracted.
type bsaReader struct {
	path    string
	version uint32
	flags   uint32
	files   map[string]bsaFileLocation // normalized path -> location
	order   []string                   // original-cased paths, in on-disk order
}

type bsaFileLocation struct {
	originalPath string
	offset       int64
	storedSize   uint32 // as encoded on disk, including the toggle bit
}

func openBSA(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open %q as bsa", path)
	}
	defer f.Close()

	var hdr [bsaHeaderSize]byte
	if _, err := io.ReadFull(f, hdr[:]); err != nil {
		return nil, errors.Wrapf(err, "unable to read bsa header of %q", path)
	}
	if string(hdr[0:4]) != "BSA\x00" {
		return nil, errors.Errorf("%q is not a BSA archive (bad magic)", path)
	}
	le := binary.LittleEndian
	version := le.Uint32(hdr[4:8])
	archiveFlags := le.Uint32(hdr[12:16])
	folderCount := le.Uint32(hdr[16:20])
	fileCount := le.Uint32(hdr[20:24])
	totalFileNameLength := le.Uint32(hdr[28:32])

	folderRecordSize := bsaFolderRecordSizeV10x
	if version == 105 {
		folderRecordSize = bsaFolderRecordSizeV105
	}

	type folderMeta struct {
		count  uint32
		offset int64
	}
	folders := make([]folderMeta, folderCount)
	folderBuf := make([]byte, folderRecordSize)
	for i := range folders {
		if _, err := io.ReadFull(f, folderBuf); err != nil {
			return nil, errors.Wrapf(err, "unable to read bsa folder record %d of %q", i, path)
		}
		if version == 105 {
			folders[i] = folderMeta{
				count:  le.Uint32(folderBuf[8:12]),
				offset: int64(le.Uint64(folderBuf[16:24])),
			}
		} else {
			folders[i] = folderMeta{
				count:  le.Uint32(folderBuf[8:12]),
				offset: int64(le.Uint32(folderBuf[12:16])),
			}
		}
	}

	type fileRec struct {
		folderName string
		hash       uint64
		size       uint32
		offset     uint32
	}
	var fileRecs []fileRec

	for _, fm := range folders {
		nameLen, err := readByte(f)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to read bsa folder name length in %q", path)
		}
		nameBuf := make([]byte, nameLen)
		if _, err := io.ReadFull(f, nameBuf); err != nil {
			return nil, errors.Wrapf(err, "unable to read bsa folder name in %q", path)
		}
		folderName := strings.TrimRight(string(nameBuf), "\x00")

		for j := uint32(0); j < fm.count; j++ {
			var rec [16]byte
			if _, err := io.ReadFull(f, rec[:]); err != nil {
				return nil, errors.Wrapf(err, "unable to read bsa file record in %q", path)
			}
			fileRecs = append(fileRecs, fileRec{
				folderName: folderName,
				hash:       le.Uint64(rec[0:8]),
				size:       le.Uint32(rec[8:12]),
				offset:     le.Uint32(rec[12:16]),
			})
		}
	}

	// File names block: totalFileNameLength bytes of NUL-terminated names,
	// in the same order as the file records were emitted above.
	namesBuf := make([]byte, totalFileNameLength)
	if archiveFlags&BSAFlagIncludeFileNames != 0 {
		if _, err := io.ReadFull(f, namesBuf); err != nil {
			return nil, errors.Wrapf(err, "unable to read bsa file names block of %q", path)
		}
	}
	names := strings.Split(strings.TrimRight(string(namesBuf), "\x00"), "\x00")

	r := &bsaReader{path: path, version: version, flags: archiveFlags, files: make(map[string]bsaFileLocation, fileCount)}
	for i, fr := range fileRecs {
		var fileName string
		if i < len(names) {
			fileName = names[i]
		}
		full := fileName
		if fr.folderName != "" {
			full = fr.folderName + "\\" + fileName
		}
		full = strings.ReplaceAll(full, "\\", "/")

		loc := bsaFileLocation{originalPath: full, offset: int64(fr.offset), storedSize: fr.size}
		key := normalizeKey(full)
		r.files[key] = loc
		r.order = append(r.order, full)
	}

	if uint32(len(fileRecs)) != fileCount {
		return nil, errors.Errorf("bsa %q declares %d files but %d file records were read", path, fileCount, len(fileRecs))
	}

	return r, nil
}

func normalizeKey(p string) string {
	return strings.ToLower(strings.ReplaceAll(p, "\\", "/"))
}

func readByte(r io.Reader) (byte, error) {
	var b [1]byte
	_, err := io.ReadFull(r, b[:])
	return b[0], err
}

func (r *bsaReader) List() ([]Entry, error) {
	entries := make([]Entry, 0, len(r.order))
	for _, p := range r.order {
		loc := r.files[normalizeKey(p)]
		size := loc.storedSize & bsaSizeMask
		entries = append(entries, Entry{Path: p, Size: int64(size)})
	}
	return entries, nil
}

func (r *bsaReader) ExtractFile(requested string) ([]byte, error) {
	loc, ok := r.files[normalizeKey(requested)]
	if !ok {
		return nil, errors.Errorf("%q not found in %q", requested, r.path)
	}
	return r.readAt(loc)
}

func (r *bsaReader) readAt(loc bsaFileLocation) ([]byte, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to reopen %q", r.path)
	}
	defer f.Close()

	if _, err := f.Seek(loc.offset, io.SeekStart); err != nil {
		return nil, errors.Wrapf(err, "unable to seek in %q", r.path)
	}

	compressedByDefault := r.flags&BSAFlagCompressed != 0
	toggled := loc.storedSize&bsaCompressionToggle != 0
	compressed := compressedByDefault != toggled
	size := int64(loc.storedSize & bsaSizeMask)

	if !compressed {
		buf := make([]byte, size)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, errors.Wrapf(err, "unable to read data for %q", r.path)
		}
		return buf, nil
	}

	var originalSizeBuf [4]byte
	if _, err := io.ReadFull(f, originalSizeBuf[:]); err != nil {
		return nil, errors.Wrapf(err, "unable to read original size for compressed entry in %q", r.path)
	}
	originalSize := binary.LittleEndian.Uint32(originalSizeBuf[:])
	compressedData := make([]byte, size-4)
	if _, err := io.ReadFull(f, compressedData); err != nil {
		return nil, errors.Wrapf(err, "unable to read compressed data in %q", r.path)
	}
	zr, err := zlib.NewReader(bytes.NewReader(compressedData))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to decompress entry in %q", r.path)
	}
	defer zr.Close()
	out := make([]byte, originalSize)
	if _, err := io.ReadFull(zr, out); err != nil {
		return nil, errors.Wrapf(err, "unable to inflate entry in %q", r.path)
	}
	return out, nil
}

func (r *bsaReader) ExtractMany(paths []string, outDir string, _ int) (map[string]string, error) {
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

func (r *bsaReader) ExtractAll(outDir string, _ int) (map[string]string, error) {
	result := make(map[string]string, len(r.order))
	for _, p := range r.order {
		loc := r.files[normalizeKey(p)]
		data, err := r.readAt(loc)
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

func (r *bsaReader) Close() error { return nil }

func writeExtracted(outDir, relativeKey string, data []byte) (string, error) {
	dest := filepath.Join(outDir, filepath.FromSlash(relativeKey))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", errors.Wrapf(err, "unable to create directory for %q", dest)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		return "", errors.Wrapf(err, "unable to write %q", dest)
	}
	return dest, nil
}

// BSABuilder assembles a version 103/104/105 BSA archive in memory and
// writes it out in one pass. It supports a "try compressed, retry
// uncompressed on overflow" contract: Build returns an error satisfying
// IsOverflowError when a per-file size field cannot represent a compressed
// entry.
type BSABuilder struct {
	Version      uint32 // 103, 104, or 105
	ArchiveFlags uint32
	FileFlags    uint32
	Compressed   bool
	files        []BSAFile
}

func NewBSABuilder(version uint32, archiveFlags, fileFlags uint32, compressed bool) *BSABuilder {
	return &BSABuilder{Version: version, ArchiveFlags: archiveFlags, FileFlags: fileFlags, Compressed: compressed}
}

func (b *BSABuilder) AddFile(path string, data []byte) {
	b.files = append(b.files, BSAFile{Path: path, Data: data})
}

type overflowError struct{ msg string }

func (e *overflowError) Error() string { return e.msg }

// IsOverflowError reports whether err indicates a file-size-field overflow,
// the signal a caller uses to retry the build without compression.
func IsOverflowError(err error) bool {
	_, ok := errors.Cause(err).(*overflowError)
	return ok
}

// Build writes the archive to outputPath.
func (b *BSABuilder) Build(outputPath string) error {
	if len(b.files) == 0 {
		return errors.New("bsa builder: no files to write")
	}

	type folder struct {
		name  string
		files []*BSAFile
	}
	byFolder := map[string]*folder{}
	var folderOrder []string
	for i := range b.files {
		f := &b.files[i]
		normalized := strings.ReplaceAll(f.Path, "/", "\\")
		dir := ""
		if idx := strings.LastIndexByte(normalized, '\\'); idx >= 0 {
			dir = normalized[:idx]
			normalized = normalized[idx+1:]
		}
		f.Path = normalized
		fl, ok := byFolder[strings.ToLower(dir)]
		if !ok {
			fl = &folder{name: dir}
			byFolder[strings.ToLower(dir)] = fl
			folderOrder = append(folderOrder, strings.ToLower(dir))
		}
		fl.files = append(fl.files, f)
	}
	sort.Strings(folderOrder)

	archiveFlags := b.ArchiveFlags | BSAFlagIncludeDirectoryNames | BSAFlagIncludeFileNames
	if b.Compressed {
		archiveFlags |= BSAFlagCompressed
	} else {
		archiveFlags &^= BSAFlagCompressed
	}

	folderRecordSize := bsaFolderRecordSizeV10x
	if b.Version == 105 {
		folderRecordSize = bsaFolderRecordSizeV105
	}

	var totalFileNameLength uint32
	for _, key := range folderOrder {
		for _, f := range byFolder[key].files {
			totalFileNameLength += uint32(len(f.Path)) + 1
		}
	}

	folderRecordsStart := int64(bsaHeaderSize)
	fileRecordsStart := folderRecordsStart + int64(len(folderOrder))*int64(folderRecordSize)

	// Pass 1: compress (if requested) and compute the file-data layout, so
	// folder/file records can be written with correct offsets in one pass.
	type preparedFile struct {
		file       *BSAFile
		stored     []byte
		sizeField  uint32
	}
	prepared := make(map[*BSAFile]*preparedFile, len(b.files))
	for i := range b.files {
		f := &b.files[i]
		stored := f.Data
		sizeField := uint32(len(f.Data))
		if b.Compressed {
			var buf bytes.Buffer
			zw := zlib.NewWriter(&buf)
			if _, err := zw.Write(f.Data); err != nil {
				return errors.Wrapf(err, "unable to compress %q", f.Path)
			}
			if err := zw.Close(); err != nil {
				return errors.Wrapf(err, "unable to compress %q", f.Path)
			}
			var sizePrefixed bytes.Buffer
			binary.Write(&sizePrefixed, binary.LittleEndian, uint32(len(f.Data)))
			sizePrefixed.Write(buf.Bytes())
			stored = sizePrefixed.Bytes()
			sizeField = uint32(len(stored))
			if sizeField&bsaSizeMask != sizeField {
				return &overflowError{msg: "compressed file record size exceeds BSA field width"}
			}
		}
		prepared[f] = &preparedFile{file: f, stored: stored, sizeField: sizeField}
	}

	// Compute per-folder name-block size to place file records correctly.
	var dataOffset int64
	{
		offset := fileRecordsStart
		for _, key := range folderOrder {
			fl := byFolder[key]
			offset += 1 + int64(len(fl.name)) + 1 // length byte + name + NUL
			offset += int64(len(fl.files)) * 16
		}
		offset += int64(totalFileNameLength)
		dataOffset = offset
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return errors.Wrapf(err, "unable to create %q", outputPath)
	}
	defer file.Close()
	out := bufio.NewWriter(file)

	hdr := make([]byte, bsaHeaderSize)
	copy(hdr[0:4], "BSA\x00")
	le := binary.LittleEndian
	le.PutUint32(hdr[4:8], b.Version)
	le.PutUint32(hdr[8:12], bsaHeaderSize)
	le.PutUint32(hdr[12:16], archiveFlags)
	le.PutUint32(hdr[16:20], uint32(len(folderOrder)))
	le.PutUint32(hdr[20:24], uint32(len(b.files)))
	le.PutUint32(hdr[24:28], 0) // totalFolderNameLength, filled below
	le.PutUint32(hdr[28:32], totalFileNameLength)
	le.PutUint32(hdr[32:36], b.FileFlags)

	var totalFolderNameLength uint32
	for _, key := range folderOrder {
		totalFolderNameLength += uint32(len(byFolder[key].name)) + 1
	}
	le.PutUint32(hdr[24:28], totalFolderNameLength)

	if _, err := out.Write(hdr); err != nil {
		return errors.Wrapf(err, "unable to write bsa header to %q", outputPath)
	}

	// Folder records.
	runningOffset := fileRecordsStart
	for _, key := range folderOrder {
		fl := byFolder[key]
		rec := make([]byte, folderRecordSize)
		hash := bsaHash(fl.name, false)
		le.PutUint64(rec[0:8], hash)
		le.PutUint32(rec[8:12], uint32(len(fl.files)))
		if b.Version == 105 {
			le.PutUint64(rec[16:24], uint64(runningOffset))
		} else {
			le.PutUint32(rec[12:16], uint32(runningOffset))
		}
		if _, err := out.Write(rec); err != nil {
			return errors.Wrapf(err, "unable to write bsa folder record to %q", outputPath)
		}
		runningOffset += 1 + int64(len(fl.name)) + 1 + int64(len(fl.files))*16
	}

	// Folder name + file record blocks, then the flat file-name block.
	var fileNamesBlock bytes.Buffer
	fileDataOffset := dataOffset
	for _, key := range folderOrder {
		fl := byFolder[key]
		nameBytes := append([]byte(fl.name), 0)
		if err := out.WriteByte(byte(len(nameBytes))); err != nil {
			return err
		}
		if _, err := out.Write(nameBytes); err != nil {
			return err
		}
		for _, f := range fl.files {
			p := prepared[f]
			rec := make([]byte, 16)
			le.PutUint64(rec[0:8], bsaHash(f.Path, true))
			le.PutUint32(rec[8:12], p.sizeField)
			le.PutUint32(rec[12:16], uint32(fileDataOffset))
			if _, err := out.Write(rec); err != nil {
				return err
			}
			fileDataOffset += int64(len(p.stored))
			fileNamesBlock.WriteString(f.Path)
			fileNamesBlock.WriteByte(0)
		}
	}
	if _, err := out.Write(fileNamesBlock.Bytes()); err != nil {
		return errors.Wrapf(err, "unable to write bsa file names block to %q", outputPath)
	}

	// File data, in the same order as the file records above.
	for _, key := range folderOrder {
		for _, f := range byFolder[key].files {
			if _, err := out.Write(prepared[f].stored); err != nil {
				return errors.Wrapf(err, "unable to write data for %q", f.Path)
			}
		}
	}

	if err := out.Flush(); err != nil {
		return errors.Wrapf(err, "unable to flush %q", outputPath)
	}
	return nil
}

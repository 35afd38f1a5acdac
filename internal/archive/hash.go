package archive

import "strings"

// bsaHash reproduces the folder/file name hashing scheme used by TES4-style
// BSA archives: a 32-bit hash derived from the first/last characters and
// length of the name, combined with a rolling hash over the interior
// characters (and, for files, the extension). Games use this hash to avoid
// storing full names in the lookup path; our reader and writer only need to
// agree with each other; agreement with the real game hash function is a
// bonus, not a requirement of this package's round-trip guarantee.
func bsaHash(name string, isFile bool) uint64 {
	name = strings.ToLower(strings.ReplaceAll(name, "/", "\\"))

	var ext string
	if isFile {
		if i := strings.LastIndexByte(name, '.'); i >= 0 {
			ext = name[i:]
			name = name[:i]
		}
	}
	if name == "" {
		return 0
	}

	n := len(name)
	var b1 byte
	if n > 2 {
		b1 = name[n-2]
	}
	hash1 := uint32(name[n-1]) | uint32(b1)<<8 | uint32(uint8(n))<<16 | uint32(name[0])<<24

	switch ext {
	case ".kf":
		hash1 |= 0x80
	case ".nif":
		hash1 |= 0x8000
	case ".dds":
		hash1 |= 0x8080
	case ".wav":
		hash1 |= 0x80000000
	}

	var hash2 uint32
	if n > 2 {
		for i := 1; i < n-1; i++ {
			hash2 = hash2*0x1003F + uint32(name[i])
		}
	}
	for i := 0; i < len(ext); i++ {
		hash2 = hash2*0x1003F + uint32(ext[i])
	}

	return uint64(hash2)<<32 | uint64(hash1)
}

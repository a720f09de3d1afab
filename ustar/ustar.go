// Package ustar reads and writes the 512-byte-block USTAR archive
// format the boot ramfs image is packaged in (spec.md §6 USTAR
// archive; §2: "mounts ramfs at / (populated from an embedded USTAR
// image)"). Grounded on original_source/kernel/fs/ramfs.c's
// ramfs_init, which walks a raw USTAR blob entry by entry using the
// same oct2bin + "ustar" magic-sentinel loop this package generalizes
// into a typed Go reader; the writer side is new plumbing for
// cmd/mkimage, grounded on biscuit/src/mkfs/mkfs.go's "walk a host
// directory, append entries" shape.
package ustar

import (
	"bytes"
	"fmt"
	"strconv"
)

const blockSize = 512

// Type enumerates the USTAR type-byte values spec.md §6 names,
// mapped to VFS node kinds by the caller (fs/ramfs).
type Type byte

const (
	TypeFile    Type = '0'
	TypeSymlink Type = '2'
	TypeCharDev Type = '3'
	TypeBlkDev  Type = '4'
	TypeFolder  Type = '5'
)

// Entry is one decoded archive member.
type Entry struct {
	Name     string
	Type     Type
	Mode     uint32
	MTimeSec int64
	Linkname string
	Data     []byte
}

// header mirrors the fixed 512-byte USTAR header layout (spec.md §6).
type header struct {
	name     [100]byte
	mode     [8]byte
	uid      [8]byte
	gid      [8]byte
	size     [12]byte
	mtime    [12]byte
	chksum   [8]byte
	typeflag byte
	linkname [100]byte
	magic    [6]byte
	version  [2]byte
	uname    [32]byte
	gname    [32]byte
	devmajor [8]byte
	devminor [8]byte
	prefix   [155]byte
}

func oct2bin(b []byte) uint64 {
	s := bytes.TrimRight(bytes.TrimLeft(b, "\x00 "), "\x00 ")
	if len(s) == 0 {
		return 0
	}
	n, _ := strconv.ParseUint(string(s), 8, 64)
	return n
}

func bin2oct(n uint64, width int) []byte {
	s := strconv.FormatUint(n, 8)
	for len(s) < width-1 {
		s = "0" + s
	}
	out := make([]byte, width)
	copy(out, s)
	out[width-1] = 0
	return out
}

func cstr(b []byte) string {
	i := bytes.IndexByte(b, 0)
	if i < 0 {
		return string(b)
	}
	return string(b[:i])
}

// Read decodes every entry in a USTAR archive. Entries are walked
// header-then-body exactly as ramfs_init's oct2bin/magic-check loop
// does; end-of-archive is the standard two all-zero terminator
// blocks rather than ramfs_init's "until the ustar magic stops
// matching" heuristic, since a terminator check is unambiguous.
func Read(data []byte) ([]Entry, error) {
	var entries []Entry
	off := 0
	for off+blockSize <= len(data) {
		block := data[off : off+blockSize]
		if isZeroBlock(block) {
			break
		}
		if len(block) < 263 || string(block[257:262]) != "ustar" {
			return nil, fmt.Errorf("ustar: bad magic at offset %d", off)
		}
		var h header
		copyHeader(&h, block)

		size := oct2bin(h.size[:])
		e := Entry{
			Name:     cstr(h.name[:]),
			Type:     Type(h.typeflag),
			Mode:     uint32(oct2bin(h.mode[:])),
			MTimeSec: int64(oct2bin(h.mtime[:])),
			Linkname: cstr(h.linkname[:]),
		}
		off += blockSize

		if e.Type == TypeFile || e.Type == TypeSymlink {
			if off+int(size) > len(data) {
				return nil, fmt.Errorf("ustar: entry %q truncated", e.Name)
			}
			e.Data = append([]byte(nil), data[off:off+int(size)]...)
		}
		entries = append(entries, e)

		// File bodies are padded up to the next 512-byte boundary.
		off += int((size + blockSize - 1) / blockSize * blockSize)
	}
	return entries, nil
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func copyHeader(h *header, b []byte) {
	copy(h.name[:], b[0:100])
	copy(h.mode[:], b[100:108])
	copy(h.uid[:], b[108:116])
	copy(h.gid[:], b[116:124])
	copy(h.size[:], b[124:136])
	copy(h.mtime[:], b[136:148])
	copy(h.chksum[:], b[148:156])
	h.typeflag = b[156]
	copy(h.linkname[:], b[157:257])
	copy(h.magic[:], b[257:263])
}

// Write encodes entries into a USTAR archive, terminated by the
// standard two all-zero blocks.
func Write(entries []Entry) []byte {
	var buf bytes.Buffer
	for _, e := range entries {
		var block [blockSize]byte
		copy(block[0:100], e.Name)
		copy(block[100:108], bin2oct(uint64(e.Mode), 8))
		copy(block[124:136], bin2oct(uint64(len(e.Data)), 12))
		copy(block[136:148], bin2oct(uint64(e.MTimeSec), 12))
		block[156] = byte(e.Type)
		copy(block[157:257], e.Linkname)
		copy(block[257:263], "ustar")
		block[263] = '0'
		block[264] = '0'

		// USTAR checksum: sum of header bytes with the checksum
		// field itself treated as eight spaces, written back as a
		// six-digit octal value followed by NUL and space.
		for i := range block[148:156] {
			block[148+i] = ' '
		}
		var sum uint64
		for _, c := range block {
			sum += uint64(c)
		}
		chk := bin2oct(sum, 7)
		copy(block[148:155], chk[:6])
		block[154] = 0
		block[155] = ' '

		buf.Write(block[:])
		if e.Type == TypeFile || e.Type == TypeSymlink {
			buf.Write(e.Data)
			pad := (blockSize - len(e.Data)%blockSize) % blockSize
			buf.Write(make([]byte, pad))
		}
	}
	buf.Write(make([]byte, blockSize*2))
	return buf.Bytes()
}

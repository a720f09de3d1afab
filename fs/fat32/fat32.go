// Package fat32 reads and writes a FAT32 partition (spec.md §4.9
// FAT32, §6's on-disk layout, §8's write-past-end round trip).
// Grounded on original_source/kernel/fs/fat32.h/.c: the BPB field
// layout, the LFN (3,1)(2,0)(1,0) assembly order with DOS-checksum
// validation (fat32_get_long_filename/fat32_checksum), the
// end-of-chain sentinels (fat32_get_next_cluster: ">= 0xFFFFFFF8" or
// "== 0x0FFFFFFF"), and first-fit free-cluster search
// (fat32_get_free_cluster). Field packing uses util.Readn/Writen, the
// teacher's own little-endian field-access idiom
// (biscuit/src/util/util.go), instead of a hand-rolled byte-shuffling
// parser.
package fat32

import (
	"fmt"

	"golang.org/x/text/encoding/charmap"

	"hankernel/defs"
	"hankernel/ustr"
	"hankernel/util"
	"hankernel/vfs"
)

const sectorSize = 512

// Disk is the block device a FAT32 instance reads/writes, grounded on
// the teacher's Disk_i capability interface (biscuit/src/fs/blk.go) —
// generalized to plain sector indices instead of the teacher's
// request-queue Bdev_req_t shape, since spec.md §4.9 describes FAT32
// I/O in terms of "512 bytes at a time", not an async request queue.
type Disk interface {
	ReadSector(lba uint32) ([]byte, error)
	WriteSector(lba uint32, data []byte) error
}

// bpbInfo is the subset of the BIOS Parameter Block fat32 needs
// (original_source's fat32_bs_info_t).
type bpbInfo struct {
	bytesPerSector      uint16
	sectorsPerCluster   uint8
	reservedSectorCount uint16
	numFATs             uint8
	sectorsPerFAT       uint32
	rootDirFirstCluster uint32
	fatBeginLBA         uint32
	clusterBeginLBA     uint32
}

// dirEntry mirrors fat_dir_entry_t's 32-byte on-disk layout.
type dirEntry struct {
	NameExt    [11]byte
	Attr       byte
	data1      [2]byte
	CreateTime uint16
	CreateDate uint16
	LastVisit  uint16
	ClusterHi  uint16
	ModifyTime uint16
	ModifyDate uint16
	ClusterLo  uint16
	Size       uint32
}

const (
	attrReadOnly = 0x01
	attrHidden   = 0x02
	attrSystem   = 0x04
	attrVolumeID = 0x08
	attrDir      = 0x10
	attrArchive  = 0x20
	attrLongName = 0x0F
)

// ident is a FAT32-backed inode's identity blob: the entry's on-disk
// location plus its decoded name (original_source's fat32_entry_t /
// fat32_ident_item_t, merged into one struct since this package keeps
// no separate superblock-level entry cache).
type ident struct {
	name         string
	clusterBegin uint32
	dirCluster   uint32 // cluster the owning directory entry lives in
	dirIndex     int    // 32-byte-entry index within that directory
	isDir        bool
}

// FS is one mounted FAT32 partition.
type FS struct {
	disk Disk
	bpb  bpbInfo
	fat  []uint32 // cached first FAT, one uint32 per cluster (spec.md §4.9: "only the first FAT is read")
}

// New constructs an unmounted FAT32 instance over disk; call Mount to
// parse the MBR/BPB and load the FAT.
func New(disk Disk) *FS { return &FS{disk: disk} }

func (f *FS) Name() string      { return "fat32" }
func (f *FS) IsTemporary() bool { return false }

// partition types fat32 recognizes (spec.md §4.9: "locates a partition
// with type 0x0B/0x0C/0x1C").
var validPartitionTypes = map[byte]bool{0x0B: true, 0x0C: true, 0x1C: true}

// Mount reads the MBR to find a FAT32 partition, parses its BPB, and
// caches the first FAT (spec.md §4.9).
func (f *FS) Mount(device *vfs.Inode) (*vfs.Inode, defs.Err_t) {
	mbr, err := f.disk.ReadSector(0)
	if err != nil {
		return nil, defs.ToErrno(defs.KindIOFailure)
	}
	var partLBA uint32
	found := false
	for i := 0; i < 4; i++ {
		off := 446 + i*16
		ptype := mbr[off+4]
		if validPartitionTypes[ptype] {
			partLBA = uint32(util.Readn(mbr, 4, off+8))
			found = true
			break
		}
	}
	if !found {
		return nil, defs.ToErrno(defs.KindCorruptImage)
	}

	boot, err := f.disk.ReadSector(partLBA)
	if err != nil {
		return nil, defs.ToErrno(defs.KindIOFailure)
	}
	bpb := bpbInfo{
		bytesPerSector:      uint16(util.Readn(boot, 2, 11)),
		sectorsPerCluster:   uint8(util.Readn(boot, 1, 13)),
		reservedSectorCount: uint16(util.Readn(boot, 2, 14)),
		numFATs:             uint8(util.Readn(boot, 1, 16)),
		sectorsPerFAT:       uint32(util.Readn(boot, 4, 36)),
		rootDirFirstCluster: uint32(util.Readn(boot, 4, 44)),
	}
	bpb.fatBeginLBA = partLBA + uint32(bpb.reservedSectorCount)
	bpb.clusterBeginLBA = bpb.fatBeginLBA + uint32(bpb.numFATs)*bpb.sectorsPerFAT
	f.bpb = bpb

	if err := f.loadFAT(); err != 0 {
		return nil, err
	}

	root := &vfs.Inode{
		Type: vfs.Mountpoint,
		FS:   f,
		Identity: &ident{
			clusterBegin: bpb.rootDirFirstCluster,
			isDir:        true,
		},
	}
	return root, 0
}

func (f *FS) loadFAT() defs.Err_t {
	n := f.bpb.sectorsPerFAT * uint32(f.bpb.bytesPerSector) / 4
	f.fat = make([]uint32, n)
	secs := f.bpb.sectorsPerFAT
	for s := uint32(0); s < secs; s++ {
		data, err := f.disk.ReadSector(f.bpb.fatBeginLBA + s)
		if err != nil {
			return defs.ToErrno(defs.KindIOFailure)
		}
		perSector := int(f.bpb.bytesPerSector) / 4
		for i := 0; i < perSector; i++ {
			idx := s*uint32(perSector) + uint32(i)
			if int(idx) >= len(f.fat) {
				break
			}
			f.fat[idx] = uint32(util.Readn(data, 4, i*4))
		}
	}
	return 0
}

// nextCluster returns the cluster following c, or 0 at end-of-chain
// (end markers are 0x0FFFFFFF and any value >= 0x0FFFFFF8, per
// spec.md §6).
func (f *FS) nextCluster(c uint32) uint32 {
	if int(c) >= len(f.fat) {
		return 0
	}
	v := f.fat[c]
	if v >= 0x0FFFFFF8 || v == 0x0FFFFFFF {
		return 0
	}
	return v
}

const endOfChain = 0x0FFFFFFF

// freeCluster performs a first-fit scan for a zero FAT entry
// (original_source's fat32_get_free_cluster; spec.md §8 scenario 3:
// "the first cluster index k in the FAT satisfying FAT[k] == 0").
func (f *FS) freeCluster() (uint32, defs.Err_t) {
	for i := uint32(2); i < uint32(len(f.fat)); i++ {
		if f.fat[i] == 0 {
			return i, 0
		}
	}
	return 0, defs.ToErrno(defs.KindOutOfMemory)
}

func (f *FS) clusterBytes() int {
	return int(f.bpb.sectorsPerCluster) * int(f.bpb.bytesPerSector)
}

func (f *FS) clusterLBA(cluster uint32) uint32 {
	return f.bpb.clusterBeginLBA + (cluster-2)*uint32(f.bpb.sectorsPerCluster)
}

func (f *FS) readCluster(cluster uint32) ([]byte, error) {
	out := make([]byte, 0, f.clusterBytes())
	lba := f.clusterLBA(cluster)
	for s := uint8(0); s < f.bpb.sectorsPerCluster; s++ {
		data, err := f.disk.ReadSector(lba + uint32(s))
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
	}
	return out, nil
}

func (f *FS) writeCluster(cluster uint32, data []byte) error {
	lba := f.clusterLBA(cluster)
	for s := uint8(0); s < f.bpb.sectorsPerCluster; s++ {
		start := int(s) * sectorSize
		end := start + sectorSize
		if end > len(data) {
			end = len(data)
		}
		buf := make([]byte, sectorSize)
		copy(buf, data[start:end])
		if err := f.disk.WriteSector(lba+uint32(s), buf); err != nil {
			return err
		}
	}
	return nil
}

// syncFATSector writes back the FAT sector containing cluster c
// (spec.md §8 scenario 3: "rewrites ... the FAT sector").
func (f *FS) syncFATSector(c uint32) defs.Err_t {
	perSector := int(f.bpb.bytesPerSector) / 4
	sector := c / uint32(perSector)
	buf := make([]byte, f.bpb.bytesPerSector)
	base := sector * uint32(perSector)
	for i := 0; i < perSector; i++ {
		idx := base + uint32(i)
		if int(idx) >= len(f.fat) {
			break
		}
		util.Writen(buf, 4, i*4, int(f.fat[idx]))
	}
	if err := f.disk.WriteSector(f.bpb.fatBeginLBA+sector, buf); err != nil {
		return defs.ToErrno(defs.KindIOFailure)
	}
	return 0
}

// Open is a no-op: all state fat32 needs lives in the inode's ident
// (original_source's fat32_open instead re-resolves by path; our
// ident is populated once at MkNode/Refresh time).
func (f *FS) Open(inode *vfs.Inode, path ustr.Ustr) defs.Err_t { return 0 }

func (f *FS) Ioctl(inode *vfs.Inode, cmd int, arg uint64) (uint64, defs.Err_t) {
	return 0, defs.ToErrno(defs.KindUnsupported)
}

// RmNode is unimplemented: spec.md's FAT32 scenarios (§8) only
// exercise create/write/read, never delete.
func (f *FS) RmNode(parent *vfs.Inode, name ustr.Ustr) defs.Err_t {
	return defs.ToErrno(defs.KindUnsupported)
}

// decodeShortName renders an 8.3 directory-entry name as UTF-8,
// decoding the OEM-codepage bytes with x/text/encoding/charmap
// (original_source's fat32_get_short_filename operates on raw ASCII
// bytes; real FAT32 media encode the 8.3 name in an OEM codepage,
// classically CP437, so this package decodes it properly instead of
// assuming ASCII).
func decodeShortName(raw [11]byte) (string, error) {
	fn := trimPad(raw[0:8])
	ext := trimPad(raw[8:11])
	decoded, err := charmap.CodePage437.NewDecoder().Bytes(append(fn, ext...))
	if err != nil {
		return "", fmt.Errorf("fat32: decoding short name: %w", err)
	}
	fnLen := len(fn)
	name := string(decoded[:fnLen])
	extDec := string(decoded[fnLen:])
	if extDec != "" {
		name += "." + extDec
	}
	return name, nil
}

func trimPad(b []byte) []byte {
	i := len(b)
	for i > 0 && b[i-1] == ' ' {
		i--
	}
	out := make([]byte, i)
	copy(out, b[:i])
	return out
}

// shortNameChecksum computes the DOS checksum an LFN entry chain is
// validated against (original_source's fat32_checksum).
func shortNameChecksum(raw [11]byte) byte {
	var s byte
	for _, c := range raw {
		s = (s<<7 | s>>1) + c
	}
	return s
}

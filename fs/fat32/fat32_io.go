package fat32

import (
	"strings"

	"hankernel/defs"
	"hankernel/ustr"
	"hankernel/util"
	"hankernel/vfs"
)

// Read copies up to len(buf) bytes starting at off out of the inode's
// cluster chain, truncating at the inode's recorded size (spec.md §8's
// write-past-end scenario reads back exactly what was written).
func (f *FS) Read(inode *vfs.Inode, buf []byte, off int64) (int, defs.Err_t) {
	id := inode.Identity.(*ident)
	if off < 0 || uint64(off) >= inode.Size {
		return 0, 0
	}
	end := uint64(off) + uint64(len(buf))
	if end > inode.Size {
		end = inode.Size
	}
	clusterSize := uint64(f.clusterBytes())
	total := 0
	cluster := id.clusterBegin
	pos := uint64(0)
	for cluster != 0 && pos < end {
		if pos+clusterSize > uint64(off) {
			data, err := f.readCluster(cluster)
			if err != nil {
				return total, defs.ToErrno(defs.KindIOFailure)
			}
			lo := uint64(0)
			if uint64(off) > pos {
				lo = uint64(off) - pos
			}
			hi := clusterSize
			if pos+hi > end {
				hi = end - pos
			}
			if lo < hi {
				n := copy(buf[total:], data[lo:hi])
				total += n
			}
		}
		pos += clusterSize
		cluster = f.nextCluster(cluster)
	}
	return total, 0
}

// Write copies buf into the inode's cluster chain starting at off,
// allocating new clusters via freeCluster/syncFATSector as the chain
// needs to grow past its current length (spec.md §8 scenario 3: the
// file grows from 25 to 1810 bytes, so a new cluster is linked onto
// the chain and the FAT sector holding it is rewritten).
func (f *FS) Write(inode *vfs.Inode, buf []byte, off int64) (int, defs.Err_t) {
	id := inode.Identity.(*ident)
	if off < 0 {
		return 0, defs.ToErrno(defs.KindInvalid)
	}
	clusterSize := uint64(f.clusterBytes())
	end := uint64(off) + uint64(len(buf))

	if id.clusterBegin == 0 {
		c, err := f.freeCluster()
		if err != 0 {
			return 0, err
		}
		f.fat[c] = endOfChain
		if serr := f.syncFATSector(c); serr != 0 {
			return 0, serr
		}
		id.clusterBegin = c
	}

	total := 0
	cluster := id.clusterBegin
	pos := uint64(0)
	var prev uint32
	for pos < end {
		if cluster == 0 {
			nc, err := f.freeCluster()
			if err != 0 {
				return total, err
			}
			f.fat[nc] = endOfChain
			f.fat[prev] = nc
			if serr := f.syncFATSector(prev); serr != 0 {
				return total, serr
			}
			if serr := f.syncFATSector(nc); serr != 0 {
				return total, serr
			}
			cluster = nc
		}

		if pos+clusterSize > uint64(off) && pos < end {
			data, rerr := f.readCluster(cluster)
			if rerr != nil {
				return total, defs.ToErrno(defs.KindIOFailure)
			}
			lo := uint64(0)
			if uint64(off) > pos {
				lo = uint64(off) - pos
			}
			hi := clusterSize
			if pos+hi > end {
				hi = end - pos
			}
			if lo < hi {
				n := copy(data[lo:hi], buf[total:])
				total += n
			}
			if werr := f.writeCluster(cluster, data); werr != nil {
				return total, defs.ToErrno(defs.KindIOFailure)
			}
		}

		prev = cluster
		pos += clusterSize
		cluster = f.nextCluster(cluster)
	}
	return total, 0
}

// Sync rewrites the 32-byte directory entry for inode with its current
// size and first cluster (spec.md §8 scenario 3: "rewrites the
// directory entry ... to size 1810").
func (f *FS) Sync(inode *vfs.Inode) defs.Err_t {
	id := inode.Identity.(*ident)
	if id.dirCluster == 0 {
		return 0
	}
	data, err := f.readCluster(id.dirCluster)
	if err != nil {
		return defs.ToErrno(defs.KindIOFailure)
	}
	off := id.dirIndex * 32
	util.Writen(data, 2, off+20, int(uint16(id.clusterBegin>>16)))
	util.Writen(data, 2, off+26, int(uint16(id.clusterBegin)))
	util.Writen(data, 4, off+28, int(uint32(inode.Size)))
	if werr := f.writeCluster(id.dirCluster, data); werr != nil {
		return defs.ToErrno(defs.KindIOFailure)
	}
	return 0
}

// Refresh is a no-op: fat32's directory entries are walked lazily by
// GetDent rather than materialised up front (unlike ramfs's Populate).
func (f *FS) Refresh(inode *vfs.Inode) defs.Err_t { return 0 }

// GetDent returns the name and kind of the idx'th non-volume-label,
// non-dot entry of inode's directory cluster chain (spec.md §4.9's
// Getdent operation; original_source's fat32_getdent walks the same
// chain via fat32_dir_next).
func (f *FS) GetDent(inode *vfs.Inode, idx int) (string, vfs.NodeType, bool) {
	id, ok := inode.Identity.(*ident)
	if !ok || !id.isDir {
		return "", vfs.Invalid, false
	}
	n := 0
	var name string
	var kind vfs.NodeType
	found := false
	_ = f.iterDir(id.clusterBegin, func(rec dirRecord) bool {
		if rec.entry.Attr&attrVolumeID != 0 {
			return true
		}
		if rec.name == "." || rec.name == ".." || rec.name == "" {
			return true
		}
		if n == idx {
			name = rec.name
			kind = nodeTypeOf(rec.entry.Attr)
			found = true
			return false
		}
		n++
		return true
	})
	return name, kind, found
}

// MkNode creates a new directory entry under parent: a zero-length
// file or empty subdirectory whose 8.3 short name is the upper-cased,
// space-padded form of name (spec.md §6's on-disk short-name layout).
// Long file names beyond 8.3 are not written (Non-goal: LFN entries
// are read, never authored, by this package).
func (f *FS) MkNode(parent *vfs.Inode, name ustr.Ustr, kind vfs.NodeType) (*vfs.Inode, defs.Err_t) {
	pid, ok := parent.Identity.(*ident)
	if !ok || !pid.isDir {
		return nil, defs.ToErrno(defs.KindNotFound)
	}

	short := shortNameOf(name.String())

	slot, slotCluster, err := f.findFreeSlot(pid.clusterBegin)
	if err != 0 {
		return nil, err
	}

	var newCluster uint32
	isDir := kind == vfs.Folder
	if isDir {
		c, aerr := f.freeCluster()
		if aerr != 0 {
			return nil, aerr
		}
		f.fat[c] = endOfChain
		if serr := f.syncFATSector(c); serr != 0 {
			return nil, serr
		}
		newCluster = c
		empty := make([]byte, f.clusterBytes())
		if werr := f.writeCluster(c, empty); werr != nil {
			return nil, defs.ToErrno(defs.KindIOFailure)
		}
	}

	data, rerr := f.readCluster(slotCluster)
	if rerr != nil {
		return nil, defs.ToErrno(defs.KindIOFailure)
	}
	off := slot * 32
	for i := 0; i < 11; i++ {
		data[off+i] = short[i]
	}
	attr := byte(attrArchive)
	if isDir {
		attr = attrDir
	}
	data[off+11] = attr
	util.Writen(data, 2, off+20, int(uint16(newCluster>>16)))
	util.Writen(data, 2, off+26, int(uint16(newCluster)))
	util.Writen(data, 4, off+28, 0)
	if werr := f.writeCluster(slotCluster, data); werr != nil {
		return nil, defs.ToErrno(defs.KindIOFailure)
	}

	return &vfs.Inode{
		Type: kind,
		FS:   f,
		Identity: &ident{
			name:         name.String(),
			clusterBegin: newCluster,
			dirCluster:   slotCluster,
			dirIndex:     slot,
			isDir:        isDir,
		},
	}, 0
}

// findFreeSlot locates the first free (0x00 or 0xE5) 32-byte record in
// the directory's cluster chain, growing the chain by one cluster if
// every existing cluster is full.
func (f *FS) findFreeSlot(dirCluster uint32) (int, uint32, defs.Err_t) {
	perCluster := f.clusterBytes() / 32
	cluster := dirCluster
	var prev uint32
	for cluster != 0 {
		data, err := f.readCluster(cluster)
		if err != nil {
			return 0, 0, defs.ToErrno(defs.KindIOFailure)
		}
		for i := 0; i < perCluster; i++ {
			b := data[i*32]
			if b == 0x00 || b == 0xE5 {
				return i, cluster, 0
			}
		}
		prev = cluster
		cluster = f.nextCluster(cluster)
	}
	nc, err := f.freeCluster()
	if err != 0 {
		return 0, 0, err
	}
	f.fat[nc] = endOfChain
	f.fat[prev] = nc
	if serr := f.syncFATSector(prev); serr != 0 {
		return 0, 0, serr
	}
	if serr := f.syncFATSector(nc); serr != 0 {
		return 0, 0, serr
	}
	empty := make([]byte, f.clusterBytes())
	if werr := f.writeCluster(nc, empty); werr != nil {
		return 0, 0, defs.ToErrno(defs.KindIOFailure)
	}
	return 0, nc, 0
}

// shortNameOf renders name as an 11-byte 8.3 short-name record:
// upper-cased, space-padded, dot dropped (spec.md §6).
func shortNameOf(name string) [11]byte {
	var out [11]byte
	for i := range out {
		out[i] = ' '
	}
	base, ext, _ := strings.Cut(name, ".")
	base = strings.ToUpper(base)
	ext = strings.ToUpper(ext)
	if len(base) > 8 {
		base = base[:8]
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	copy(out[0:8], base)
	copy(out[8:11], ext)
	return out
}

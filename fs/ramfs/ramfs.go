// Package ramfs is the in-memory filesystem the boot image is
// unpacked into (spec.md §4.9 RAMFS): "initialised from an embedded
// USTAR archive; enumerates directories/regular files/symlinks;
// supports read, write (grows in memory), setlink." Grounded on
// original_source/kernel/fs/ramfs.c: ramfs_mount allocates a
// Mountpoint inode holding a fresh identity blob (here: FS.Mount);
// ramfs_init's USTAR walk is generalized into Populate, which drives
// the already-mounted vfs.VFS's own PathToNode the way ramfs_init
// drives vfs_path_to_node directly, since our vfs.VFS (unlike the
// teacher's single global tree) is an explicit value the filesystem
// doesn't own.
package ramfs

import (
	"hankernel/defs"
	"hankernel/ustar"
	"hankernel/ustr"
	"hankernel/vfs"
)

// ident is the per-inode identity blob (original_source's
// ramfs_ident_t: "alloc_size, data").
type ident struct {
	data []byte
}

// FS is one ramfs instance; a kernel typically mounts exactly one at
// "/" but nothing here assumes a singleton.
type FS struct{}

// New returns a ramfs instance.
func New() *FS { return &FS{} }

func (f *FS) Name() string      { return "ramfs" }
func (f *FS) IsTemporary() bool { return true }

// Mount allocates a fresh Mountpoint inode with an empty identity
// blob (original_source's ramfs_mount: "vfs_alloc_inode(...); ret->ident
// = create_ident()"). device is unused: ramfs is a temporary
// filesystem (spec.md §4.9: "Temporary filesystems ... take a null
// device").
func (f *FS) Mount(device *vfs.Inode) (*vfs.Inode, defs.Err_t) {
	return &vfs.Inode{Type: vfs.Mountpoint, FS: f, Identity: &ident{}, Perm: 0o777}, 0
}

func (f *FS) Open(inode *vfs.Inode, path ustr.Ustr) defs.Err_t { return 0 }

// MkNode allocates a fresh identity blob for the new inode
// (original_source's ramfs_mknode: "this->inode->ident =
// create_ident()").
func (f *FS) MkNode(parent *vfs.Inode, name ustr.Ustr, kind vfs.NodeType) (*vfs.Inode, defs.Err_t) {
	return &vfs.Inode{Type: kind, FS: f, Identity: &ident{}, Perm: 0o644}, 0
}

// RmNode releases the identity blob's backing slice (original_source's
// ramfs_setlink frees id->data once refcount reaches zero; Go's GC
// does the equivalent once the inode is unreachable, so this is a
// no-op retained only to satisfy the capability table).
func (f *FS) RmNode(parent *vfs.Inode, name ustr.Ustr) defs.Err_t { return 0 }

// Read copies up to len(buf) bytes starting at off from the inode's
// in-memory data, truncating at EOF (original_source's ramfs_read).
func (f *FS) Read(inode *vfs.Inode, buf []byte, off int64) (int, defs.Err_t) {
	id := inode.Identity.(*ident)
	if off < 0 || off > int64(len(id.data)) {
		return 0, 0
	}
	n := copy(buf, id.data[off:])
	return n, 0
}

// Write copies buf into the inode's data at off, growing the backing
// slice as needed (original_source's ramfs_write + ramfs_sync's
// realloc-on-grow).
func (f *FS) Write(inode *vfs.Inode, buf []byte, off int64) (int, defs.Err_t) {
	id := inode.Identity.(*ident)
	end := off + int64(len(buf))
	if end > int64(len(id.data)) {
		grown := make([]byte, end)
		copy(grown, id.data)
		id.data = grown
	}
	copy(id.data[off:end], buf)
	return len(buf), 0
}

// Sync is a no-op: Write already keeps id.data sized to the written
// extent, unlike original_source's ramfs_sync which reconciles
// this->size against a separately-grown buffer.
func (f *FS) Sync(inode *vfs.Inode) defs.Err_t { return 0 }

// Refresh is a no-op: ramfs's tree is fully materialised by Populate
// at mount time, matching original_source's ramfs_refresh ("(void)
// this; return 0").
func (f *FS) Refresh(inode *vfs.Inode) defs.Err_t { return 0 }

// GetDent is unused for ramfs: Populate builds the whole child tnode
// list up front rather than the teacher's lazy enumerate-on-demand
// getdent (original_source's ramfs_getdent scans a flat filelist
// vector; Populate already attaches children directly).
func (f *FS) GetDent(inode *vfs.Inode, idx int) (string, vfs.NodeType, bool) { return "", vfs.Invalid, false }

func (f *FS) Ioctl(inode *vfs.Inode, cmd int, arg uint64) (uint64, defs.Err_t) {
	return 0, defs.ToErrno(defs.KindUnsupported)
}

// typeOf maps a USTAR type byte to a vfs.NodeType (original_source's
// ustar_type_to_vfs_type).
func typeOf(t ustar.Type) vfs.NodeType {
	switch t {
	case ustar.TypeFile:
		return vfs.File
	case ustar.TypeSymlink:
		return vfs.Symlink
	case ustar.TypeCharDev:
		return vfs.CharDev
	case ustar.TypeBlkDev:
		return vfs.BlockDev
	case ustar.TypeFolder:
		return vfs.Folder
	default:
		return vfs.Invalid
	}
}

// Populate walks a decoded USTAR archive and materialises every entry
// under root via v's own PathToNode/mknode machinery, generalizing
// original_source's ramfs_init (which walks the raw blob and calls
// vfs_path_to_node(dname, CREATE, ...) per entry). PathToNode
// requires every component but the last to already exist, so folder
// entries must come before the files/symlinks they contain; USTAR
// archives list directories before their contents, and this function
// relies on that ordering, exactly as ramfs_init does.
func Populate(v *vfs.VFS, entries []ustar.Entry) defs.Err_t {
	for _, e := range entries {
		name := "/" + trimTrailingSlash(e.Name)
		kind := typeOf(e.Type)
		if kind == vfs.Invalid {
			continue
		}
		tn, err := v.PathToNode(ustr.FromString(name), defs.ModeCreate, kind)
		if err != 0 {
			return err
		}
		tn.Inode.Perm = e.Mode
		tn.Stat.Mode = e.Mode
		tn.Stat.MTimeNs = uint64(e.MTimeSec) * 1_000_000_000

		switch kind {
		case vfs.File:
			if _, werr := v.Write(tn, e.Data, 0); werr != 0 {
				return werr
			}
		case vfs.Symlink:
			if _, werr := v.Write(tn, []byte(e.Linkname), 0); werr != 0 {
				return werr
			}
		}
	}
	return 0
}

func trimTrailingSlash(s string) string {
	for len(s) > 1 && s[len(s)-1] == '/' {
		s = s[:len(s)-1]
	}
	return s
}

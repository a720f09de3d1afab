// Package vfs is the virtual filesystem tree: tnode/inode objects, the
// 12-entry filesystem capability table, and the path_to_node/open/
// close/read/write/seek/mount/refresh operations spec.md §4.9
// describes. Grounded on biscuit/src/fs/blk.go's capability-table
// style (Blockmem_i/Disk_i/Bdev_block_t) and biscuit/src/ufs/ufs.go's
// thin syscall-facing wrapper over a block-cached filesystem,
// generalized to the spec's tnode (named edge) / inode (unnamed
// index) split instead of the teacher's single on-disk inode table
// (Non-goal: no journal/log-structured FS).
package vfs

import (
	"sync"

	"hankernel/defs"
	"hankernel/stat"
	"hankernel/ustr"
)

// NodeType enumerates an inode's kind (spec.md §3 Inode).
type NodeType int

const (
	Invalid NodeType = iota
	File
	Symlink
	Folder
	BlockDev
	CharDev
	Mountpoint
)

// FS is the 12-entry filesystem capability table every concrete
// filesystem implements (spec.md §4.9).
type FS interface {
	Name() string
	IsTemporary() bool
	Mount(device *Inode) (*Inode, defs.Err_t)
	Open(inode *Inode, path ustr.Ustr) defs.Err_t
	MkNode(parent *Inode, name ustr.Ustr, kind NodeType) (*Inode, defs.Err_t)
	RmNode(parent *Inode, name ustr.Ustr) defs.Err_t
	Read(inode *Inode, buf []byte, off int64) (int, defs.Err_t)
	Write(inode *Inode, buf []byte, off int64) (int, defs.Err_t)
	Sync(inode *Inode) defs.Err_t
	Refresh(inode *Inode) defs.Err_t
	GetDent(inode *Inode, idx int) (name string, kind NodeType, ok bool)
	Ioctl(inode *Inode, cmd int, arg uint64) (uint64, defs.Err_t)
}

// Inode is an index node (spec.md §3): refcount = number of live
// FileDesc entries plus one for each tnode that names it.
type Inode struct {
	Type     NodeType
	Size     uint64
	Perm     uint32
	UID      uint32
	Refcount int
	FS       FS
	Identity any // filesystem-specific identity blob
	Mount    *Inode
	Children []*Tnode // only populated when Type is Folder or Mountpoint
}

// Tnode is a named edge pointing at an inode (spec.md §3).
type Tnode struct {
	Name   ustr.Ustr
	Stat   stat.Stat
	Inode  *Inode
	Parent *Inode
}

// Traversable reports whether a tnode can be descended into.
func (t *Tnode) Traversable() bool {
	return t.Inode.Type == Folder || t.Inode.Type == Mountpoint
}

// Handle is what Open returns: an index into the task's open_files
// plus the base spec.md §4.9 fixes (100), kept here only for the
// constant; the actual table lives in task.Task.
const HandleBase = 100

// NowFn supplies HPET-now + CMOS-boot-time nanoseconds for freshly
// created tnodes (spec.md §4.9: "mode and mtime are set from HPET-now
// + CMOS boot time").
type NowFn func() uint64

// VFS owns the singleton root tnode and the global tree lock (spec.md
// §5: "a single vfs_lock covers tree mutations and the open-files
// vector").
type VFS struct {
	mu   sync.Mutex
	Root *Tnode
	Now  NowFn
}

// New creates a VFS rooted at an empty Folder inode served by rootFS.
func New(rootFS FS, now NowFn) *VFS {
	rootInode := &Inode{Type: Folder, FS: rootFS, Refcount: 1}
	root := &Tnode{Name: ustr.MkUstrRoot(), Inode: rootInode}
	return &VFS{Root: root, Now: now}
}

// Lock / Unlock expose the single global vfs_lock (spec.md §5).
func (v *VFS) Lock()   { v.mu.Lock() }
func (v *VFS) Unlock() { v.mu.Unlock() }

func findChild(parent *Inode, name ustr.Ustr) *Tnode {
	for _, c := range parent.Children {
		if c.Name.Eq(name) {
			return c
		}
	}
	return nil
}

// PathToNode implements spec.md §4.9's path_to_node: walk tokens,
// search each step's children for a name match; on a missing final
// token, create when mode has ModeCreate and the parent is
// traversable, else NotFound; on a found final token with
// ModeErrOnExist set, AlreadyExists.
func (v *VFS) PathToNode(path ustr.Ustr, mode defs.Mode, createType NodeType) (*Tnode, defs.Err_t) {
	comps, ok := path.Components()
	if !ok {
		return nil, defs.ToErrno(defs.KindInvalid)
	}

	cur := v.Root
	for i, name := range comps {
		last := i == len(comps)-1
		if !cur.Traversable() {
			return nil, defs.ToErrno(defs.KindNotFound)
		}
		child := findChild(cur.Inode, name)

		if child == nil {
			if !last {
				return nil, defs.ToErrno(defs.KindNotFound)
			}
			if mode&defs.ModeCreate == 0 {
				return nil, defs.ToErrno(defs.KindNotFound)
			}
			newInode, err := cur.Inode.FS.MkNode(cur.Inode, name, createType)
			if err != 0 {
				return nil, err
			}
			newInode.Refcount++
			tn := &Tnode{
				Name:   name,
				Inode:  newInode,
				Stat:   stat.Stat{Mode: newInode.Perm, UID: newInode.UID, MTimeNs: v.Now()},
				Parent: cur.Inode,
			}
			cur.Inode.Children = append(cur.Inode.Children, tn)
			return tn, 0
		}

		if last {
			if mode&defs.ModeErrOnExist != 0 {
				return nil, defs.ToErrno(defs.KindAlreadyExists)
			}
			return child, 0
		}
		cur = child
	}
	// path was "/" itself (zero components): root is both first and
	// last token.
	if len(comps) == 0 {
		if mode&defs.ModeErrOnExist != 0 {
			return nil, defs.ToErrno(defs.KindAlreadyExists)
		}
		return v.Root, 0
	}
	return cur, 0
}

// Open locates the tnode, runs the filesystem's per-open setup, bumps
// the inode refcount, and returns the bound tnode for the caller
// (task.Task.AllocFD) to wrap in a FileDesc (spec.md §4.9).
func (v *VFS) Open(path ustr.Ustr, mode defs.Mode) (*Tnode, defs.Err_t) {
	tn, err := v.PathToNode(path, mode, File)
	if err != 0 {
		return nil, err
	}
	if tn.Inode.FS != nil {
		if openErr := tn.Inode.FS.Open(tn.Inode, path); openErr != 0 {
			return nil, openErr
		}
	}
	tn.Inode.Refcount++
	return tn, 0
}

// Close decrements the inode's refcount (spec.md §4.9).
func (v *VFS) Close(tn *Tnode) defs.Err_t {
	if tn.Inode.Refcount > 0 {
		tn.Inode.Refcount--
	}
	return 0
}

// Read delegates to the filesystem, which truncates at EOF (spec.md
// §4.9); vfs.Read itself does no bounds checking. TTY semantics (blocking reads) are implemented
// entirely inside fs/ttyfs's Read, since vfs.Read is a thin pass
// through.
func (v *VFS) Read(tn *Tnode, buf []byte, off int64) (int, defs.Err_t) {
	return tn.Inode.FS.Read(tn.Inode, buf, off)
}

// Write delegates to the filesystem, expanding inode.Size and calling
// Sync when the file grows (spec.md §4.9).
func (v *VFS) Write(tn *Tnode, buf []byte, off int64) (int, defs.Err_t) {
	n, err := tn.Inode.FS.Write(tn.Inode, buf, off)
	if err != 0 {
		return n, err
	}
	if uint64(off)+uint64(n) > tn.Inode.Size {
		tn.Inode.Size = uint64(off) + uint64(n)
		if syncErr := tn.Inode.FS.Sync(tn.Inode); syncErr != 0 {
			return n, syncErr
		}
	}
	return n, 0
}

// Seek implements SEEK_SET/CUR/END with bounds checking (spec.md
// §4.9); cur is the FileDesc's current offset before this call.
func Seek(cur int64, size uint64, offset int64, whence int) (int64, defs.Err_t) {
	var base int64
	switch whence {
	case defs.SeekSet:
		base = 0
	case defs.SeekCur:
		base = cur
	case defs.SeekEnd:
		base = int64(size)
	default:
		return 0, defs.ToErrno(defs.KindInvalid)
	}
	n := base + offset
	if n < 0 {
		return 0, defs.ToErrno(defs.KindInvalid)
	}
	return n, 0
}

// Mount requires the target to be an existing empty folder; it calls
// the filesystem's Mount, which returns a new Mountpoint inode that
// replaces the folder (spec.md §4.9). device may be nil for temporary
// filesystems (ramfs, ttyfs, pipefs).
func (v *VFS) Mount(device *Inode, mountPath ustr.Ustr, fs FS) defs.Err_t {
	tn, err := v.PathToNode(mountPath, defs.ModeRead, Folder)
	if err != 0 {
		return err
	}
	if tn.Inode.Type != Folder || len(tn.Inode.Children) != 0 {
		return defs.ToErrno(defs.KindInvalid)
	}
	mp, err := fs.Mount(device)
	if err != 0 {
		return err
	}
	tn.Inode = mp
	return 0
}

// Refresh asks the filesystem to re-enumerate children, materialising
// each as a child tnode (spec.md §4.9). Idempotent: existing tnodes
// for names the filesystem still reports are left untouched.
func (v *VFS) Refresh(tn *Tnode) defs.Err_t {
	if err := tn.Inode.FS.Refresh(tn.Inode); err != 0 {
		return err
	}
	for i := 0; ; i++ {
		name, kind, ok := tn.Inode.FS.GetDent(tn.Inode, i)
		if !ok {
			break
		}
		if findChild(tn.Inode, ustr.FromString(name)) != nil {
			continue
		}
		child := &Tnode{
			Name:   ustr.FromString(name),
			Inode:  &Inode{Type: kind, FS: tn.Inode.FS},
			Parent: tn.Inode,
		}
		tn.Inode.Children = append(tn.Inode.Children, child)
	}
	return 0
}

// Getdent returns the name and kind of the idx'th directory entry of
// tn, restoring the refresh/getdent distinction SPEC_FULL.md's
// Supplemented Features section names (HanOS's kernel/fs/vfs.c):
// unlike Refresh, which materialises every child tnode at once,
// Getdent hands back one entry at a time for a readdir-style syscall
// loop driven by the caller.
func (v *VFS) Getdent(tn *Tnode, idx int) (string, NodeType, bool) {
	return tn.Inode.FS.GetDent(tn.Inode, idx)
}

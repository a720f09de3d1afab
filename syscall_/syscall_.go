// Package syscall_ is the kernel's syscall dispatch table (spec.md
// §4.11): one entry point routing a syscall number and six register
// arguments to the subsystem it belongs to. Named syscall_ (trailing
// underscore) to avoid shadowing the standard library's syscall
// package, the same way the teacher avoids colliding with reserved
// identifiers elsewhere. Grounded on biscuit/src/fs/blk.go-style thin
// wrappers and the teacher's Vm_t.Userdmap8_inner/Userstr/Userreadn
// family (generalized here into vmm.CopyIn/CopyOut/ReadCString),
// argument marshalling per SPEC_FULL.md's Syscalls component.
package syscall_

import (
	"encoding/binary"
	"fmt"

	"hankernel/defs"
	"hankernel/elf"
	"hankernel/eventbus"
	"hankernel/fs/ttyfs"
	"hankernel/klog"
	"hankernel/limits"
	"hankernel/pmm"
	"hankernel/sched"
	"hankernel/task"
	"hankernel/ustr"
	"hankernel/vfs"
	"hankernel/vmm"
)

// Syscall numbers (spec.md §4.11's table).
const (
	SysDebugLog  = 0
	SysMmap      = 1
	SysOpenAt    = 2
	SysRead      = 3
	SysWrite     = 4
	SysSeek      = 5
	SysClose     = 6
	SysSetFSBase = 7
	SysIoctl     = 8
	SysGetPid    = 9
	SysFork      = 14
	SysExecve    = 15
	SysExit      = 23
)

// Well-known file descriptors (spec.md §4.11: "From stdin" / "to
// stdout/stderr"); anything in [3, task.FirstFD) is not backed by
// anything and returns EBADF.
const (
	FDStdin  = 0
	FDStdout = 1
	FDStderr = 2
)

// AtFDCwd is the dirfd sentinel telling openat to resolve a relative
// path against the calling task's cwd instead of another open
// directory (spec.md §9's redesign steer; DESIGN.md's Open Question
// decision).
const AtFDCwd = ^uint64(100) + 1 // two's-complement encoding of -100

// maxPathLen bounds the read of a user-supplied path string (spec.md
// §3 Tnode: paths are bounded, matching ustr.MaxPathLen).
const maxPathLen = ustr.MaxPathLen

// maxIOChunk bounds one read/write syscall's copy size, keeping the
// staging buffer fixed-size regardless of what userspace requests.
const maxIOChunk = 64 * 1024

// Result is what Dispatch returns: the value placed in rax, the errno
// placed in rdx (0 on success), and whether the calling task must be
// suspended before the trap returns (only ever true for the blocking
// stdin-read path; the actual context switch is the trap-return
// layer's job, out of scope per spec.md §1).
type Result struct {
	Value uint64
	Err   defs.Err_t
	Block bool
}

func ok(v uint64) Result       { return Result{Value: v} }
func fail(e defs.Err_t) Result { return Result{Err: e} }

// Syscalls bundles every subsystem a syscall handler needs. One
// instance is shared across all CPUs; callers serialize through
// sched's lock per spec.md §5's acquisition order (scheduler ≺ vfs ≺
// filesystem identity).
type Syscalls struct {
	VFS    *vfs.VFS
	VMM    *vmm.VMM
	PMM    *pmm.PMM
	Sched  *sched.Scheduler
	Events *eventbus.Bus
	Log    *klog.Log
	Limits *limits.Sys
	TTY    *ttyfs.FS

	// SetFSBase is the hardware seam for syscall 7 (spec.md §4.11:
	// "Write MSR FS_BASE"); New wires it to a no-op so constructing a
	// Syscalls never touches a real MSR, and cmd/kernel rewires it to
	// cpu.Wrmsr at boot, the same pattern vmm.New uses for
	// CurrentCR3/Invalidate.
	SetFSBase func(base uint64)

	// Tids names new children for fork (spec.md §4.6); cmd/kernel wires
	// in the same allocator it exposes as Kernel.TidAlloc.
	Tids *task.TidAllocator

	nextAnonVaddr uint64
}

// userStackBase is the virtual address at which sysExecve maps a
// freshly exec'd task's one-page user stack in every address space; the
// stack is not identity-mapped at its physical frame. Kept well clear
// of the anonymous mmap region.
const userStackBase = 0x7000_0000

// New wires a Syscalls table around the given kernel subsystems.
// anonBase is the first virtual address handed out for non-MAP_FIXED
// mmap requests (spec.md §4.11's mmap entry: "if MAP_FIXED, map at
// hint ... "; a non-fixed request has no hint to honour, so Syscalls
// keeps its own bump cursor instead of guessing one).
func New(v *vfs.VFS, vm *vmm.VMM, alloc *pmm.PMM, sc *sched.Scheduler, ev *eventbus.Bus, log *klog.Log, lim *limits.Sys, tty *ttyfs.FS, anonBase uint64) *Syscalls {
	return &Syscalls{
		VFS: v, VMM: vm, PMM: alloc, Sched: sc, Events: ev, Log: log, Limits: lim, TTY: tty,
		SetFSBase:     func(uint64) {},
		Tids:          task.NewTidAllocator(),
		nextAnonVaddr: anonBase,
	}
}

// Dispatch routes one syscall for t. a0..a5 are the six argument
// registers (spec.md §4.11: "Entry: via SYSCALL instruction ... A
// dispatch table indexed by call number routes to the implementation").
func (s *Syscalls) Dispatch(t *task.Task, num uint64, a0, a1, a2, a3, a4, a5 uint64) Result {
	switch num {
	case SysDebugLog:
		return s.sysDebugLog(t, a0, a1)
	case SysMmap:
		return s.sysMmap(t, a0, a1, a2)
	case SysOpenAt:
		return s.sysOpenAt(t, a0, a1, a2)
	case SysRead:
		return s.sysRead(t, a0, a1, a2)
	case SysWrite:
		return s.sysWrite(t, a0, a1, a2)
	case SysSeek:
		return s.sysSeek(t, a0, a1, a2)
	case SysClose:
		return s.sysClose(t, a0)
	case SysSetFSBase:
		s.SetFSBase(a0)
		return ok(0)
	case SysIoctl:
		return s.sysIoctl(t, a0, a1, a2)
	case SysGetPid:
		return ok(uint64(t.Tid))
	case SysFork:
		return s.sysFork(t)
	case SysExecve:
		return s.sysExecve(t, a0, a1, a2)
	case SysExit:
		return s.sysExit(t, a0)
	default:
		return fail(defs.ToErrno(defs.KindUnsupported))
	}
}

func (s *Syscalls) sysDebugLog(t *task.Task, strPtr, length uint64) Result {
	n := int(length)
	if n > maxIOChunk {
		n = maxIOChunk
	}
	buf := make([]byte, n)
	if !s.VMM.CopyOut(t.AS, strPtr, buf) {
		return fail(defs.ToErrno(defs.KindInvalid))
	}
	s.Log.Infof("%s", string(buf))
	return ok(uint64(n))
}

// resolvePath reads a NUL-terminated path out of user memory and, if
// it is relative, resolves it against cwd when dirfd is AtFDCwd
// (spec.md §4.11: "Resolve path (AT_FDCWD honoured)").
func (s *Syscalls) resolvePath(t *task.Task, dirfd, pathPtr uint64) (ustr.Ustr, defs.Err_t) {
	raw, found := s.VMM.ReadCString(t.AS, pathPtr, maxPathLen)
	if !found {
		return nil, defs.ToErrno(defs.KindInvalid)
	}
	p := ustr.FromString(raw)
	if p.IsAbsolute() {
		return p, 0
	}
	if dirfd != AtFDCwd {
		// Resolving against another open directory fd is not
		// implemented (Non-goal: no per-fd directory streams); the
		// only supported relative-path source is the task's cwd.
		return nil, defs.ToErrno(defs.KindUnsupported)
	}
	if t.Cwd == "/" {
		return ustr.FromString("/" + raw), 0
	}
	return ustr.FromString(t.Cwd + "/" + raw), 0
}

// openCreateFlag is the bit in openat's flags argument requesting
// O_CREAT-equivalent behavior (spec.md §4.11 leaves the exact flag
// encoding unspecified; this mirrors the conventional O_CREAT bit).
const openCreateFlag = 0x40

func (s *Syscalls) sysOpenAt(t *task.Task, dirfd, pathPtr, flags uint64) Result {
	path, err := s.resolvePath(t, dirfd, pathPtr)
	if err != 0 {
		return fail(err)
	}
	if !s.Limits.OpenFiles.Take() {
		return fail(-defs.EMFILE)
	}
	mode := defs.ModeRead | defs.ModeWrite
	if flags&openCreateFlag != 0 {
		mode |= defs.ModeCreate
	}
	tn, operr := s.VFS.Open(path, mode)
	if operr != 0 {
		s.Limits.OpenFiles.Give()
		return fail(operr)
	}
	fd := t.AllocFD(&task.FileDesc{
		Path:     path.String(),
		Mode:     defs.OReadWrite,
		TnodeRef: tn,
		InodeRef: tn.Inode,
	})
	return ok(uint64(fd))
}

func (s *Syscalls) lookupFD(t *task.Task, fd uint64) (*task.FileDesc, *vfs.Tnode, defs.Err_t) {
	if fd < task.FirstFD {
		return nil, nil, defs.ToErrno(defs.KindBadHandle)
	}
	desc, okFD := t.OpenFiles[int(fd)]
	if !okFD {
		return nil, nil, defs.ToErrno(defs.KindBadHandle)
	}
	tn, okTn := desc.TnodeRef.(*vfs.Tnode)
	if !okTn {
		return nil, nil, defs.ToErrno(defs.KindBadHandle)
	}
	return desc, tn, 0
}

func (s *Syscalls) sysRead(t *task.Task, fd, bufPtr, count uint64) Result {
	n := int(count)
	if n > maxIOChunk {
		n = maxIOChunk
	}
	switch fd {
	case FDStdin:
		staging := make([]byte, n)
		got, _ := s.TTY.Read(nil, staging, 0)
		if got > 0 {
			if !s.VMM.CopyIn(t.AS, bufPtr, staging[:got]) {
				return fail(defs.ToErrno(defs.KindInvalid))
			}
			return ok(uint64(got))
		}
		s.Events.Subscribe(t, eventbus.KeyPressed)
		return Result{Block: true}
	case FDStdout, FDStderr:
		return fail(defs.ToErrno(defs.KindBadHandle))
	default:
		_, tn, err := s.lookupFD(t, fd)
		if err != 0 {
			return fail(err)
		}
		desc := t.OpenFiles[int(fd)]
		staging := make([]byte, n)
		got, rerr := s.VFS.Read(tn, staging, desc.Offset)
		if rerr != 0 {
			return fail(rerr)
		}
		if !s.VMM.CopyIn(t.AS, bufPtr, staging[:got]) {
			return fail(defs.ToErrno(defs.KindInvalid))
		}
		desc.Offset += int64(got)
		return ok(uint64(got))
	}
}

func (s *Syscalls) sysWrite(t *task.Task, fd, bufPtr, count uint64) Result {
	n := int(count)
	if n > maxIOChunk {
		n = maxIOChunk
	}
	staging := make([]byte, n)
	if !s.VMM.CopyOut(t.AS, bufPtr, staging) {
		return fail(defs.ToErrno(defs.KindInvalid))
	}
	switch fd {
	case FDStdout, FDStderr:
		written, werr := s.TTY.Write(nil, staging, 0)
		if werr != 0 {
			return fail(werr)
		}
		return ok(uint64(written))
	case FDStdin:
		return fail(defs.ToErrno(defs.KindBadHandle))
	default:
		_, tn, err := s.lookupFD(t, fd)
		if err != 0 {
			return fail(err)
		}
		desc := t.OpenFiles[int(fd)]
		written, werr := s.VFS.Write(tn, staging, desc.Offset)
		if werr != 0 {
			return fail(werr)
		}
		desc.Offset += int64(written)
		return ok(uint64(written))
	}
}

func (s *Syscalls) sysSeek(t *task.Task, fd, offset, whence uint64) Result {
	_, tn, err := s.lookupFD(t, fd)
	if err != 0 {
		return fail(err)
	}
	desc := t.OpenFiles[int(fd)]
	n, serr := vfs.Seek(desc.Offset, tn.Inode.Size, int64(offset), int(whence))
	if serr != 0 {
		return fail(serr)
	}
	desc.Offset = n
	return ok(uint64(n))
}

func (s *Syscalls) sysClose(t *task.Task, fd uint64) Result {
	_, tn, err := s.lookupFD(t, fd)
	if err != 0 {
		return fail(err)
	}
	s.VFS.Close(tn)
	if cerr := t.CloseFD(int(fd)); cerr != 0 {
		return fail(cerr)
	}
	s.Limits.OpenFiles.Give()
	return ok(0)
}

func (s *Syscalls) sysIoctl(t *task.Task, fd, cmd, arg uint64) Result {
	_, tn, err := s.lookupFD(t, fd)
	if err != 0 {
		return fail(err)
	}
	v, ierr := tn.Inode.FS.Ioctl(tn.Inode, int(cmd), arg)
	if ierr != 0 {
		return fail(ierr)
	}
	return ok(v)
}

// sysMmap allocates npages physical frames and maps them at hint
// (MAP_FIXED, flags bit 0 set) or at the next slot of the anonymous
// mapping cursor (spec.md §4.11: "Allocate pages; if MAP_FIXED, map at
// hint in both global and task space").
func (s *Syscalls) sysMmap(t *task.Task, hint, npages, flags uint64) Result {
	const mapFixed = 1 << 0
	n := int(npages)
	if n <= 0 {
		return fail(defs.ToErrno(defs.KindInvalid))
	}
	paddr := s.PMM.Get(n, 0)

	var vaddr uint64
	if flags&mapFixed != 0 {
		vaddr = hint
		s.VMM.Map(nil, vaddr, paddr, n, vmm.UserMode, true)
		s.VMM.Map(t.AS, vaddr, paddr, n, vmm.UserMode, false)
	} else {
		vaddr = s.nextAnonVaddr
		s.nextAnonVaddr += uint64(n) * pmm.PageSize
		s.VMM.Map(t.AS, vaddr, paddr, n, vmm.UserMode, false)
	}
	t.AddMemMap(task.MemMap{Vaddr: vaddr, Paddr: paddr, NumPages: n, Flags: vmm.UserMode})
	return ok(vaddr)
}

// sysFork allocates a new tid, clones the parent's trap frame (rax
// zeroed for the child) and fd table, allocates the child a fresh
// address space, and copy-by-value replicates every parent MemMap
// into it — a fresh physical range per mapping, memcpy'd from the
// parent's frames and mapped at the same vaddr with the same flags
// (spec.md §4.6: "copy-by-value every MemMap ... allocate a fresh
// physical range, memcpy the contents, map it at the same virtual
// address with the same flags"). The child is pushed Ready onto the
// scheduler directly, since this repo models the trap-return/context-
// switch layer as out of scope (spec.md §1) and has no other path to
// make a freshly forked task runnable; the parent receives the
// child's tid, matching the child's own trap frame returning 0 in rax
// once it is first scheduled.
func (s *Syscalls) sysFork(t *task.Task) Result {
	childTid := s.Tids.Next()
	child := t.Fork(childTid)

	child.AS = s.VMM.CreateAddressSpace()
	for _, m := range t.MemMaps {
		newPaddr := s.PMM.Get(m.NumPages, 0)
		copy(s.PMM.View(newPaddr, m.NumPages*pmm.PageSize), s.PMM.View(m.Paddr, m.NumPages*pmm.PageSize))
		s.VMM.Map(child.AS, m.Vaddr, newPaddr, m.NumPages, m.Flags, true)
		child.AddMemMap(task.MemMap{Vaddr: m.Vaddr, Paddr: newPaddr, NumPages: m.NumPages, Flags: m.Flags})
	}
	child.KernelStack = make([]byte, len(t.KernelStack))
	child.UserStack = make([]byte, len(t.UserStack))

	s.Sched.PushReady(child)
	return ok(uint64(childTid))
}

// Linux AT_* aux-vector keys spec.md §4.6 names.
const (
	atPhdr  = 3
	atPhent = 4
	atPhnum = 5
	atEntry = 9
)

const maxArgvEntries = 256

// readStringVec reads a NULL-terminated array of user pointers to
// NUL-terminated strings (argv/envp), returning nil with no error for
// a NULL vector pointer.
func (s *Syscalls) readStringVec(t *task.Task, ptr uint64) ([]string, defs.Err_t) {
	if ptr == 0 {
		return nil, 0
	}
	var out []string
	var word [8]byte
	for i := 0; i < maxArgvEntries; i++ {
		if !s.VMM.CopyOut(t.AS, ptr+uint64(i)*8, word[:]) {
			return nil, defs.ToErrno(defs.KindInvalid)
		}
		entry := binary.LittleEndian.Uint64(word[:])
		if entry == 0 {
			return out, 0
		}
		str, found := s.VMM.ReadCString(t.AS, entry, maxPathLen)
		if !found {
			return nil, defs.ToErrno(defs.KindInvalid)
		}
		out = append(out, str)
	}
	return nil, defs.ToErrno(defs.KindInvalid)
}

// readFile reads a path's full contents through the VFS (open, read
// to EOF, close), the source bytes execve hands to elf.Load.
func (s *Syscalls) readFile(path ustr.Ustr) ([]byte, defs.Err_t) {
	tn, err := s.VFS.Open(path, defs.ModeRead)
	if err != 0 {
		return nil, err
	}
	defer s.VFS.Close(tn)

	size := tn.Inode.Size
	buf := make([]byte, size)
	var off int64
	for uint64(off) < size {
		n, rerr := s.VFS.Read(tn, buf[off:], off)
		if rerr != 0 {
			return nil, rerr
		}
		if n == 0 {
			break
		}
		off += int64(n)
	}
	return buf[:off], 0
}

// buildUserStack lays out argv/envp strings, an alignment pad, and the
// aux vector pairs, envp pointers and argv pointers above argc, in the
// order spec.md §4.6 describes ("from highest address to lowest:
// environment strings, argv strings, 16-byte alignment pad, 0-
// terminator, aux vector pairs ..., 0, envp pointers, 0, argv
// pointers, argc"). Returns the resulting top-of-stack (the value RSP
// is seeded to).
func buildUserStack(buf []byte, vaddrBase uint64, argv, envp []string, aux elf.AuxVec) uint64 {
	pos := len(buf)

	writeBytes := func(b []byte) uint64 {
		pos -= len(b)
		copy(buf[pos:], b)
		return vaddrBase + uint64(pos)
	}
	writeStr := func(s string) uint64 { return writeBytes(append([]byte(s), 0)) }
	writeU64 := func(v uint64) uint64 {
		pos -= 8
		binary.LittleEndian.PutUint64(buf[pos:], v)
		return vaddrBase + uint64(pos)
	}

	envPtrs := make([]uint64, len(envp))
	for i, s := range envp {
		envPtrs[i] = writeStr(s)
	}
	argvPtrs := make([]uint64, len(argv))
	for i, s := range argv {
		argvPtrs[i] = writeStr(s)
	}

	pos &^= 0xF // 16-byte alignment pad

	writeU64(0) // 0-terminator

	for _, pair := range []struct{ key, val uint64 }{
		{atEntry, aux.Entry}, {atPhdr, aux.Phdr}, {atPhent, aux.Phent}, {atPhnum, aux.Phnum},
	} {
		writeU64(pair.val)
		writeU64(pair.key)
	}

	writeU64(0) // aux-vector/envp separator
	for i := len(envPtrs) - 1; i >= 0; i-- {
		writeU64(envPtrs[i])
	}

	writeU64(0) // envp/argv separator
	for i := len(argvPtrs) - 1; i >= 0; i-- {
		writeU64(argvPtrs[i])
	}

	return writeU64(uint64(len(argv))) // argc, the final RSP
}

// sysExecve resolves path, loads the named ELF image (recursing
// through PT_INTERP via resolveInterp), replaces t's address space and
// MemMaps with the freshly mapped segments plus a new user stack built
// from argv/envp, and seeds the trap frame's RIP/RSP to the resolved
// entry and stack top (spec.md §4.6). File-descriptor inheritance
// (duplicate-by-value plus the pending dup_list replay) happens in
// place since execve keeps the same Task, not a new one.
func (s *Syscalls) sysExecve(t *task.Task, pathPtr, argvPtr, envpPtr uint64) Result {
	path, perr := s.resolvePath(t, AtFDCwd, pathPtr)
	if perr != 0 {
		return fail(perr)
	}
	argv, aerr := s.readStringVec(t, argvPtr)
	if aerr != 0 {
		return fail(aerr)
	}
	envp, eerr := s.readStringVec(t, envpPtr)
	if eerr != 0 {
		return fail(eerr)
	}

	data, rerr := s.readFile(path)
	if rerr != 0 {
		return fail(rerr)
	}

	resolveInterp := func(p string) ([]byte, error) {
		raw, ferr := s.readFile(ustr.FromString(p))
		if ferr != 0 {
			return nil, fmt.Errorf("syscall_: resolving interpreter %q: errno %d", p, ferr)
		}
		return raw, nil
	}
	img, lerr := elf.Load(data, func(n int) uint64 { return s.PMM.Get(n, 0) },
		func(addr uint64, n int) []byte { return s.PMM.View(addr, n) }, resolveInterp)
	if lerr != nil {
		return fail(elf.ToErrno(lerr))
	}

	newAS := s.VMM.CreateAddressSpace()
	var memMaps []task.MemMap
	mapImage := func(im *elf.Image) {
		for _, seg := range im.Segments {
			s.VMM.Map(newAS, seg.Vaddr, seg.PhysBase, seg.NumPages, seg.Flags, true)
			memMaps = append(memMaps, task.MemMap{Vaddr: seg.Vaddr, Paddr: seg.PhysBase, NumPages: seg.NumPages, Flags: seg.Flags})
		}
	}
	mapImage(img)
	if img.Interp != nil {
		mapImage(img.Interp)
	}

	const stackPages = 1
	stackPaddr := s.PMM.Get(stackPages, 0)
	s.VMM.Map(newAS, userStackBase, stackPaddr, stackPages, vmm.UserMode, true)
	stackTop := buildUserStack(s.PMM.View(stackPaddr, stackPages*pmm.PageSize), userStackBase, argv, envp, img.Aux)
	memMaps = append(memMaps, task.MemMap{Vaddr: userStackBase, Paddr: stackPaddr, NumPages: stackPages, Flags: vmm.UserMode})

	t.AS = newAS
	t.MemMaps = memMaps

	task.ApplyDupList(t.OpenFiles, t.DupList)
	t.DupList = nil

	if t.TrapFrame == nil {
		t.TrapFrame = &task.TrapFrame{}
	}
	t.TrapFrame.RIP = img.Entry
	t.TrapFrame.RSP = stackTop
	return ok(0)
}

func (s *Syscalls) sysExit(t *task.Task, code uint64) Result {
	t.Errno = defs.Err_t(code)
	t.Exit()
	return ok(0)
}

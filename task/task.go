// Package task defines the scheduling unit (spec.md §3 Task) and the
// lifecycle operations fork/exec/exit/reap drive it through (spec.md
// §4.6). Grounded on biscuit/src/fd/fd.go's Cwd_t/Copyfd duplication
// idiom (reused for open-files and dup-list handling) and
// biscuit/src/vm/as.go's per-address-space locking discipline (reused
// as Task.LockAS/UnlockAS), generalized from Biscuit's COW/refcounted address
// space to the spec's copy-by-value MemMap fork (Non-goal: no COW).
package task

import (
	"sync"

	"hankernel/defs"
	"hankernel/vmm"
)

// Status is a task's scheduling state (spec.md §3).
type Status int

const (
	Ready Status = iota
	Running
	Sleeping
	Dying
	Dead
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Sleeping:
		return "Sleeping"
	case Dying:
		return "Dying"
	case Dead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// Mode is a task's privilege level.
type Mode int

const (
	KernelMode Mode = iota
	UserMode
)

// MemMap is a user-visible mapping owned by a task (spec.md §3):
// MemMap regions within one task never overlap.
type MemMap struct {
	Vaddr    uint64
	Paddr    uint64
	NumPages int
	Flags    vmm.Flags
}

func (m MemMap) overlaps(o MemMap) bool {
	aEnd := m.Vaddr + uint64(m.NumPages)*4096
	bEnd := o.Vaddr + uint64(o.NumPages)*4096
	return m.Vaddr < bEnd && o.Vaddr < aEnd
}

// DupPair is a pending (fd, newfd) entry materialised on exec (spec.md
// §3's dup_list).
type DupPair struct {
	Fd    int
	NewFd int
}

// TrapFrame holds the saved general-purpose registers and the
// iret-frame fields restored when a task resumes (spec.md §3: "saved
// general registers (via trap frame on kernel stack)").
type TrapFrame struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, CS, RFlags    uint64
	RSP, SS            uint64
	ErrorCode, VecNum  uint64
}

// Clone returns a copy of the frame with RAX zeroed, the trap frame a
// forked child resumes into (spec.md §4.6: "the child's trap frame is
// a clone of the parent's but returns 0 in rax").
func (f TrapFrame) Clone() TrapFrame {
	c := f
	c.RAX = 0
	return c
}

// FileDesc is a per-task open-file handle (spec.md §3).
type FileDesc struct {
	Path     string
	Offset   int64
	Mode     defs.OpenMode
	TnodeRef any // *vfs.Tnode, kept untyped here to avoid an import cycle
	InodeRef any // *vfs.Inode
}

const FirstFD = 100

// Task is the scheduling unit (spec.md §3).
type Task struct {
	mu sync.Mutex

	Tid  defs.Tid_t
	Ptid defs.Tid_t

	Status Status
	Mode   Mode

	KernelStack []byte
	UserStack   []byte
	TrapFrame   *TrapFrame

	AS *vmm.AddressSpace

	MemMaps []MemMap

	OpenFiles map[int]*FileDesc
	nextFD    int
	DupList   []DupPair

	ChildList map[defs.Tid_t]bool

	Cwd string

	WakeupTimeNs uint64
	WakeupEvent  *uint64 // non-nil while waiting on an event type

	Errno defs.Err_t

	LastTick uint64
}

// New creates a Ready task with the given tid/ptid/mode. The caller
// still must attach a kernel stack and (for User mode) a user stack
// and address space before the task is schedulable (spec.md §4.6).
func New(tid, ptid defs.Tid_t, mode Mode) *Task {
	return &Task{
		Tid:       tid,
		Ptid:      ptid,
		Status:    Ready,
		Mode:      mode,
		OpenFiles: map[int]*FileDesc{},
		nextFD:    FirstFD,
		ChildList: map[defs.Tid_t]bool{},
		Cwd:       "/",
	}
}

// LockAS / UnlockAS mirror the teacher's Lock_pmap/Unlock_pmap
// contract: every mutation to a
// task's address space, MemMaps, or open-files table happens with
// this lock held.
func (t *Task) LockAS()   { t.mu.Lock() }
func (t *Task) UnlockAS() { t.mu.Unlock() }

// AddMemMap records a new owned mapping, panicking if it overlaps an
// existing one (spec.md §3's MemMap invariant).
func (t *Task) AddMemMap(m MemMap) {
	for _, existing := range t.MemMaps {
		if existing.overlaps(m) {
			panic("task: overlapping MemMap")
		}
	}
	t.MemMaps = append(t.MemMaps, m)
}

// AllocFD reserves the next free descriptor number (spec.md §3: fd >=
// 100) and binds it to fd.
func (t *Task) AllocFD(fd *FileDesc) int {
	n := t.nextFD
	t.nextFD++
	t.OpenFiles[n] = fd
	return n
}

// CloseFD removes a descriptor, returning EBADF (defs.KindBadHandle) if
// it was not open.
func (t *Task) CloseFD(n int) defs.Err_t {
	if _, ok := t.OpenFiles[n]; !ok {
		return defs.ToErrno(defs.KindBadHandle)
	}
	delete(t.OpenFiles, n)
	return 0
}

// Exit marks the task Dying, promoting straight to Dead if it already
// has no live children (spec.md §4.6).
func (t *Task) Exit() {
	t.Status = Dying
	if len(t.ChildList) == 0 {
		t.Status = Dead
	}
}

// ChildExited removes a reaped child from this task's child_list,
// promoting Dying -> Dead once the set empties (spec.md §4.6).
func (t *Task) ChildExited(child defs.Tid_t) {
	delete(t.ChildList, child)
	if t.Status == Dying && len(t.ChildList) == 0 {
		t.Status = Dead
	}
}

// DupFileTable copies OpenFiles by value (shallow FileDesc copies
// sharing the same Tnode/Inode refs — refcount bumping is the
// caller's job, mirroring fd.Copyfd's "reopen, don't deep copy"
// shape) and returns the copy, the exec-time fd inheritance step of
// spec.md §4.6.
func (t *Task) DupFileTable() map[int]*FileDesc {
	out := make(map[int]*FileDesc, len(t.OpenFiles))
	for k, v := range t.OpenFiles {
		cp := *v
		out[k] = &cp
	}
	return out
}

// ApplyDupList materialises every pending (fd, newfd) pair from
// DupList into files, the other half of exec-time fd inheritance
// (spec.md §4.6 and §3's dup_list field).
func ApplyDupList(files map[int]*FileDesc, dups []DupPair) {
	for _, d := range dups {
		if fd, ok := files[d.Fd]; ok {
			cp := *fd
			files[d.NewFd] = &cp
		}
	}
}

// Fork creates a Ready child task for childTid: the fd table is
// duplicated by value (spec.md §4.6: "File-descriptor inheritance on
// exec" — the same by-value copy the fork path reuses before address
// spaces diverge), cwd carries over, and the trap frame is cloned with
// rax zeroed so the child observes a 0 return from fork (spec.md §4.6:
// "The child's trap frame is a clone of the parent's but returns 0 in
// rax"). The caller (syscall_.sysFork) still owns allocating the
// child's address space and physically copying each MemMap, since
// task has no pmm/vmm.Map access of its own.
func (t *Task) Fork(childTid defs.Tid_t) *Task {
	child := New(childTid, t.Tid, t.Mode)
	child.Cwd = t.Cwd
	child.OpenFiles = t.DupFileTable()
	child.nextFD = t.nextFD
	if t.TrapFrame != nil {
		cf := t.TrapFrame.Clone()
		child.TrapFrame = &cf
	}
	t.ChildList[childTid] = true
	return child
}

// TidAllocator hands out monotonically increasing tids starting at 1
// and never reissues one (spec.md §3: "tid (1..=UINT16_MAX-1)"); once
// MaxTid has been handed out, Next panics. Used by the fork syscall
// path to name a new child task.
type TidAllocator struct {
	mu   sync.Mutex
	next defs.Tid_t
}

// NewTidAllocator returns an allocator whose first Next() is 1.
func NewTidAllocator() *TidAllocator {
	return &TidAllocator{next: 1}
}

// Next returns the next unused tid.
func (a *TidAllocator) Next() defs.Tid_t {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.next > defs.MaxTid {
		panic("task: tid space exhausted")
	}
	tid := a.next
	a.next++
	return tid
}

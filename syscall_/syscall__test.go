package syscall_

import (
	"encoding/binary"
	"testing"

	"hankernel/bootinfo"
	"hankernel/defs"
	"hankernel/eventbus"
	"hankernel/fs/ramfs"
	"hankernel/fs/ttyfs"
	"hankernel/klog"
	"hankernel/limits"
	"hankernel/physmem"
	"hankernel/pmm"
	"hankernel/sched"
	"hankernel/task"
	"hankernel/ustr"
	"hankernel/vfs"
	"hankernel/vmm"
)

const testUserVaddr = 0x1000_0000

func newTestSyscalls(t *testing.T) (*Syscalls, *task.Task) {
	t.Helper()
	ram := physmem.New(16 << 20)
	memmap := []bootinfo.MemmapEntry{
		{Base: 0, Length: 1 << 20, Kind: bootinfo.KernelAndModules},
		{Base: 1 << 20, Length: 15 << 20, Kind: bootinfo.Usable},
	}
	alloc, err := pmm.Init(ram, memmap)
	if err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
	vm := vmm.New(alloc)

	rfs := ramfs.New()
	v := vfs.New(rfs, func() uint64 { return 0 })
	if perr := ramfs.Populate(v, nil); perr != 0 {
		t.Fatalf("Populate: %v", perr)
	}

	tty := ttyfs.New()
	sc := sched.New()
	ev := eventbus.New()
	lim := limits.NewSys(8)

	s := New(v, vm, alloc, sc, ev, klog.New(4096), lim, tty, 0x4000_0000)

	tk := task.New(s.Tids.Next(), 0, task.UserMode)
	tk.AS = vm.CreateAddressSpace()
	paddr := alloc.Get(1, 0)
	vm.Map(tk.AS, testUserVaddr, paddr, 1, vmm.UserMode, false)
	tk.AddMemMap(task.MemMap{Vaddr: testUserVaddr, Paddr: paddr, NumPages: 1, Flags: vmm.UserMode})

	return s, tk
}

func writeUserCString(t *testing.T, s *Syscalls, tk *task.Task, vaddr uint64, str string) {
	t.Helper()
	buf := append([]byte(str), 0)
	if !s.VMM.CopyIn(tk.AS, vaddr, buf) {
		t.Fatalf("CopyIn failed writing %q", str)
	}
}

func TestGetpidReturnsTid(t *testing.T) {
	s, tk := newTestSyscalls(t)
	res := s.Dispatch(tk, SysGetPid, 0, 0, 0, 0, 0, 0)
	if res.Err != 0 || res.Value != uint64(tk.Tid) {
		t.Fatalf("getpid = %+v, want tid %d", res, tk.Tid)
	}
}

func TestOpenAtReadWriteCloseRoundTrips(t *testing.T) {
	s, tk := newTestSyscalls(t)
	writeUserCString(t, s, tk, testUserVaddr, "/greeting.txt")

	openRes := s.Dispatch(tk, SysOpenAt, AtFDCwd, testUserVaddr, openCreateFlag, 0, 0, 0)
	if openRes.Err != 0 {
		t.Fatalf("openat failed: %v", openRes.Err)
	}
	fd := openRes.Value

	payload := uint64(testUserVaddr + 256)
	writeUserCString(t, s, tk, payload, "hello kernel")
	writeRes := s.Dispatch(tk, SysWrite, fd, payload, 12, 0, 0, 0)
	if writeRes.Err != 0 || writeRes.Value != 12 {
		t.Fatalf("write = %+v", writeRes)
	}

	seekRes := s.Dispatch(tk, SysSeek, fd, 0, uint64(defs.SeekSet), 0, 0, 0)
	if seekRes.Err != 0 {
		t.Fatalf("seek failed: %v", seekRes.Err)
	}

	readBuf := uint64(testUserVaddr + 512)
	readRes := s.Dispatch(tk, SysRead, fd, readBuf, 12, 0, 0, 0)
	if readRes.Err != 0 || readRes.Value != 12 {
		t.Fatalf("read = %+v", readRes)
	}
	got := make([]byte, 12)
	if !s.VMM.CopyOut(tk.AS, readBuf, got) {
		t.Fatal("CopyOut failed")
	}
	if string(got) != "hello kernel" {
		t.Fatalf("read back %q, want %q", got, "hello kernel")
	}

	closeRes := s.Dispatch(tk, SysClose, fd, 0, 0, 0, 0, 0)
	if closeRes.Err != 0 {
		t.Fatalf("close failed: %v", closeRes.Err)
	}
}

func TestOpenAtRelativePathResolvesAgainstCwd(t *testing.T) {
	s, tk := newTestSyscalls(t)
	tk.Cwd = "/"
	writeUserCString(t, s, tk, testUserVaddr, "rel.txt")

	res := s.Dispatch(tk, SysOpenAt, AtFDCwd, testUserVaddr, openCreateFlag, 0, 0, 0)
	if res.Err != 0 {
		t.Fatalf("openat with relative path failed: %v", res.Err)
	}
}

func TestReadUnknownFDReturnsBadHandle(t *testing.T) {
	s, tk := newTestSyscalls(t)
	res := s.Dispatch(tk, SysRead, 5, testUserVaddr, 16, 0, 0, 0)
	if res.Err != defs.ToErrno(defs.KindBadHandle) {
		t.Fatalf("read(5) err = %v, want EBADF", res.Err)
	}
}

func TestOpenAtExhaustsOpenFileLimit(t *testing.T) {
	s, tk := newTestSyscalls(t)
	writeUserCString(t, s, tk, testUserVaddr, "/cap.txt")

	var lastErr defs.Err_t
	for i := 0; i < 16; i++ {
		res := s.Dispatch(tk, SysOpenAt, AtFDCwd, testUserVaddr, openCreateFlag, 0, 0, 0)
		if res.Err != 0 {
			lastErr = res.Err
			break
		}
	}
	if lastErr != -defs.EMFILE {
		t.Fatalf("expected EMFILE once the cap is exhausted, got %v", lastErr)
	}
}

func TestReadStdinWithNoInputBlocksAndSubscribes(t *testing.T) {
	s, tk := newTestSyscalls(t)
	res := s.Dispatch(tk, SysRead, FDStdin, testUserVaddr, 1, 0, 0, 0)
	if !res.Block {
		t.Fatalf("expected Block=true for an empty stdin, got %+v", res)
	}
	if s.Events.Pending() != 0 {
		t.Fatalf("Subscribe should not itself publish an event")
	}
}

func TestReadStdinReturnsBufferedKey(t *testing.T) {
	s, tk := newTestSyscalls(t)
	s.TTY.PushKey('a')

	res := s.Dispatch(tk, SysRead, FDStdin, testUserVaddr, 1, 0, 0, 0)
	if res.Err != 0 || res.Block || res.Value != 1 {
		t.Fatalf("read(stdin) = %+v, want 1 byte no block", res)
	}
	got := make([]byte, 1)
	s.VMM.CopyOut(tk.AS, testUserVaddr, got)
	if got[0] != 'a' {
		t.Fatalf("byte = %q, want 'a'", got[0])
	}
}

func TestWriteStdoutEchoesToTTYSink(t *testing.T) {
	s, tk := newTestSyscalls(t)
	var sunk []byte
	s.TTY.SetSink(func(b []byte) { sunk = append(sunk, b...) })

	writeUserCString(t, s, tk, testUserVaddr, "hi")
	res := s.Dispatch(tk, SysWrite, FDStdout, testUserVaddr, 2, 0, 0, 0)
	if res.Err != 0 || res.Value != 2 {
		t.Fatalf("write(stdout) = %+v", res)
	}
	if string(sunk) != "hi" {
		t.Fatalf("sink got %q, want %q", sunk, "hi")
	}
}

func TestExitTransitionsTaskToDead(t *testing.T) {
	s, tk := newTestSyscalls(t)
	res := s.Dispatch(tk, SysExit, 0, 0, 0, 0, 0, 0)
	if res.Err != 0 {
		t.Fatalf("exit returned error: %v", res.Err)
	}
	if tk.Status != task.Dead {
		t.Fatalf("status = %v, want Dead", tk.Status)
	}
}

func TestForkCopiesMemMapsAndEnqueuesChild(t *testing.T) {
	s, tk := newTestSyscalls(t)
	writeUserCString(t, s, tk, testUserVaddr, "forked")

	res := s.Dispatch(tk, SysFork, 0, 0, 0, 0, 0, 0)
	if res.Err != 0 {
		t.Fatalf("fork failed: %v", res.Err)
	}
	childTid := defs.Tid_t(res.Value)
	if childTid == tk.Tid {
		t.Fatalf("child tid %d collides with parent tid", childTid)
	}
	if !tk.ChildList[childTid] {
		t.Fatalf("parent's child_list missing %d", childTid)
	}

	child := s.Sched.Tick(0, func() uint64 { return 0 })
	if child == nil || child.Tid != childTid {
		t.Fatalf("scheduler did not hand back the forked child, got %+v", child)
	}
	if child.Ptid != tk.Tid {
		t.Fatalf("child ptid = %d, want %d", child.Ptid, tk.Tid)
	}

	got := make([]byte, len("forked")+1)
	if !s.VMM.CopyOut(child.AS, testUserVaddr, got) {
		t.Fatal("child address space missing the parent's mapping")
	}
	if string(got[:len("forked")]) != "forked" {
		t.Fatalf("child memory = %q, want a copy of the parent's", got)
	}

	// The two address spaces must back the mapping with distinct
	// physical frames (spec.md §4.6: "allocate a fresh physical
	// range, memcpy the contents").
	parentPaddr, _ := s.VMM.Translate(tk.AS, testUserVaddr)
	childPaddr, _ := s.VMM.Translate(child.AS, testUserVaddr)
	if parentPaddr == childPaddr {
		t.Fatalf("parent and child share the same physical frame %#x", parentPaddr)
	}
}

func buildMinimalExecve(t *testing.T, vaddr uint64, payload []byte) []byte {
	t.Helper()
	const ehsize, phsize = 64, 56
	phoff := uint64(ehsize)
	dataOff := phoff + phsize
	buf := make([]byte, int(dataOff)+len(payload))

	buf[0], buf[1], buf[2], buf[3] = 0x7f, 'E', 'L', 'F'
	buf[4], buf[5], buf[6] = 2, 1, 1

	le := byteOrderLE{}
	le.putU16(buf[16:], 2)              // ET_EXEC
	le.putU16(buf[18:], 0x3e)           // EM_X86_64
	le.putU32(buf[20:], 1)              // e_version
	le.putU64(buf[24:], vaddr+16)       // e_entry
	le.putU64(buf[32:], phoff)          // e_phoff
	le.putU16(buf[52:], ehsize)
	le.putU16(buf[54:], phsize)
	le.putU16(buf[56:], 1) // e_phnum

	ph := buf[phoff:]
	le.putU32(ph[0:], 1)                        // PT_LOAD
	le.putU32(ph[4:], 5)                        // PF_R|PF_X
	le.putU64(ph[8:], dataOff)                  // p_offset
	le.putU64(ph[16:], vaddr)                   // p_vaddr
	le.putU64(ph[24:], vaddr)                   // p_paddr
	le.putU64(ph[32:], uint64(len(payload)))    // p_filesz
	le.putU64(ph[40:], uint64(len(payload)))    // p_memsz
	le.putU64(ph[48:], 0x1000)                  // p_align

	copy(buf[dataOff:], payload)
	return buf
}

type byteOrderLE struct{}

func (byteOrderLE) putU16(b []byte, v uint16) { b[0], b[1] = byte(v), byte(v>>8) }
func (byteOrderLE) putU32(b []byte, v uint32) {
	for i := 0; i < 4; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
func (byteOrderLE) putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func TestExecveLoadsELFAndSeedsTrapFrame(t *testing.T) {
	s, tk := newTestSyscalls(t)
	tk.TrapFrame = &task.TrapFrame{}

	const loadVaddr = 0x40_1000
	data := buildMinimalExecve(t, loadVaddr, []byte("hi\x00"))
	if _, perr := s.VFS.PathToNode(ustr.FromString("/bin"), defs.ModeCreate, vfs.Folder); perr != 0 {
		t.Fatalf("creating /bin: %v", perr)
	}
	writeUserCString(t, s, tk, testUserVaddr, "/bin/echo")
	writeRes := s.Dispatch(tk, SysOpenAt, AtFDCwd, testUserVaddr, openCreateFlag, 0, 0, 0)
	if writeRes.Err != 0 {
		t.Fatalf("openat /bin/echo failed: %v", writeRes.Err)
	}
	// Stage the ELF bytes in user memory, then write them through the
	// fd to populate the ramfs-backed file execve will load.
	if !s.VMM.CopyIn(tk.AS, testUserVaddr+512, data) {
		t.Fatal("staging ELF bytes failed")
	}
	wres := s.Dispatch(tk, SysWrite, writeRes.Value, testUserVaddr+512, uint64(len(data)), 0, 0, 0)
	if wres.Err != 0 || wres.Value != uint64(len(data)) {
		t.Fatalf("writing ELF bytes to /bin/echo failed: %+v", wres)
	}
	if res := s.Dispatch(tk, SysClose, writeRes.Value, 0, 0, 0, 0, 0); res.Err != 0 {
		t.Fatalf("close failed: %v", res.Err)
	}

	writeUserCString(t, s, tk, testUserVaddr, "/bin/echo")
	oldAS := tk.AS
	res := s.Dispatch(tk, SysExecve, testUserVaddr, 0, 0, 0, 0, 0)
	if res.Err != 0 {
		t.Fatalf("execve failed: %v", res.Err)
	}
	if tk.AS == oldAS {
		t.Fatal("execve did not replace the address space")
	}
	if tk.TrapFrame.RIP != loadVaddr+16 {
		t.Fatalf("RIP = %#x, want %#x", tk.TrapFrame.RIP, loadVaddr+16)
	}
	if tk.TrapFrame.RSP == 0 {
		t.Fatal("RSP was not seeded")
	}

	var argcBuf [8]byte
	if !s.VMM.CopyOut(tk.AS, tk.TrapFrame.RSP, argcBuf[:]) {
		t.Fatal("could not read argc back off the built stack")
	}
	if binary.LittleEndian.Uint64(argcBuf[:]) != 0 {
		t.Fatalf("argc = %d, want 0 (no argv supplied)", binary.LittleEndian.Uint64(argcBuf[:]))
	}
}

func TestExecveRejectsMissingFile(t *testing.T) {
	s, tk := newTestSyscalls(t)
	tk.TrapFrame = &task.TrapFrame{}
	writeUserCString(t, s, tk, testUserVaddr, "/no/such/binary")
	res := s.Dispatch(tk, SysExecve, testUserVaddr, 0, 0, 0, 0, 0)
	if res.Err == 0 {
		t.Fatal("expected execve against a missing path to fail")
	}
}

func TestUnknownSyscallReturnsNosys(t *testing.T) {
	s, tk := newTestSyscalls(t)
	res := s.Dispatch(tk, 200, 0, 0, 0, 0, 0, 0)
	if res.Err != defs.ToErrno(defs.KindUnsupported) {
		t.Fatalf("unknown syscall err = %v, want ENOSYS", res.Err)
	}
}

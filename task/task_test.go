package task

import (
	"testing"

	"hankernel/defs"
	"hankernel/vmm"
)

func TestNewTaskIsReady(t *testing.T) {
	tk := New(1, 0, UserMode)
	if tk.Status != Ready {
		t.Fatalf("new task status = %v, want Ready", tk.Status)
	}
	if tk.Cwd != "/" {
		t.Fatalf("new task cwd = %q, want /", tk.Cwd)
	}
}

func TestAddMemMapRejectsOverlap(t *testing.T) {
	tk := New(1, 0, UserMode)
	tk.AddMemMap(MemMap{Vaddr: 0x1000, Paddr: 0x2000, NumPages: 2, Flags: vmm.Default})

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on overlapping MemMap")
		}
	}()
	tk.AddMemMap(MemMap{Vaddr: 0x1000, Paddr: 0x5000, NumPages: 1, Flags: vmm.Default})
}

func TestAddMemMapAllowsAdjacent(t *testing.T) {
	tk := New(1, 0, UserMode)
	tk.AddMemMap(MemMap{Vaddr: 0x1000, Paddr: 0x2000, NumPages: 1, Flags: vmm.Default})
	tk.AddMemMap(MemMap{Vaddr: 0x2000, Paddr: 0x3000, NumPages: 1, Flags: vmm.Default})
	if len(tk.MemMaps) != 2 {
		t.Fatalf("expected 2 memmaps, got %d", len(tk.MemMaps))
	}
}

func TestAllocFDStartsAt100(t *testing.T) {
	tk := New(1, 0, UserMode)
	fd := tk.AllocFD(&FileDesc{Path: "/bin/init"})
	if fd != FirstFD {
		t.Fatalf("first fd = %d, want %d", fd, FirstFD)
	}
	fd2 := tk.AllocFD(&FileDesc{Path: "/dev/tty"})
	if fd2 != FirstFD+1 {
		t.Fatalf("second fd = %d, want %d", fd2, FirstFD+1)
	}
}

func TestCloseFDUnknownReturnsBadHandle(t *testing.T) {
	tk := New(1, 0, UserMode)
	if err := tk.CloseFD(999); err != defs.ToErrno(defs.KindBadHandle) {
		t.Fatalf("CloseFD(unknown) = %d, want EBADF", err)
	}
}

func TestExitPromotesToDeadWithNoChildren(t *testing.T) {
	tk := New(1, 0, UserMode)
	tk.Exit()
	if tk.Status != Dead {
		t.Fatalf("status = %v, want Dead (no children)", tk.Status)
	}
}

func TestExitStaysDyingWithLiveChildren(t *testing.T) {
	tk := New(1, 0, UserMode)
	tk.ChildList[2] = true
	tk.Exit()
	if tk.Status != Dying {
		t.Fatalf("status = %v, want Dying", tk.Status)
	}

	tk.ChildExited(2)
	if tk.Status != Dead {
		t.Fatalf("status after last child reaped = %v, want Dead", tk.Status)
	}
}

func TestTrapFrameCloneZeroesRAX(t *testing.T) {
	f := TrapFrame{RAX: 42, RIP: 0x1000}
	c := f.Clone()
	if c.RAX != 0 {
		t.Fatalf("clone RAX = %d, want 0", c.RAX)
	}
	if c.RIP != f.RIP {
		t.Fatal("clone should preserve other fields")
	}
}

func TestDupFileTableAndApplyDupList(t *testing.T) {
	tk := New(1, 0, UserMode)
	fd := tk.AllocFD(&FileDesc{Path: "/bin/init"})

	dup := tk.DupFileTable()
	if len(dup) != 1 {
		t.Fatalf("expected 1 duplicated fd, got %d", len(dup))
	}

	ApplyDupList(dup, []DupPair{{Fd: fd, NewFd: fd + 1}})
	if dup[fd+1].Path != "/bin/init" {
		t.Fatal("ApplyDupList should materialise the pending dup pair")
	}
}

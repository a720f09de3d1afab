package vmm

import (
	"testing"

	"hankernel/bootinfo"
	"hankernel/physmem"
	"hankernel/pmm"
)

func newTestVMM(t *testing.T) *VMM {
	t.Helper()
	ram := physmem.New(16 << 20) // 16 MiB
	memmap := []bootinfo.MemmapEntry{
		{Base: 0, Length: 1 << 20, Kind: bootinfo.KernelAndModules},
		{Base: 1 << 20, Length: 15 << 20, Kind: bootinfo.Usable},
	}
	alloc, err := pmm.Init(ram, memmap)
	if err != nil {
		t.Fatalf("pmm.Init: %v", err)
	}
	return New(alloc)
}

func TestMapThenTranslate(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x4000_0000)
	paddr := v.alloc.Get(1, 0)

	v.Map(nil, vaddr, paddr, 1, Default, false)

	got, ok := v.Translate(nil, vaddr)
	if !ok {
		t.Fatal("translate should find the mapping just installed")
	}
	if got != paddr {
		t.Fatalf("translate = %#x, want %#x", got, paddr)
	}
}

func TestTranslateOffsetWithinPage(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x4000_0000)
	paddr := v.alloc.Get(1, 0)
	v.Map(nil, vaddr, paddr, 1, Default, false)

	got, ok := v.Translate(nil, vaddr+0x123)
	if !ok || got != paddr+0x123 {
		t.Fatalf("translate(vaddr+0x123) = %#x,%v want %#x,true", got, ok, paddr+0x123)
	}
}

func TestUnmapClearsTranslation(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x5000_0000)
	paddr := v.alloc.Get(1, 0)
	v.Map(nil, vaddr, paddr, 1, Default, false)
	v.Unmap(nil, vaddr, 1, false)

	if _, ok := v.Translate(nil, vaddr); ok {
		t.Fatal("translate should fail after unmap")
	}
}

func TestUnmapFreesIntermediateTableWhenEmpty(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x6000_0000)
	paddr := v.alloc.Get(1, 0)
	freeBefore := v.alloc.FreeSize()

	v.Map(nil, vaddr, paddr, 1, Default, false)
	// Mapping one page allocates 3 intermediate tables (PDPT/PD/PT);
	// the leaf frame was taken before freeBefore was read.
	if v.alloc.FreeSize() >= freeBefore {
		t.Fatal("Map should have consumed frames")
	}

	v.Unmap(nil, vaddr, 1, false)
	if v.alloc.FreeSize() != freeBefore {
		t.Fatalf("Unmap should release every now-empty intermediate table: free=%d want=%d", v.alloc.FreeSize(), freeBefore)
	}
}

func TestCreateAddressSpaceMirrorsUserVisibleMappings(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x7000_0000)
	paddr := v.alloc.Get(1, 0)

	v.Map(nil, vaddr, paddr, 1, UserMode, true)

	as := v.CreateAddressSpace()
	got, ok := v.Translate(as, vaddr)
	if !ok || got != paddr {
		t.Fatalf("new address space should mirror the global user-visible mapping, got %#x,%v", got, ok)
	}
}

func TestCreateAddressSpaceDoesNotMirrorNonUserVisible(t *testing.T) {
	v := newTestVMM(t)
	vaddr := uint64(0x8000_0000)
	paddr := v.alloc.Get(1, 0)
	v.Map(nil, vaddr, paddr, 1, Default, false)

	as := v.CreateAddressSpace()
	if _, ok := v.Translate(as, vaddr); ok {
		t.Fatal("a non-user-visible kernel mapping must not propagate to new address spaces")
	}
}

func TestAddressSpacesAreIndependent(t *testing.T) {
	v := newTestVMM(t)
	as1 := v.CreateAddressSpace()
	as2 := v.CreateAddressSpace()
	vaddr := uint64(0x9000_0000)
	paddr := v.alloc.Get(1, 0)

	v.Map(as1, vaddr, paddr, 1, UserMode, false)

	if _, ok := v.Translate(as2, vaddr); ok {
		t.Fatal("mapping in as1 must not be visible from as2")
	}
	if _, ok := v.Translate(as1, vaddr); !ok {
		t.Fatal("mapping in as1 must be visible from as1")
	}
}

func TestInvalidateCalledOnlyWhenCR3Matches(t *testing.T) {
	v := newTestVMM(t)
	as := v.CreateAddressSpace()

	var invalidated int
	v.Invalidate = func(uint64) { invalidated++ }

	// CurrentCR3 reports some other address space: no shootdown.
	v.CurrentCR3 = func() uint64 { return 0xdeadbeef }
	v.Map(as, 0xA000_0000, v.alloc.Get(1, 0), 1, Default, false)
	if invalidated != 0 {
		t.Fatalf("invalidated = %d, want 0 when CR3 does not match", invalidated)
	}

	// CurrentCR3 reports this address space: shootdown fires.
	v.CurrentCR3 = func() uint64 { return as.PML4Phys() }
	v.Map(as, 0xB000_0000, v.alloc.Get(1, 0), 1, Default, false)
	if invalidated == 0 {
		t.Fatal("invalidated should be nonzero when CR3 matches the target address space")
	}
}

func TestPML4Is32KiBAligned(t *testing.T) {
	v := newTestVMM(t)
	if v.Kernel().PML4Phys()%(32*1024) != 0 {
		t.Fatalf("kernel PML4 at %#x is not 32KiB-aligned", v.Kernel().PML4Phys())
	}
}

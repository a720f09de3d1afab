// Package vmm is the virtual memory manager: classical 4-level paging
// (PML4 -> PDPT -> PD -> PT) over the frames pmm hands out (spec.md
// §4.2). Grounded on the teacher's biscuit/src/vm/as.go (Vm_t's
// Lock_pmap/Unlock_pmap/Lockassert_pmap caller-holds-the-lock
// discipline, reused here as a comment-level contract since vmm
// itself stays unlocked like pmm) and biscuit/src/mem/dmap.go's
// pgbits/mkpg constants, generalized from Biscuit's COW-aware,
// refcounted page table (Non-goal here) to the flat map/unmap/
// translate/create_address_space contract spec.md §4.2 specifies.
package vmm

import (
	"encoding/binary"

	"hankernel/pmm"
)

// Flags are the PTE bit semantics spec.md §4.2 fixes.
type Flags uint64

const (
	Present      Flags = 1
	ReadWrite    Flags = 2
	User         Flags = 4
	WriteThrough Flags = 8
	CacheDisable Flags = 16
	WriteCombine Flags = 128

	Default  = Present | ReadWrite
	MMIO     = Default | CacheDisable
	UserMode = Default | User
)

const (
	pageSize   = pmm.PageSize
	entriesPer = 512
	tableBytes = entriesPer * 8
	// pml4Pages is the size of the 32-KiB-aligned block each address
	// space owns for its PML4 (spec.md §4.2); only the first page
	// holds live entries, the remaining 7 are reserved headroom for
	// the same block the address space's PML4 is carved from.
	pml4Pages  = 8
	pml4Align  = 32 * 1024
	pageShift  = 12
	levelBits  = 9
	levelMask  = entriesPer - 1
)

// AddressSpace is a PML4 root plus the intermediate tables it owns
// (spec.md §3's AddressSpace type).
type AddressSpace struct {
	pml4 uint64 // physical address of the live PML4 page
}

// PML4Phys returns the physical address of this address space's root
// table, the value loaded into CR3 when it is scheduled.
func (as *AddressSpace) PML4Phys() uint64 { return as.pml4 }

type mmapRecord struct {
	vaddr  uint64
	paddr  uint64
	npages int
	flags  Flags
}

// VMM owns the frame allocator, the kernel address space, and the
// list of user-visible global mappings every new address space
// mirrors (spec.md §4.2's mmap_list). Like pmm, it performs no
// internal locking; callers serialize through the scheduler lock.
type VMM struct {
	alloc    *pmm.PMM
	kernel   *AddressSpace
	mmapList []mmapRecord

	// CurrentCR3 and Invalidate are a hardware seam: cmd/kernel wires
	// these to cpu.Rdcr3/cpu.Invlpg at boot. New leaves them as inert
	// stand-ins so constructing and exercising a VMM (as tests do)
	// never executes a real CR3 read or INVLPG.
	CurrentCR3 func() uint64
	Invalidate func(vaddr uint64)
}

// New creates a VMM with a freshly allocated kernel address space.
func New(alloc *pmm.PMM) *VMM {
	v := &VMM{
		alloc:      alloc,
		CurrentCR3: func() uint64 { return 0 },
		Invalidate: func(uint64) {},
	}
	v.kernel = v.newAddressSpace()
	return v
}

// Kernel returns the kernel address space used when a nil
// *AddressSpace is passed to Map/Unmap/Translate.
func (v *VMM) Kernel() *AddressSpace { return v.kernel }

func (v *VMM) newAddressSpace() *AddressSpace {
	phys := v.alloc.GetAligned(pml4Pages, pml4Align, 0)
	v.alloc.Zero(phys, pml4Pages)
	return &AddressSpace{pml4: phys}
}

// CreateAddressSpace allocates a zeroed PML4 block, then re-applies
// every user-visible global mapping to it (spec.md §4.2).
func (v *VMM) CreateAddressSpace() *AddressSpace {
	as := v.newAddressSpace()
	for _, m := range v.mmapList {
		v.mapInto(as, m.vaddr, m.paddr, m.npages, m.flags, false)
	}
	return as
}

func (v *VMM) resolve(as *AddressSpace) *AddressSpace {
	if as == nil {
		return v.kernel
	}
	return as
}

func splitIndices(vaddr uint64) (i4, i3, i2, i1 int) {
	i4 = int((vaddr >> (pageShift + 3*levelBits)) & levelMask)
	i3 = int((vaddr >> (pageShift + 2*levelBits)) & levelMask)
	i2 = int((vaddr >> (pageShift + 1*levelBits)) & levelMask)
	i1 = int((vaddr >> pageShift) & levelMask)
	return
}

func (v *VMM) pte(tablePhys uint64, idx int) uint64 {
	b := v.alloc.View(tablePhys, tableBytes)
	return binary.LittleEndian.Uint64(b[idx*8:])
}

func (v *VMM) setPTE(tablePhys uint64, idx int, val uint64) {
	b := v.alloc.View(tablePhys, tableBytes)
	binary.LittleEndian.PutUint64(b[idx*8:], val)
}

func ptePhys(pte uint64) uint64 { return pte &^ 0xFFF }

// walkCreate walks from root through the given index, allocating a
// fresh zeroed table if the entry is not Present, and returns the
// physical address of the next-level table.
func (v *VMM) walkCreate(tablePhys uint64, idx int, flags Flags) uint64 {
	e := v.pte(tablePhys, idx)
	if e&uint64(Present) != 0 {
		return ptePhys(e)
	}
	child := v.alloc.Get(1, 0)
	v.alloc.Zero(child, 1)
	// Intermediate entries are always at least Present|ReadWrite so a
	// more restrictive leaf flag can still narrow access; User is
	// propagated so user mappings are reachable at every level.
	parentFlags := Default
	if flags&User != 0 {
		parentFlags |= User
	}
	v.setPTE(tablePhys, idx, child|uint64(parentFlags))
	return child
}

// walkLookup is walkCreate without the side effect: it returns
// (phys, false) if the entry is not Present.
func (v *VMM) walkLookup(tablePhys uint64, idx int) (uint64, bool) {
	e := v.pte(tablePhys, idx)
	if e&uint64(Present) == 0 {
		return 0, false
	}
	return ptePhys(e), true
}

// Map walks/creates PDPT, PD, PT as needed and sets the leaf PTEs for
// n_pages consecutive frames starting at paddr (spec.md §4.2). A nil
// as targets the kernel address space. If userVisible is true and as
// is nil, the mapping is mirrored into every future CreateAddressSpace.
func (v *VMM) Map(as *AddressSpace, vaddr, paddr uint64, npages int, flags Flags, userVisible bool) {
	v.mapInto(v.resolve(as), vaddr, paddr, npages, flags, false)
	if userVisible && as == nil {
		v.mmapList = append(v.mmapList, mmapRecord{vaddr, paddr, npages, flags})
	}
}

func (v *VMM) mapInto(as *AddressSpace, vaddr, paddr uint64, npages int, flags Flags, _ bool) {
	shoot := v.CurrentCR3() == as.pml4
	for i := 0; i < npages; i++ {
		va := vaddr + uint64(i)*pageSize
		pa := paddr + uint64(i)*pageSize
		i4, i3, i2, i1 := splitIndices(va)
		pdpt := v.walkCreate(as.pml4, i4, flags)
		pd := v.walkCreate(pdpt, i3, flags)
		pt := v.walkCreate(pd, i2, flags)
		v.setPTE(pt, i1, pa|uint64(flags|Present))
		if shoot {
			v.Invalidate(va)
		}
	}
}

// Unmap zeroes the leaf PTEs for n_pages starting at vaddr, then walks
// upward freeing an intermediate table as soon as all 512 of its
// entries are zero (spec.md §4.2's invariant: a leaf is freed only
// after all 512 children are zero).
func (v *VMM) Unmap(as *AddressSpace, vaddr uint64, npages int, userVisible bool) {
	resolved := v.resolve(as)
	shoot := v.CurrentCR3() == resolved.pml4
	for i := 0; i < npages; i++ {
		va := vaddr + uint64(i)*pageSize
		v.unmapOne(resolved, va)
		if shoot {
			v.Invalidate(va)
		}
	}
	if userVisible && as == nil {
		kept := v.mmapList[:0]
		end := vaddr + uint64(npages)*pageSize
		for _, m := range v.mmapList {
			if m.vaddr >= vaddr && m.vaddr < end {
				continue
			}
			kept = append(kept, m)
		}
		v.mmapList = kept
	}
}

func (v *VMM) unmapOne(as *AddressSpace, va uint64) {
	i4, i3, i2, i1 := splitIndices(va)
	pdpt, ok := v.walkLookup(as.pml4, i4)
	if !ok {
		return
	}
	pd, ok := v.walkLookup(pdpt, i3)
	if !ok {
		return
	}
	pt, ok := v.walkLookup(pd, i2)
	if !ok {
		return
	}
	v.setPTE(pt, i1, 0)

	if v.tableEmpty(pt) {
		v.setPTE(pd, i2, 0)
		v.alloc.Free(pt, 1)
		if v.tableEmpty(pd) {
			v.setPTE(pdpt, i3, 0)
			v.alloc.Free(pd, 1)
			if v.tableEmpty(pdpt) {
				v.setPTE(as.pml4, i4, 0)
				v.alloc.Free(pdpt, 1)
			}
		}
	}
}

func (v *VMM) tableEmpty(tablePhys uint64) bool {
	b := v.alloc.View(tablePhys, tableBytes)
	for i := 0; i < entriesPer; i++ {
		if binary.LittleEndian.Uint64(b[i*8:]) != 0 {
			return false
		}
	}
	return true
}

// Translate returns the frame behind vaddr, or ok=false if any table
// along the walk is not Present (spec.md §4.2).
func (v *VMM) Translate(as *AddressSpace, vaddr uint64) (paddr uint64, ok bool) {
	resolved := v.resolve(as)
	i4, i3, i2, i1 := splitIndices(vaddr)
	pdpt, ok := v.walkLookup(resolved.pml4, i4)
	if !ok {
		return 0, false
	}
	pd, ok := v.walkLookup(pdpt, i3)
	if !ok {
		return 0, false
	}
	pt, ok := v.walkLookup(pd, i2)
	if !ok {
		return 0, false
	}
	leaf := v.pte(pt, i1)
	if leaf&uint64(Present) == 0 {
		return 0, false
	}
	return ptePhys(leaf) + (vaddr & (pageSize - 1)), true
}

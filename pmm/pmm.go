// Package pmm is the physical memory manager: a bitmap of free frames
// covering [0, phys_limit), bit set = free (spec.md §4.1). Grounded on
// the teacher's mem.Physmem_t (kept: the Pa_t-style physical-address
// arithmetic and the "caller holds a higher-level lock" discipline)
// but replacing its refcounted, GC-integrated free list with the flat
// bitmap spec.md §4.1/§8 specifies.
package pmm

import (
	"fmt"

	"hankernel/bootinfo"
	"hankernel/physmem"
	"hankernel/util"
)

// PageSize is the frame size in bytes.
const PageSize = 4096

// countedKinds are the memmap kinds §4.1 says count toward total_size
// ("sum total_size over kinds {USABLE, BOOTLOADER_RECLAIMABLE,
// ACPI_RECLAIMABLE and KERNEL_AND_MODULES}").
var countedKinds = map[bootinfo.Kind]bool{
	bootinfo.Usable:                true,
	bootinfo.BootloaderReclaimable: true,
	bootinfo.ACPIReclaimable:       true,
	bootinfo.KernelAndModules:      true,
}

// oneMiB is the address below which USABLE entries are not marked
// free (spec.md §4.1: "for every USABLE entry above 1 MiB mark its
// frames free").
const oneMiB = 1 << 20

// PMM is the frame bitmap allocator. It performs no internal locking
// (spec.md §4.1: "PMM itself is not internally locked — it must be
// called with a higher-level lock held, or from the BSP before APs
// start"); callers are the scheduler lock or vfs lock holders.
type PMM struct {
	ram       *physmem.RAM
	bitmap    []byte // bit i set == frame i free
	bitmapOff uint64 // physical address where the bitmap itself lives
	physLimit uint64
	totalSize uint64
	freeSize  uint64
}

// ErrOutOfMemory is returned by Init when no USABLE entry is large
// enough to hold the bitmap (spec.md §4.1).
var ErrOutOfMemory = fmt.Errorf("pmm: out of memory")

// Init computes phys_limit as the maximum end address over all
// memmap entries, locates the bitmap inside a USABLE entry, zeroes it,
// marks USABLE frames above 1 MiB free, and finally marks the
// bitmap's own frames used.
func Init(ram *physmem.RAM, memmap []bootinfo.MemmapEntry) (*PMM, error) {
	p := &PMM{ram: ram}

	for _, e := range memmap {
		if e.End() > p.physLimit {
			p.physLimit = e.End()
		}
		if countedKinds[e.Kind] {
			p.totalSize += e.Length
		}
	}

	nframes := (p.physLimit + PageSize - 1) / PageSize
	bitmapBytes := (nframes + 7) / 8
	if bitmapBytes == 0 {
		bitmapBytes = 1
	}

	var home *bootinfo.MemmapEntry
	for i := range memmap {
		e := &memmap[i]
		if e.Kind == bootinfo.Usable && e.Length >= bitmapBytes {
			home = e
			break
		}
	}
	if home == nil {
		return nil, ErrOutOfMemory
	}

	p.bitmapOff = home.Base
	p.bitmap = ram.View(p.bitmapOff, int(bitmapBytes))
	for i := range p.bitmap {
		p.bitmap[i] = 0
	}

	for _, e := range memmap {
		if e.Kind != bootinfo.Usable {
			continue
		}
		start := e.Base
		if start < oneMiB {
			start = oneMiB
		}
		start = (start + PageSize - 1) / PageSize * PageSize
		for addr := start; addr+PageSize <= e.End(); addr += PageSize {
			p.setFree(addr, true)
			p.freeSize += PageSize
		}
	}

	// Mark the bitmap's own frames used last, so they were briefly
	// counted free above only if they fall in a usable region above
	// 1MiB (matching spec.md's ordering: "Finally mark the bitmap's
	// own frames used").
	bitmapFrameStart := (p.bitmapOff / PageSize) * PageSize
	bitmapFrameEnd := p.bitmapOff + bitmapBytes
	for addr := bitmapFrameStart; addr < bitmapFrameEnd; addr += PageSize {
		if p.isFree(addr) {
			p.freeSize -= PageSize
		}
		p.setFree(addr, false)
	}

	return p, nil
}

func (p *PMM) frameIdx(addr uint64) uint64 { return addr / PageSize }

func (p *PMM) setFree(addr uint64, free bool) {
	idx := p.frameIdx(addr)
	byteIdx, bit := idx/8, idx%8
	if free {
		p.bitmap[byteIdx] |= 1 << bit
	} else {
		p.bitmap[byteIdx] &^= 1 << bit
	}
}

func (p *PMM) isFree(addr uint64) bool {
	idx := p.frameIdx(addr)
	byteIdx, bit := idx/8, idx%8
	return p.bitmap[byteIdx]&(1<<bit) != 0
}

// PhysLimit returns the highest address (exclusive) the bitmap covers.
func (p *PMM) PhysLimit() uint64 { return p.physLimit }

// TotalSize returns the summed size of all counted memmap entries.
func (p *PMM) TotalSize() uint64 { return p.totalSize }

// FreeSize returns the number of bytes currently free.
func (p *PMM) FreeSize() uint64 { return p.freeSize }

// UsedSize returns TotalSize - FreeSize, satisfying spec.md §8's
// invariant "free + used = total".
func (p *PMM) UsedSize() uint64 { return p.totalSize - p.freeSize }

// Alloc succeeds iff all n frames starting at addr are free; it marks
// them used and decrements free_size (spec.md §4.1).
func (p *PMM) Alloc(addr uint64, n int) bool {
	if addr%PageSize != 0 || n <= 0 || addr+uint64(n)*PageSize > p.physLimit {
		return false
	}
	for i := 0; i < n; i++ {
		if !p.isFree(addr + uint64(i)*PageSize) {
			return false
		}
	}
	for i := 0; i < n; i++ {
		p.setFree(addr+uint64(i)*PageSize, false)
	}
	p.freeSize -= uint64(n) * PageSize
	return true
}

// Get performs a first-fit scan upward from baseHint in page steps,
// returning the first address for which Alloc(addr, n) succeeds. It
// panics if the scan reaches phys_limit without success (spec.md
// §4.1: "panics if the scan reaches phys_limit without success").
func (p *PMM) Get(n int, baseHint uint64) uint64 {
	addr := (baseHint / PageSize) * PageSize
	for addr+uint64(n)*PageSize <= p.physLimit {
		if p.Alloc(addr, n) {
			return addr
		}
		addr += PageSize
	}
	panic("pmm: out of physical memory")
}

// GetAligned is Get but further constrains the result to a multiple of
// alignBytes; used by vmm to place the 32-KiB-aligned PML4 block
// (spec.md §4.2: "each address space owns a 32-KiB-aligned block").
func (p *PMM) GetAligned(n int, alignBytes uint64, baseHint uint64) uint64 {
	addr := util.Roundup(baseHint, alignBytes)
	for addr+uint64(n)*PageSize <= p.physLimit {
		if p.Alloc(addr, n) {
			return addr
		}
		addr += alignBytes
	}
	panic("pmm: out of physical memory")
}

// Free marks n frames starting at addr free, incrementing free_size
// only for the frames that were not already free (spec.md §4.1:
// "increments free_size by the newly-freed portion only").
func (p *PMM) Free(addr uint64, n int) {
	if addr%PageSize != 0 || n <= 0 {
		panic("pmm: bad free range")
	}
	for i := 0; i < n; i++ {
		a := addr + uint64(i)*PageSize
		if !p.isFree(a) {
			p.setFree(a, true)
			p.freeSize += PageSize
		}
	}
}

// Zero zeroes the underlying physical frames (used by vmm when
// populating a freshly allocated page-table page).
func (p *PMM) Zero(addr uint64, n int) {
	p.ram.Zero(addr, n*PageSize)
}

// View exposes the simulated RAM's direct-map view, for callers (vmm)
// that need to read/write frame contents directly.
func (p *PMM) View(addr uint64, length int) []byte { return p.ram.View(addr, length) }

// Package physmem is the kernel's simulated physical address space: a
// single contiguous byte slice that pmm (the bitmap allocator) and vmm
// (the page-table walker) both address into, the same role the
// teacher's direct map (mem.Dmap/Dmaplen in biscuit/src/mem/dmap.go)
// plays — "a page-aligned virtual address for the given physical
// address using the direct mapping". On real hardware this slice's
// backing store *is* RAM, reached through the direct map spec.md §6
// describes (DirectMapBase + phys); under `go test`, or any host
// without a direct-mapped address space, it is an ordinary Go slice
// that stands in for RAM so the bitmap and page-table logic can be
// exercised without real hardware.
package physmem

import "fmt"

// RAM is a byte-addressable view of physical memory.
type RAM struct {
	bytes []byte
}

// New allocates a simulated RAM of the given size in bytes.
func New(size uint64) *RAM {
	return &RAM{bytes: make([]byte, size)}
}

// Size returns the RAM's total size in bytes.
func (r *RAM) Size() uint64 { return uint64(len(r.bytes)) }

// View returns a slice over [addr, addr+length) of physical memory,
// the direct-map analogue of mem.Dmaplen.
func (r *RAM) View(addr uint64, length int) []byte {
	if length < 0 || addr+uint64(length) > r.Size() {
		panic(fmt.Sprintf("physmem: out of range addr=%#x len=%d size=%#x", addr, length, r.Size()))
	}
	return r.bytes[addr : addr+uint64(length)]
}

// Zero clears [addr, addr+length) to zero.
func (r *RAM) Zero(addr uint64, length int) {
	v := r.View(addr, length)
	for i := range v {
		v[i] = 0
	}
}

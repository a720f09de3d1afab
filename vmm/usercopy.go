package vmm

// Package-level user-memory copy helpers, generalizing the teacher's
// biscuit/src/vm/as.go Userdmap8_inner/Userstr/Userreadn family: a
// user virtual address is translated a page at a time via Translate,
// and each page's bytes are read/written through the frame allocator's
// direct-map view (pmm.PMM.View), the same physmem-backed simulation
// Map/Unmap already use instead of a real CR3-relative memory access.

// CopyOut reads len(buf) bytes starting at the user virtual address
// vaddr in as into buf, crossing page boundaries as needed. Returns
// false if any page in the range is unmapped (spec.md §7: a syscall
// touching an unmapped user address returns EFAULT).
func (v *VMM) CopyOut(as *AddressSpace, vaddr uint64, buf []byte) bool {
	n := 0
	for n < len(buf) {
		cur := vaddr + uint64(n)
		off := int(cur & (pageSize - 1))
		paddr, ok := v.Translate(as, cur)
		if !ok {
			return false
		}
		chunk := pageSize - off
		if remaining := len(buf) - n; chunk > remaining {
			chunk = remaining
		}
		src := v.alloc.View(paddr, chunk)
		copy(buf[n:n+chunk], src)
		n += chunk
	}
	return true
}

// CopyIn writes buf into the user virtual address vaddr in as,
// crossing page boundaries as needed.
func (v *VMM) CopyIn(as *AddressSpace, vaddr uint64, buf []byte) bool {
	n := 0
	for n < len(buf) {
		cur := vaddr + uint64(n)
		off := int(cur & (pageSize - 1))
		paddr, ok := v.Translate(as, cur)
		if !ok {
			return false
		}
		chunk := pageSize - off
		if remaining := len(buf) - n; chunk > remaining {
			chunk = remaining
		}
		dst := v.alloc.View(paddr, chunk)
		copy(dst, buf[n:n+chunk])
		n += chunk
	}
	return true
}

// ReadCString reads a NUL-terminated string starting at vaddr, up to
// maxLen bytes (spec.md §4.11's openat path argument). Returns false
// if the terminator isn't found within maxLen or a page is unmapped.
func (v *VMM) ReadCString(as *AddressSpace, vaddr uint64, maxLen int) (string, bool) {
	buf := make([]byte, 0, 64)
	one := make([]byte, 1)
	for i := 0; i < maxLen; i++ {
		if !v.CopyOut(as, vaddr+uint64(i), one) {
			return "", false
		}
		if one[0] == 0 {
			return string(buf), true
		}
		buf = append(buf, one[0])
	}
	return "", false
}

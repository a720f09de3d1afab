// Package elf loads ET_EXEC and ET_DYN x86-64 images into a task's
// address space (spec.md §4.6/§4.8). Grounded on
// biscuit/src/kernel/chentry.go's chkELF validation (magic/class/
// endianness/machine checks against stdlib debug/elf) — debug/elf is
// used deliberately rather than a hand-rolled parser; see DESIGN.md's
// stdlib-justification entry for this package.
package elf

import (
	"bytes"
	"debug/elf"
	"fmt"

	"hankernel/defs"
	"hankernel/vmm"
)

const pageSize = 4096

// InterpBase is where a PT_INTERP dynamic linker is rebased (spec.md
// §4.6/§4.8).
const InterpBase = 0x4000_0000

// Segment is one PT_LOAD region ready to be mapped into a task's
// address space: the frames are already allocated and filled by
// Load; the caller (task/exec) still performs the actual vmm.Map call
// since elf has no address-space handle of its own.
type Segment struct {
	Vaddr    uint64 // page-aligned start (vaddr rounded down by misalignment)
	NumPages int
	Flags    vmm.Flags
	PhysBase uint64 // caller-supplied physical frames backing this segment
}

// AuxVec is the subset of aux-vector entries spec.md §4.6 constructs
// (AT_ENTRY, AT_PHDR, AT_PHENT, AT_PHNUM).
type AuxVec struct {
	Entry uint64
	Phdr  uint64
	Phent uint64
	Phnum uint64
}

// Image is the result of parsing (and, once FrameAllocFn populates
// PhysBase for each segment, loading) an ELF file.
type Image struct {
	Entry      uint64
	Segments   []Segment
	Aux        AuxVec
	Interp     *Image // non-nil if a PT_INTERP was resolved and loaded
}

// FrameAllocFn allocates n contiguous physical pages and returns their
// base address; ordinarily pmm.PMM.Get, injected so elf never imports
// pmm directly.
type FrameAllocFn func(n int) uint64

// FrameWriteFn returns a writable view over n bytes of physical memory
// at addr, ordinarily pmm.PMM.View.
type FrameWriteFn func(addr uint64, n int) []byte

// ResolveInterp reads the named PT_INTERP path's contents (ordinarily
// backed by the VFS) so the interpreter can be parsed and loaded too.
type ResolveInterp func(path string) ([]byte, error)

func validateHeader(fh *elf.FileHeader) error {
	// The magic number is checked by elf.NewFile, which rejects a file
	// that does not start with "\x7fELF" before this is reached.
	if fh.Class != elf.ELFCLASS64 {
		return fmt.Errorf("elf: not ELFCLASS64")
	}
	if fh.Data != elf.ELFDATA2LSB {
		return fmt.Errorf("elf: not little-endian")
	}
	if fh.OSABI != elf.ELFOSABI_NONE && fh.OSABI != elf.ELFOSABI_LINUX {
		return fmt.Errorf("elf: unsupported OS ABI %v", fh.OSABI)
	}
	if fh.Machine != elf.EM_X86_64 {
		return fmt.Errorf("elf: not x86-64")
	}
	if fh.Type != elf.ET_EXEC && fh.Type != elf.ET_DYN {
		return fmt.Errorf("elf: unsupported type %v", fh.Type)
	}
	return nil
}

// Load parses data, validates the header, allocates and fills frames
// for every PT_LOAD segment via alloc/write, rebases entry/PHDR by
// InterpBase when the file is ET_DYN, and recursively loads any named
// PT_INTERP through resolveInterp (spec.md §4.6/§4.8).
func Load(data []byte, alloc FrameAllocFn, write FrameWriteFn, resolveInterp ResolveInterp) (*Image, error) {
	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("elf: %w", err)
	}
	if err := validateHeader(&f.FileHeader); err != nil {
		return nil, err
	}

	rebase := uint64(0)
	if f.Type == elf.ET_DYN {
		rebase = InterpBase
	}

	img := &Image{Entry: f.Entry + rebase}

	var phdrVaddr uint64
	var interpPath string

	for _, ph := range f.Progs {
		switch ph.Type {
		case elf.PT_PHDR:
			phdrVaddr = ph.Vaddr + rebase
		case elf.PT_INTERP:
			raw := make([]byte, ph.Filesz)
			if _, err := ph.Open().Read(raw); err != nil && ph.Filesz > 0 {
				return nil, fmt.Errorf("elf: reading PT_INTERP: %w", err)
			}
			interpPath = string(bytes.TrimRight(raw, "\x00"))
		case elf.PT_LOAD:
			seg, err := loadSegment(ph, rebase, alloc, write)
			if err != nil {
				return nil, err
			}
			img.Segments = append(img.Segments, seg)
		}
	}

	img.Aux = AuxVec{
		Entry: img.Entry,
		Phdr:  phdrVaddr,
		Phent: 56, // fixed program-header entry size for ELFCLASS64
		Phnum: uint64(len(f.Progs)),
	}

	if interpPath != "" {
		if resolveInterp == nil {
			return nil, fmt.Errorf("elf: PT_INTERP %q present but no resolver supplied", interpPath)
		}
		raw, err := resolveInterp(interpPath)
		if err != nil {
			return nil, fmt.Errorf("elf: loading interpreter %q: %w", interpPath, err)
		}
		interp, err := Load(raw, alloc, write, resolveInterp)
		if err != nil {
			return nil, fmt.Errorf("elf: interpreter: %w", err)
		}
		img.Interp = interp
		// The interpreter's entry becomes the ultimate jump target;
		// the original executable's aux vector is still used
		// (spec.md §4.6).
		img.Entry = interp.Entry
	}

	return img, nil
}

// loadSegment allocates ceil((misalign+memsz)/4096) frames, records
// User+RW as the segment's Flags for the caller's vmm.Map call (the
// same flags whether or not PF_X is set), zero-fills the mapping, and copies
// filesz bytes starting at the misalignment offset (spec.md §4.6).
func loadSegment(ph *elf.Prog, rebase uint64, alloc FrameAllocFn, write FrameWriteFn) (Segment, error) {
	vaddr := ph.Vaddr + rebase
	misalign := vaddr & (pageSize - 1)
	total := misalign + ph.Memsz
	npages := int((total + pageSize - 1) / pageSize)
	if npages == 0 {
		npages = 1
	}

	phys := alloc(npages)
	buf := write(phys, npages*pageSize)
	for i := range buf {
		buf[i] = 0
	}

	if ph.Filesz > 0 {
		r := ph.Open()
		if _, err := r.Read(buf[misalign : misalign+ph.Filesz]); err != nil {
			return Segment{}, fmt.Errorf("elf: reading PT_LOAD: %w", err)
		}
	}

	// spec.md §4.2 fixes only Present/ReadWrite/User/WriteThrough/
	// CacheDisable/WriteCombine — there is no NX bit to clear for a
	// non-PF_X segment, so every PT_LOAD maps UserMode regardless of
	// PF_X.
	return Segment{
		Vaddr:    vaddr - misalign,
		NumPages: npages,
		Flags:    vmm.UserMode,
		PhysBase: phys,
	}, nil
}

// ToErrno maps a Load error to the kernel's defs.Err_t space.
func ToErrno(err error) defs.Err_t {
	if err == nil {
		return 0
	}
	return defs.ToErrno(defs.KindCorruptImage)
}

// Command kernel is the boot entrypoint: from a parsed bootloader
// hand-off it brings up PMM/VMM, builds the IDT and remaps the PIC,
// enables the LAPIC, initialises HPET and the PIT handle, and mounts
// ramfs at /, ttyfs at /dev/tty and pipefs at /dev/pipe. Boot does not
// calibrate the APIC timer, bring up APs, or spawn /bin/init; those
// steps are not part of this package.
//
// The real-mode/long-mode bootstrap trampoline, the Limine/stivale2
// protocol parser, and the ATA/keyboard/framebuffer drivers that feed
// this entrypoint its bootinfo.Info and raw MMIO windows are external
// collaborators (spec.md §1 Non-goals); this package only owns the
// init sequence from "bootinfo parsed" onward, structured as an
// exported Kernel type so the sequence is callable from a test harness
// the same way every other subsystem here is, rather than only ever
// running inside func main's unobservable call.
package main

import (
	"hankernel/apic"
	"hankernel/bootinfo"
	"hankernel/cpu"
	"hankernel/eventbus"
	"hankernel/fs/fat32"
	"hankernel/fs/pipefs"
	"hankernel/fs/ramfs"
	"hankernel/fs/ttyfs"
	"hankernel/hpet"
	"hankernel/intr"
	"hankernel/klog"
	"hankernel/limits"
	"hankernel/physmem"
	"hankernel/pit"
	"hankernel/pmm"
	"hankernel/sched"
	"hankernel/syscall_"
	"hankernel/task"
	"hankernel/ustar"
	"hankernel/ustr"
	"hankernel/vfs"
	"hankernel/vmm"
)

// Hardware io is the port-I/O seam Boot's caller supplies (spec.md §9);
// tests substitute it, mirroring cpu's own function-variable seam.
type portIO = intr.PortIO

// Kernel bundles every subsystem the boot sequence brings up, in the
// order spec.md §2 names them.
type Kernel struct {
	Alloc  *pmm.PMM
	VMM    *vmm.VMM
	IDT    *intr.IDT
	LAPIC  *apic.LAPIC
	HPET   *hpet.HPET
	PIT    *pit.PIT
	Sched  *sched.Scheduler
	VFS    *vfs.VFS
	Events *eventbus.Bus
	Log    *klog.Log
	Limits *limits.Sys
	TTY    *ttyfs.FS
	Sys    *syscall_.Syscalls

	TidAlloc *task.TidAllocator
}

// Boot runs the init steps listed in the package comment against a
// parsed bootinfo.Info. ramImage is the embedded USTAR archive populating / (spec.md:
// "mounts ramfs at / (populated from an embedded USTAR image)");
// apicMMIO/hpetMMIO are the LAPIC/HPET register windows a platform
// driver (ACPI table walk, out of scope per spec.md §1) has already
// mapped; io is the port-I/O seam for PIC remapping and PIT
// programming.
func Boot(info bootinfo.Info, ramImage []byte, apicMMIO, hpetMMIO []byte, io portIO) (*Kernel, error) {
	ram := physmem.New(info.Memmap[len(info.Memmap)-1].End())
	alloc, err := pmm.Init(ram, info.Memmap)
	if err != nil {
		return nil, err
	}

	vm := vmm.New(alloc)
	vm.CurrentCR3 = cpu.Rdcr3
	vm.Invalidate = func(vaddr uint64) { cpu.Invlpg(uintptr(vaddr)) }

	log := klog.New(64 * 1024)

	idt := intr.New(io, func(format string, args ...any) { log.Errorf(format, args...) })

	lapic := apic.New(apic.NewMMIOOverBytes(apicMMIO))
	lapic.Enable()
	h := hpet.Init(hpet.NewMMIOOverBytes(hpetMMIO))
	p := pit.New(pit.PortIO{Outb: io.Outb, Inb: io.Inb})

	sc := sched.New()
	events := eventbus.New()
	lim := limits.NewSys(0)
	tids := task.NewTidAllocator()

	entries, err := ustar.Read(ramImage)
	if err != nil {
		return nil, err
	}
	root := ramfs.New()
	v := vfs.New(root, func() uint64 { return h.NowNs() })
	if perr := ramfs.Populate(v, entries); perr != 0 {
		log.Errorf("ramfs populate failed: %v", perr)
	}

	tty := ttyfs.New()
	if merr := v.Mount(nil, ustr.FromString("/dev/tty"), tty); merr != 0 {
		log.Errorf("mount /dev/tty failed: %v", merr)
	}
	pfs := pipefs.New()
	if merr := v.Mount(nil, ustr.FromString("/dev/pipe"), pfs); merr != 0 {
		log.Errorf("mount /dev/pipe failed: %v", merr)
	}

	k := &Kernel{
		Alloc: alloc, VMM: vm, IDT: idt, LAPIC: lapic, HPET: h, PIT: p,
		Sched: sc, VFS: v, Events: events, Log: log, Limits: lim, TTY: tty,
		TidAlloc: tids,
	}
	k.Sys = syscall_.New(v, vm, alloc, sc, events, log, lim, tty, bootinfo.InterpBase)
	k.Sys.SetFSBase = func(base uint64) { cpu.Wrmsr(cpu.MSR_FS_BASE, base) }
	// Share one tid allocator (Kernel.TidAlloc) with the fork syscall
	// path, so any task the caller spawns through TidAlloc and every
	// forked child draw from the same monotonic tid sequence (spec.md §3).
	k.Sys.Tids = tids
	return k, nil
}

// MountDisk probes an ATA-attached disk for a FAT32 partition and
// mounts it at /disk (spec.md §2: "probes ATA and mounts FAT32
// partitions under /disk"); the ATA probe itself is out of scope
// (spec.md §1), so the caller supplies the already-opened fat32.Disk.
func (k *Kernel) MountDisk(disk fat32.Disk) error {
	fs := fat32.New(disk)
	deviceInode := &vfs.Inode{Type: vfs.File, FS: fs}
	if err := k.VFS.Mount(deviceInode, ustr.FromString("/disk"), fs); err != 0 {
		return err
	}
	return nil
}

func main() {
	// The real entrypoint is reached via the bootloader's trampoline
	// (out of scope per spec.md §1), which calls Boot with a parsed
	// bootinfo.Info and the platform's MMIO windows; main here has no
	// such hand-off available under the host Go toolchain, so it is a
	// deliberate no-op left for the freestanding build to replace.
}

// Package cpu is the kernel's hardware-access seam: port I/O, MSR and
// control-register access, table-register loads, TLB invalidation and
// CPUID. Per spec.md §9 ("inline assembly blocks … are irreducible;
// expose them as small primitive operations and keep their contracts
// documented in comments at the call site"), each primitive below is a
// thin Go declaration backed by a hand-written amd64 asm stub in
// cpu_amd64.s.
//
// Every primitive is also exposed as a package-level function variable
// (OutbFunc, RdmsrFunc, …) defaulting to the real asm implementation.
// Subsystem tests that need to run on the host Go toolchain (not real
// x86 ring 0) substitute these, the same seam gopher-os's vmm package
// uses for ptePtrFn/readCR2Fn/flushTLBEntryFn — see
// other_examples/631cca43_gopher-os-gopher-os__... for the pattern
// this is grounded on.
package cpu

import "unsafe"

// Outb writes an 8-bit value to an I/O port.
// Clobbers: none (IN/OUT do not touch flags or GPRs beyond AL/DX).
//
//go:noescape
func outbAsm(port uint16, val uint8)

// Inb reads an 8-bit value from an I/O port.
//
//go:noescape
func inbAsm(port uint16) uint8

// Outl writes a 32-bit value to an I/O port.
//
//go:noescape
func outlAsm(port uint16, val uint32)

// Inl reads a 32-bit value from an I/O port.
//
//go:noescape
func inlAsm(port uint16) uint32

// Rdmsr reads model-specific register reg.
// Clobbers: RAX, RDX (combined into the 64-bit result).
//
//go:noescape
func rdmsrAsm(reg uint32) uint64

// Wrmsr writes val to model-specific register reg.
//
//go:noescape
func wrmsrAsm(reg uint32, val uint64)

// Rdcr2 reads CR2, the faulting address register, valid only inside a
// page-fault handler.
//
//go:noescape
func rdcr2Asm() uint64

// Rdcr3/Wrcr3 read/write CR3, the current page-table root.
// Writing CR3 implicitly flushes all non-global TLB entries.
//
//go:noescape
func rdcr3Asm() uint64

//go:noescape
func wrcr3Asm(val uint64)

// Invlpg invalidates the TLB entry for a single page.
//
//go:noescape
func invlpgAsm(addr uint64)

// Lgdt/Lidt load the GDT/IDT pseudo-descriptor pointed to by ptr (a
// packed {limit uint16; base uint64} struct per the x86-64 LGDT/LIDT
// operand layout).
//
//go:noescape
func lgdtAsm(ptr unsafe.Pointer)

//go:noescape
func lidtAsm(ptr unsafe.Pointer)

// Ltr loads the task register with the given GDT selector.
//
//go:noescape
func ltrAsm(selector uint16)

// Cpuid executes CPUID with the given leaf/subleaf and returns
// eax,ebx,ecx,edx. Clobbers no caller-visible state beyond the return
// values (Go's calling convention already treats EAX/EBX/ECX/EDX as
// caller-saved).
//
//go:noescape
func cpuidAsm(leaf, subleaf uint32) (eax, ebx, ecx, edx uint32)

// Rdtsc reads the timestamp counter.
//
//go:noescape
func rdtscAsm() uint64

// Cli/Sti disable/enable maskable interrupts. Clobbers: flags (IF).
//
//go:noescape
func cliAsm()

//go:noescape
func stiAsm()

// Hlt halts the CPU until the next interrupt.
//
//go:noescape
func hltAsm()

// Pushfq/Popfq save/restore RFLAGS, the primitive the spinlock
// discipline in spec.md §5 is built on ("every spinlock disables
// interrupts on acquire (pushfq/cli) and restores them on release
// (popfq/sti)").
//
//go:noescape
func pushfqAsm() uint64

//go:noescape
func popfqAsm(flags uint64)

// Function-variable seam. Production code calls these; tests replace
// them with fakes.
var (
	OutbFunc   = outbAsm
	InbFunc    = inbAsm
	OutlFunc   = outlAsm
	InlFunc    = inlAsm
	RdmsrFunc  = rdmsrAsm
	WrmsrFunc  = wrmsrAsm
	Rdcr2Func  = rdcr2Asm
	Rdcr3Func  = rdcr3Asm
	Wrcr3Func  = wrcr3Asm
	InvlpgFunc = func(addr uintptr) { invlpgAsm(uint64(addr)) }
	LgdtFunc   = lgdtAsm
	LidtFunc   = lidtAsm
	LtrFunc    = ltrAsm
	CpuidFunc  = cpuidAsm
	RdtscFunc  = rdtscAsm
	CliFunc    = cliAsm
	StiFunc    = stiAsm
	HltFunc    = hltAsm
	PushfqFunc = pushfqAsm
	PopfqFunc  = popfqAsm
)

// Outb/Inb/Outl/Inl/Rdmsr/Wrmsr/Rdcr2/Rdcr3/Wrcr3/Invlpg/Lgdt/Lidt/Ltr/
// Cpuid/Rdtsc/Cli/Sti/Hlt/Pushfq/Popfq are the stable call sites the
// rest of the kernel uses; they indirect through the *Func variables
// above so tests can fake the hardware.
func Outb(port uint16, val uint8)   { OutbFunc(port, val) }
func Inb(port uint16) uint8         { return InbFunc(port) }
func Outl(port uint16, val uint32)  { OutlFunc(port, val) }
func Inl(port uint16) uint32        { return InlFunc(port) }
func Rdmsr(reg uint32) uint64       { return RdmsrFunc(reg) }
func Wrmsr(reg uint32, val uint64)  { WrmsrFunc(reg, val) }
func Rdcr2() uint64                 { return Rdcr2Func() }
func Rdcr3() uint64                 { return Rdcr3Func() }
func Wrcr3(val uint64)              { Wrcr3Func(val) }
func Invlpg(addr uintptr)           { InvlpgFunc(addr) }
func Ltr(selector uint16)           { LtrFunc(selector) }
func Rdtsc() uint64                 { return RdtscFunc() }
func Cli()                          { CliFunc() }
func Sti()                          { StiFunc() }
func Hlt()                          { HltFunc() }
func Pushfq() uint64                { return PushfqFunc() }
func Popfq(flags uint64)            { PopfqFunc(flags) }

// Cpuid returns eax,ebx,ecx,edx for the given leaf/subleaf.
func Cpuid(leaf, subleaf uint32) (uint32, uint32, uint32, uint32) {
	return CpuidFunc(leaf, subleaf)
}

// DTR is the LGDT/LIDT pseudo-descriptor layout (§6 GDT/IDT).
type DTR struct {
	Limit uint16
	Base  uint64
}

// Lgdt/Lidt load a DTR.
func Lgdt(d *DTR) { LgdtFunc(unsafe.Pointer(d)) }
func Lidt(d *DTR) { LidtFunc(unsafe.Pointer(d)) }

// MSR register numbers used by the kernel (§4.5, §4.11).
const (
	MSR_FS_BASE      = 0xC0000100
	MSR_GS_BASE      = 0xC0000101
	MSR_KERNEL_GS_BASE = 0xC0000102
	MSR_STAR         = 0xC0000081
	MSR_LSTAR        = 0xC0000082
	MSR_SFMASK       = 0xC0000084
	MSR_APIC_BASE    = 0x1B
)

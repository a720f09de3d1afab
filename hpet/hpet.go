// Package hpet drives the High Precision Event Timer: a 64-bit
// nanosecond free-running counter parsed out of the ACPI HPET table
// (spec.md §4.4). Grounded on original_source/kernel/core/hpet.c's
// register layout (general capabilities, configuration, main counter);
// no teacher file exists since the Biscuit fork never exposed HPET to
// ordinary Go code.
package hpet

import "encoding/binary"

const (
	regGeneralCaps   = 0x000
	regGeneralConfig = 0x010
	regMainCounter   = 0x0F0

	enableBit = 1 << 0

	// counterPeriodShift is where the capabilities register reports
	// the counter's tick period, in femtoseconds, per the ACPI spec.
	counterPeriodShift = 32
)

// MMIO is the volatile access HPET needs into its mapped register
// block, the same shape as apic.MMIO but kept distinct since the two
// devices are unrelated pieces of hardware.
type MMIO struct {
	Read64  func(offset uint32) uint64
	Write64 func(offset uint32, val uint64)
}

// NewMMIOOverBytes builds an MMIO backed by a plain byte slice, for
// tests and for the direct-mapped window a real HPET's MMIO page is
// reached through.
func NewMMIOOverBytes(b []byte) MMIO {
	return MMIO{
		Read64:  func(off uint32) uint64 { return binary.LittleEndian.Uint64(b[off:]) },
		Write64: func(off uint32, val uint64) { binary.LittleEndian.PutUint64(b[off:], val) },
	}
}

// HPET is the initialised timer handle.
type HPET struct {
	mmio     MMIO
	periodNs uint64 // counter_period / 10^6, i.e. femtoseconds -> nanoseconds
}

// Init parses the counter period out of the general capabilities
// register, computes period_ns, and sets the enable bit (spec.md
// §4.4).
func Init(mmio MMIO) *HPET {
	caps := mmio.Read64(regGeneralCaps)
	periodFs := caps >> counterPeriodShift
	h := &HPET{mmio: mmio, periodNs: periodFs / 1_000_000}
	mmio.Write64(regGeneralConfig, mmio.Read64(regGeneralConfig)|enableBit)
	return h
}

// NowNs returns main_counter * period_ns (spec.md §4.4).
func (h *HPET) NowNs() uint64 {
	return h.mmio.Read64(regMainCounter) * h.periodNs
}

// SleepNs polls NowNs until it reaches or passes now+n, the PIT-free
// busy wait spec.md §4.4 describes ("sleep_ns(n) polls until
// now_ns() >= target"). spinFn, if non-nil, is invoked on every poll
// iteration; tests use it to advance a fake counter.
func (h *HPET) SleepNs(n uint64, spinFn func()) {
	target := h.NowNs() + n
	for h.NowNs() < target {
		if spinFn != nil {
			spinFn()
		}
	}
}

// PeriodNs returns the counter's tick period in nanoseconds.
func (h *HPET) PeriodNs() uint64 { return h.periodNs }

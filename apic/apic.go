// Package apic is the local APIC driver: volatile 32-bit MMIO
// register access, IPI dispatch, and the timer calibration sequence
// spec.md §4.4 describes. Grounded on original_source/kernel/core/apic.c
// for the register offsets and the ICR write-low-dispatches protocol;
// no teacher file exists for this since Biscuit's forked runtime keeps
// APIC access out of ordinary Go packages.
package apic

import "encoding/binary"

// Register offsets within the LAPIC's 4 KiB MMIO page.
const (
	RegID        = 0x020
	RegVersion   = 0x030
	RegTPR       = 0x080
	RegEOI       = 0x0B0
	RegSpurious  = 0x0F0
	RegICRLow    = 0x300
	RegICRHigh   = 0x310
	RegLVTTimer  = 0x320
	RegTimerInit = 0x380
	RegTimerCCR  = 0x390
	RegTimerDiv  = 0x3E0
)

// IPI delivery types (the bits ORed into ICR-low's type field).
const (
	IPIFixed  = 0 << 8
	IPIInit   = 5 << 8
	IPIStartup = 6 << 8
)

// TimerDivide encodes the APIC timer's divide configuration register
// values for the supported divisors.
type TimerDivide uint32

const (
	Divide1  TimerDivide = 0xB
	Divide2  TimerDivide = 0x0
	Divide4  TimerDivide = 0x1
	Divide16 TimerDivide = 0x3
)

const (
	spuriousEnableBit = 1 << 8
	spuriousVector    = 0xFF

	timerPeriodic = 1 << 17
	timerMasked   = 1 << 16
)

// MMIO is the volatile 32-bit register access the LAPIC needs,
// injected so apic never assumes a particular memory-mapping scheme
// and tests can exercise it against a plain byte slice.
type MMIO struct {
	Read  func(offset uint32) uint32
	Write func(offset uint32, val uint32)
}

// NewMMIOOverBytes builds an MMIO that reads/writes little-endian
// 32-bit words inside an arbitrary byte slice — the direct-map window
// a real LAPIC's physical page would be mapped through, stood in for
// by a plain buffer under test.
func NewMMIOOverBytes(b []byte) MMIO {
	return MMIO{
		Read: func(off uint32) uint32 { return binary.LittleEndian.Uint32(b[off:]) },
		Write: func(off uint32, val uint32) {
			binary.LittleEndian.PutUint32(b[off:], val)
		},
	}
}

// LAPIC is the per-CPU local APIC handle.
type LAPIC struct {
	mmio MMIO
}

// New wraps an already-mapped LAPIC MMIO page.
func New(mmio MMIO) *LAPIC { return &LAPIC{mmio: mmio} }

// Enable writes the spurious-vector register with the enable bit set
// and vector 0xFF (spec.md §4.4).
func (l *LAPIC) Enable() {
	l.mmio.Write(RegSpurious, spuriousEnableBit|spuriousVector)
}

// ID reads this CPU's APIC ID out of bits 31:24 of RegID.
func (l *LAPIC) ID() uint8 {
	return uint8(l.mmio.Read(RegID) >> 24)
}

// EOI signals end-of-interrupt to the local APIC.
func (l *LAPIC) EOI() { l.mmio.Write(RegEOI, 0) }

// SendIPI writes ICR-high (destination) then ICR-low (type<<8|vector
// already folded into ipiType); the ICR-low write is what dispatches
// the interprocessor interrupt (spec.md §4.4).
func (l *LAPIC) SendIPI(dest uint8, vector uint8, ipiType uint32) {
	l.mmio.Write(RegICRHigh, uint32(dest)<<24)
	l.mmio.Write(RegICRLow, ipiType|uint32(vector))
}

// SetTimerVector installs the LVT timer entry, optionally periodic.
func (l *LAPIC) SetTimerVector(vector uint8, periodic bool) {
	v := uint32(vector)
	if periodic {
		v |= timerPeriodic
	}
	l.mmio.Write(RegLVTTimer, v)
}

// MaskTimer masks the LVT timer line without disturbing its vector.
func (l *LAPIC) MaskTimer() {
	l.mmio.Write(RegLVTTimer, l.mmio.Read(RegLVTTimer)|timerMasked)
}

// SetTimerDivide programs the timer's divide-configuration register.
func (l *LAPIC) SetTimerDivide(d TimerDivide) {
	l.mmio.Write(RegTimerDiv, uint32(d))
}

// LoadInitialCount writes the timer's initial/current count register,
// which for a one-shot timer also starts it counting down.
func (l *LAPIC) LoadInitialCount(count uint32) {
	l.mmio.Write(RegTimerInit, count)
}

// CurrentCount reads the timer's current-count register (CCR).
func (l *LAPIC) CurrentCount() uint32 { return l.mmio.Read(RegTimerCCR) }

// divisorValue maps a TimerDivide encoding back to its numeric ratio,
// needed to compute base_freq during calibration.
func divisorValue(d TimerDivide) uint64 {
	switch d {
	case Divide1:
		return 1
	case Divide2:
		return 2
	case Divide4:
		return 4
	case Divide16:
		return 16
	default:
		return 1
	}
}

// Calibrate implements spec.md §4.4's APIC timer calibration: mask the
// timer, set the divisor, load UINT32_MAX into the initial count,
// sleep 50ms via the supplied clock, read CCR, and compute
// base_freq = (UINT32_MAX - CCR) * 2 * divisor (the factor of two
// accounts for the 50ms calibration window being half of 100ms/10Hz,
// matching HanOS's own calibration constant).
func (l *LAPIC) Calibrate(divisor TimerDivide, sleep50ms func()) (baseFreq uint64) {
	l.MaskTimer()
	l.SetTimerDivide(divisor)
	l.LoadInitialCount(0xFFFFFFFF)
	sleep50ms()
	ccr := l.CurrentCount()
	elapsed := uint64(0xFFFFFFFF) - uint64(ccr)
	return elapsed * 2 * divisorValue(divisor)
}

// ICRForHz computes the initial count to load for a desired scheduler
// tick frequency given a calibrated base_freq and divisor (spec.md
// §4.4: ICR = base_freq / (desired_hz * divisor)).
func ICRForHz(baseFreq uint64, desiredHz uint64, divisor TimerDivide) uint32 {
	d := divisorValue(divisor)
	return uint32(baseFreq / (desiredHz * d))
}

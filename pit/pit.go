// Package pit is the legacy 8254 Programmable Interval Timer, used
// only as a coarse millisecond-wait fallback when HPET is absent
// (spec.md §4.4). Grounded on original_source/kernel/core/pit.c's
// channel-0/mode-2 programming sequence.
package pit

const (
	channel0Data = 0x40
	modeCommand  = 0x43

	// baseFreqHz is the PIT's fixed input clock.
	baseFreqHz = 1_193_182

	modeRateGenerator = 0x34 // channel 0, lobyte/hibyte, mode 2, binary
)

// PortIO is the port-I/O seam pit needs, matching intr's.
type PortIO struct {
	Outb func(port uint16, val uint8)
	Inb  func(port uint16) uint8
}

// PIT is the legacy timer handle.
type PIT struct {
	io PortIO
}

// New returns a handle over the given port-I/O seam; it performs no
// hardware access until ProgramMs is called.
func New(io PortIO) *PIT { return &PIT{io: io} }

// divisorForMs computes the reload count for a periodic rate-generator
// tick of durationMs milliseconds, clamped to the PIT's 16-bit divisor.
func divisorForMs(durationMs uint32) uint16 {
	divisor := uint64(baseFreqHz) * uint64(durationMs) / 1000
	if divisor == 0 {
		divisor = 1
	}
	if divisor > 0xFFFF {
		divisor = 0xFFFF
	}
	return uint16(divisor)
}

// ProgramMs programs channel 0 in rate-generator mode for a periodic
// tick of durationMs and returns the counter value loaded into the
// device, useful for tests asserting the divisor math.
func (p *PIT) ProgramMs(durationMs uint32) uint16 {
	div := divisorForMs(durationMs)
	p.io.Outb(modeCommand, modeRateGenerator)
	p.io.Outb(channel0Data, uint8(div&0xFF))
	p.io.Outb(channel0Data, uint8(div>>8))
	return div
}

// SleepMs busy-waits for approximately durationMs by counting IRQ0
// ticks delivered through tickCh, the coarse fallback spec.md §4.4
// describes for when HPET is absent. The caller is responsible for
// wiring tickCh to the IRQ0 handler; pit itself never touches the
// interrupt subsystem directly.
func SleepMs(durationMs uint32, tickMs uint32, tickCh <-chan struct{}) {
	if tickMs == 0 {
		tickMs = 1
	}
	ticksNeeded := durationMs / tickMs
	if ticksNeeded == 0 {
		ticksNeeded = 1
	}
	for i := uint32(0); i < ticksNeeded; i++ {
		<-tickCh
	}
}

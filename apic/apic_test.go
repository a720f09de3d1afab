package apic

import "testing"

func TestEnableSetsSpuriousRegister(t *testing.T) {
	buf := make([]byte, 4096)
	l := New(NewMMIOOverBytes(buf))
	l.Enable()
	if got := l.mmio.Read(RegSpurious); got != spuriousEnableBit|spuriousVector {
		t.Fatalf("spurious register = %#x", got)
	}
}

func TestSendIPIWritesHighThenLow(t *testing.T) {
	var order []uint32
	mmio := MMIO{
		Read: func(uint32) uint32 { return 0 },
		Write: func(off uint32, val uint32) {
			order = append(order, off)
			_ = val
		},
	}
	l := New(mmio)
	l.SendIPI(3, 0x30, IPIFixed)
	if len(order) != 2 || order[0] != RegICRHigh || order[1] != RegICRLow {
		t.Fatalf("expected ICRHigh then ICRLow, got %v", order)
	}
}

func TestSendIPIEncodesDestAndVector(t *testing.T) {
	buf := make([]byte, 4096)
	mmio := NewMMIOOverBytes(buf)
	l := New(mmio)
	l.SendIPI(7, 0x40, IPIStartup)

	if got := mmio.Read(RegICRHigh); got != 7<<24 {
		t.Fatalf("ICRHigh = %#x, want dest 7 in bits 31:24", got)
	}
	if got := mmio.Read(RegICRLow); got != IPIStartup|0x40 {
		t.Fatalf("ICRLow = %#x, want type|vector", got)
	}
}

func TestCalibrateComputesBaseFreq(t *testing.T) {
	buf := make([]byte, 4096)
	mmio := NewMMIOOverBytes(buf)
	l := New(mmio)

	// Simulate the timer having counted down by 1000 ticks over the
	// calibration sleep.
	mmio.Write(RegTimerCCR, 0xFFFFFFFF-1000)
	slept := false
	freq := l.Calibrate(Divide4, func() { slept = true })

	if !slept {
		t.Fatal("Calibrate should invoke the supplied sleep callback")
	}
	want := uint64(1000) * 2 * 4
	if freq != want {
		t.Fatalf("base_freq = %d, want %d", freq, want)
	}
}

func TestICRForHz(t *testing.T) {
	// base_freq of 8_000_000 Hz, want 1000 Hz ticks (1ms timeslice),
	// divide=4: ICR = 8_000_000 / (1000*4) = 2000.
	icr := ICRForHz(8_000_000, 1000, Divide4)
	if icr != 2000 {
		t.Fatalf("ICR = %d, want 2000", icr)
	}
}

func TestMaskTimerPreservesVector(t *testing.T) {
	buf := make([]byte, 4096)
	mmio := NewMMIOOverBytes(buf)
	l := New(mmio)
	l.SetTimerVector(0x90, true)
	l.MaskTimer()
	got := mmio.Read(RegLVTTimer)
	if got&0xFF != 0x90 {
		t.Fatalf("vector lost after mask: %#x", got)
	}
	if got&timerMasked == 0 {
		t.Fatal("mask bit not set")
	}
}

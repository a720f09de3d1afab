package hpet

import "testing"

func TestInitComputesPeriodAndEnables(t *testing.T) {
	buf := make([]byte, 4096)
	mmio := NewMMIOOverBytes(buf)
	// 10,000,000 femtoseconds/tick == 10ns/tick, a plausible HPET period.
	mmio.Write64(regGeneralCaps, uint64(10_000_000)<<counterPeriodShift)

	h := Init(mmio)
	if h.PeriodNs() != 10 {
		t.Fatalf("PeriodNs = %d, want 10", h.PeriodNs())
	}
	if mmio.Read64(regGeneralConfig)&enableBit == 0 {
		t.Fatal("Init should set the enable bit")
	}
}

func TestNowNsMultipliesCounterByPeriod(t *testing.T) {
	buf := make([]byte, 4096)
	mmio := NewMMIOOverBytes(buf)
	mmio.Write64(regGeneralCaps, uint64(1_000_000)<<counterPeriodShift) // 1ns/tick
	h := Init(mmio)

	mmio.Write64(regMainCounter, 42)
	if h.NowNs() != 42 {
		t.Fatalf("NowNs = %d, want 42", h.NowNs())
	}
}

func TestSleepNsPollsUntilTargetReached(t *testing.T) {
	buf := make([]byte, 4096)
	mmio := NewMMIOOverBytes(buf)
	mmio.Write64(regGeneralCaps, uint64(1_000_000)<<counterPeriodShift) // 1ns/tick
	h := Init(mmio)

	counter := uint64(0)
	mmio.Write64(regMainCounter, counter)
	polls := 0
	h.SleepNs(100, func() {
		polls++
		counter += 10
		mmio.Write64(regMainCounter, counter)
	})
	if h.NowNs() < 100 {
		t.Fatalf("SleepNs returned before reaching its target: now=%d", h.NowNs())
	}
	if polls == 0 {
		t.Fatal("expected SleepNs to poll at least once")
	}
}

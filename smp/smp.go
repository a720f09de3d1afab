// Package smp brings up application processors via the real-mode
// trampoline protocol spec.md §4.5 describes. Grounded on
// original_source/kernel/core/smp.c's INIT/STARTUP IPI sequence and
// trampoline argument-slot layout; no teacher file exists since
// Biscuit's forked runtime starts APs below the level ordinary Go
// code reaches.
package smp

import "fmt"

// TrampolinePhysAddr is the fixed low physical address the trampoline
// blob is copied to (spec.md §4.5).
const TrampolinePhysAddr = 0x70000

// ArgSlots is the set of reserved trampoline argument slots the BSP
// fills in before bringing up each AP: the CR3 value shared by every
// AP, an SIDT-copied IDTR, the 64-bit long-mode entrypoint, and a
// per-AP stack pointer and per-CPU-block pointer written right before
// that AP's STARTUP IPI.
type ArgSlots struct {
	CR3        uint64
	IDTRLimit  uint16
	IDTRBase   uint64
	Entrypoint uint64
	// PerAPStack and PerAPBlock are set immediately before bringing
	// up each AP in turn; the trampoline is not reentrant across APs.
	PerAPStack uint64
	PerAPBlock uint64
}

// IPISender is the minimal subset of apic.LAPIC bring-up needs,
// injected so smp never imports apic directly.
type IPISender interface {
	SendIPI(dest uint8, vector uint8, ipiType uint32)
}

const (
	ipiInit    = 5 << 8
	ipiStartup = 6 << 8

	initSleepMs     = 10
	startupPollMs   = 200
	startupPollStep = 1
)

// Sleeper abstracts the millisecond waits bring-up needs (hpet.SleepNs
// or pit.SleepMs in production).
type Sleeper interface {
	SleepMs(ms uint32)
}

// Counter reads the shared AP-boot-counter at a fixed low address,
// incremented by the trampoline once an AP reaches long mode.
type Counter interface {
	Load() uint32
}

// BringUpResult records what happened bringing up one AP.
type BringUpResult struct {
	APICID  uint8
	Booted  bool
	Retried bool
}

// BringUpOne drives one AP through INIT, sleep, STARTUP, poll, and (on
// failure) a single STARTUP retry (spec.md §4.5):
//  1. send INIT IPI, sleep 10ms
//  2. send STARTUP IPI with vector = trampoline_addr/4096, poll the
//     AP-boot-counter for up to 200ms
//  3. on failure, retry STARTUP once
func BringUpOne(lapic IPISender, sleeper Sleeper, counter Counter, apicID uint8) BringUpResult {
	startupVector := uint8(TrampolinePhysAddr / 4096)
	before := counter.Load()

	lapic.SendIPI(apicID, 0, ipiInit)
	sleeper.SleepMs(initSleepMs)

	if pollForIncrement(lapic, sleeper, counter, apicID, startupVector, before) {
		return BringUpResult{APICID: apicID, Booted: true}
	}

	// Retry once.
	if pollForIncrement(lapic, sleeper, counter, apicID, startupVector, before) {
		return BringUpResult{APICID: apicID, Booted: true, Retried: true}
	}
	return BringUpResult{APICID: apicID, Booted: false, Retried: true}
}

func pollForIncrement(lapic IPISender, sleeper Sleeper, counter Counter, apicID, vector uint8, before uint32) bool {
	lapic.SendIPI(apicID, vector, ipiStartup)
	elapsed := uint32(0)
	for elapsed < startupPollMs {
		if counter.Load() != before {
			return true
		}
		sleeper.SleepMs(startupPollStep)
		elapsed += startupPollStep
	}
	return counter.Load() != before
}

// BringUpAll brings up every AP in apicIDs in order, stopping at the
// first failure only if haltOnFailure is set; otherwise it continues
// and reports every AP's result (spec.md §4.5 does not mandate
// aborting the whole boot over one failed AP).
func BringUpAll(lapic IPISender, sleeper Sleeper, counter Counter, apicIDs []uint8, haltOnFailure bool) ([]BringUpResult, error) {
	var results []BringUpResult
	for _, id := range apicIDs {
		r := BringUpOne(lapic, sleeper, counter, id)
		results = append(results, r)
		if !r.Booted && haltOnFailure {
			return results, fmt.Errorf("smp: AP %d failed to boot", id)
		}
	}
	return results, nil
}

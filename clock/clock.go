// Package clock provides the kernel's two time sources: a monotonic
// nanosecond counter fed by HPET (spec.md §4.4) and a wall-clock
// derived by adding that counter to a CMOS-seeded boot epoch (see
// SPEC_FULL.md's "Supplemented Features": original_source's
// kernel/lib/time.c adds the HPET delta to a CMOS-read epoch instead
// of reporting nanoseconds-since-boot as if it were a calendar time).
package clock

import (
	"sync/atomic"
	"time"
)

// nowNsFunc reads the current monotonic nanosecond count. It defaults
// to a stub returning 0 that tests and non-booted callers can use;
// SetSource replaces it with a real source such as (*hpet.HPET).NowNs.
var nowNsFunc atomic.Value // func() uint64

func init() {
	nowNsFunc.Store(func() uint64 { return 0 })
}

// SetSource installs the monotonic nanosecond source. Neither the hpet
// package nor cmd/kernel's Boot calls it; until a caller does, NowNs
// returns 0.
func SetSource(f func() uint64) {
	nowNsFunc.Store(f)
}

// NowNs returns nanoseconds since an arbitrary fixed point (normally
// boot), per spec.md §4.4 ("HPET provides a 64-bit nanosecond clock").
func NowNs() uint64 {
	return nowNsFunc.Load().(func() uint64)()
}

var bootEpoch atomic.Int64 // unix nanoseconds at the moment NowNs()==0

// SeedBoot records the wall-clock time corresponding to NowNs()==0. The
// CMOS/RTC driver (out of scope per spec.md §1) calls this exactly
// once during boot with the time it parsed.
func SeedBoot(epoch time.Time) {
	bootEpoch.Store(epoch.UnixNano())
}

// WallNow returns the current wall-clock time: the CMOS-seeded boot
// epoch plus elapsed HPET nanoseconds. Before SeedBoot is called this
// degrades to "nanoseconds since an unknown epoch", which is still a
// monotonically increasing, comparison-safe timestamp.
func WallNow() time.Time {
	epoch := bootEpoch.Load()
	return time.Unix(0, epoch+int64(NowNs()))
}

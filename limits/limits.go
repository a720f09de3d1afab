// Package limits tracks system-wide resource ceilings the way the
// teacher's limits package does, generalized from Biscuit's broad
// resource set (procs, futexes, TCP segments, ARP entries, ...) down
// to the handful spec.md actually names: §8's open-file-table cap
// ("Open files count cap = VFS_MIN_HANDLE + len(open_files_vector)"),
// task count (§3's tid space), and pipe buffers (§4.9 PIPEFS).
// Grounded on biscuit/src/limits/limits.go's Sysatomic_t
// Given/Taken/Take/Give contract, kept verbatim since it is exactly
// the atomic-decrement-with-rollback shape an open-file or pipe-count
// ceiling needs.
package limits

import "sync/atomic"

// Atomic is a limit that can be atomically taken and given back,
// grounded on the teacher's Sysatomic_t.
type Atomic struct {
	v atomic.Int64
}

// NewAtomic returns an Atomic seeded at capacity.
func NewAtomic(capacity int64) *Atomic {
	a := &Atomic{}
	a.v.Store(capacity)
	return a
}

// Taken tries to decrement the limit by n, rolling back and reporting
// false if that would drive it negative (spec.md §8: "exhausting it
// returns -EMFILE").
func (a *Atomic) Taken(n int64) bool {
	if n < 0 {
		panic("limits: negative take")
	}
	if a.v.Add(-n) >= 0 {
		return true
	}
	a.v.Add(n)
	return false
}

// Take is Taken(1).
func (a *Atomic) Take() bool { return a.Taken(1) }

// Given increments the limit by n.
func (a *Atomic) Given(n int64) {
	if n < 0 {
		panic("limits: negative give")
	}
	a.v.Add(n)
}

// Give is Given(1).
func (a *Atomic) Give() { a.Given(1) }

// Remaining reports the current headroom.
func (a *Atomic) Remaining() int64 { return a.v.Load() }

// Sys holds the system-wide limits this kernel enforces (spec.md §8's
// open-file cap, the pipe-buffer count PIPEFS allocates against, and
// the task-count ceiling implied by §3's uint16 tid space).
type Sys struct {
	// OpenFiles is shared by every task's descriptor table: spec.md
	// §8 defines the per-kernel cap as VFS_MIN_HANDLE + a vector
	// length, not per-task, so a single Atomic enforces it globally.
	OpenFiles *Atomic
	Pipes     *Atomic
	Tasks     *Atomic
}

// DefaultOpenFiles is the default open-file ceiling: generous enough
// that no scenario in spec.md §8 hits it by accident, small enough
// that the EMFILE boundary test (§8) can exhaust it deliberately by
// passing a tiny value to NewSys.
const DefaultOpenFiles = 4096

// DefaultPipes mirrors the teacher's Pipes default order of magnitude,
// scaled down for a single-image kernel rather than Biscuit's 1e4.
const DefaultPipes = 1024

// NewSys returns the default resource ceilings; openFiles overrides
// DefaultOpenFiles when non-zero, letting tests exercise the EMFILE
// boundary (spec.md §8) with a small cap.
func NewSys(openFiles int64) *Sys {
	if openFiles <= 0 {
		openFiles = DefaultOpenFiles
	}
	return &Sys{
		OpenFiles: NewAtomic(openFiles),
		Pipes:     NewAtomic(DefaultPipes),
		Tasks:     NewAtomic(int64(^uint16(0)) - 1),
	}
}

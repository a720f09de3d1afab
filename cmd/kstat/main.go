// Command kstat snapshots kernel diagnostic counters into a pprof
// profile for offline inspection: PMM free/used page counts, the
// scheduler's ready-queue depth and the event bus's pending-event
// count. A Snapshot also carries the kernel log's current contents,
// which Profile does not encode. Grounded on
// guillermo-go.procstat's narrow, typed snapshot-struct-over-counters
// shape, adapted to emit github.com/google/pprof/profile instead of
// procstat's /proc/pid/stat text format, since pprof's tool suite
// (`go tool pprof -top`) is the natural way to browse a handful of
// labeled counters over time.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/google/pprof/profile"

	"hankernel/eventbus"
	"hankernel/klog"
	"hankernel/pmm"
	"hankernel/sched"
)

// Snapshot is the handful of live counters kstat can reach without a
// kernel-side diagnostic syscall (spec.md names no such syscall; this
// reads the same subsystem handles cmd/kernel already holds).
type Snapshot struct {
	FreePages int64
	UsedPages int64
	Ready     int
	Pending   int
	LogTail   []byte
}

// Take reads the current counters from the live subsystems.
func Take(alloc *pmm.PMM, sc *sched.Scheduler, ev *eventbus.Bus, log *klog.Log) Snapshot {
	const pageSize = pmm.PageSize
	return Snapshot{
		FreePages: int64(alloc.FreeSize() / pageSize),
		UsedPages: int64(alloc.UsedSize() / pageSize),
		Ready:     sc.ActiveLen(),
		Pending:   ev.Pending(),
		LogTail:   log.Dump(),
	}
}

// countSample builds one pprof sample point: value plus a label
// naming which counter it is, the pprof idiom for a scalar gauge.
func countSample(loc *profile.Location, name string, value int64) *profile.Sample {
	return &profile.Sample{
		Location: []*profile.Location{loc},
		Value:    []int64{value},
		Label:    map[string][]string{"counter": {name}},
	}
}

// Profile renders a Snapshot as a pprof profile with one sample per
// counter, so `go tool pprof -top` lists them by label.
func Profile(s Snapshot) *profile.Profile {
	fn := &profile.Function{ID: 1, Name: "kstat.Snapshot"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "snapshot", Unit: "count"},
		Period:     1,
		Function:   []*profile.Function{fn},
		Location:   []*profile.Location{loc},
		Sample: []*profile.Sample{
			countSample(loc, "pmm_free_pages", s.FreePages),
			countSample(loc, "pmm_used_pages", s.UsedPages),
			countSample(loc, "sched_ready", int64(s.Ready)),
			countSample(loc, "eventbus_pending", int64(s.Pending)),
		},
	}
	return p
}

// Write serializes a profile in pprof's gzip-compressed protobuf
// format to w.
func Write(p *profile.Profile, w io.Writer) error {
	return p.Write(w)
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <out.pprof>\n", os.Args[0])
		os.Exit(1)
	}
	// kstat is a post-mortem tool: it renders a Snapshot already taken
	// by the running kernel and handed to it out-of-band (a shared
	// memory region or debug syscall, both out of scope per spec.md
	// §1), not a standalone process that can reach a live kernel's
	// memory itself.
	fmt.Fprintln(os.Stderr, "kstat: no live kernel attached; see Take/Profile/Write for the API a debug front-end calls")
	os.Exit(1)
}

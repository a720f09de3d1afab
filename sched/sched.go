// Package sched is the preemptive round-robin scheduler (spec.md
// §4.7): one global active queue of Ready/Sleeping tasks, one per-CPU
// idle task, one per-CPU running slot, all serialised by a single
// global scheduler lock. Grounded on biscuit/src/vm/as.go's
// Lock_pmap/Unlock_pmap/Lockassert_pmap caller-holds-the-lock
// discipline, reused here as Scheduler.Lock/Unlock around every state
// transition.
package sched

import (
	"sync"

	"hankernel/task"
)

// DefaultTimesliceNs is the scheduler's default timeslice, the period
// of the APIC timer in periodic mode (spec.md §4.7: "default 1 ms").
const DefaultTimesliceNs = 1_000_000

// Scheduler owns the global active queue and one idle/running task per
// CPU, exactly as spec.md §4.7 lays out.
type Scheduler struct {
	mu sync.Mutex

	active []*task.Task

	idle    map[int]*task.Task
	running map[int]*task.Task
}

// New creates an empty scheduler; per-CPU idle tasks are registered
// with SetIdle before the first Tick on that CPU.
func New() *Scheduler {
	return &Scheduler{
		idle:    map[int]*task.Task{},
		running: map[int]*task.Task{},
	}
}

// Lock / Unlock expose the single global scheduler lock so interrupt
// entry stubs and syscall dispatch can serialise around a Tick exactly
// the way callers serialise around pmm/vmm.
func (s *Scheduler) Lock()   { s.mu.Lock() }
func (s *Scheduler) Unlock() { s.mu.Unlock() }

// SetIdle registers the per-CPU idle task for cpuID.
func (s *Scheduler) SetIdle(cpuID int, t *task.Task) { s.idle[cpuID] = t }

// Running returns the task currently in cpuID's running slot, or nil.
func (s *Scheduler) Running(cpuID int) *task.Task { return s.running[cpuID] }

// PushReady appends a Ready task to the tail of the active queue
// (spec.md §4.7: "the queue preserves FIFO arrival order among
// equal-priority Ready tasks").
func (s *Scheduler) PushReady(t *task.Task) {
	t.Status = task.Ready
	s.active = append(s.active, t)
}

// nowFn reports the current wall time in nanoseconds, consulted when
// deciding whether a Sleeping task's wakeup_time has arrived; supplied
// by the caller (clock.NowNs in production) so tests control time.
type nowFn = func() uint64

// Tick runs one scheduling round on cpuID (spec.md §4.7):
//  1. drainEvents (the event-bus step, performed by the caller before
//     calling Tick; sched itself only consumes its effects via
//     PushReady having already been called for woken tasks)
//  2. save the current task's state; if it was Running, demote to
//     Ready and push it back onto active unless it is the idle task
//  3. pop heads of active in order, accepting the first Ready task, or
//     Sleeping task whose wakeup_time has arrived; fall back to idle
//  4. promote the chosen task to Running and return it for the caller
//     to restore (TSS.rsp0, errno, FS_BASE, CR3, iret — all outside
//     sched's scope since they are hardware operations)
func (s *Scheduler) Tick(cpuID int, now nowFn) *task.Task {
	cur := s.running[cpuID]
	idleTask := s.idle[cpuID]

	if cur != nil && cur != idleTask && cur.Status == task.Running {
		cur.Status = task.Ready
		s.active = append(s.active, cur)
	}
	delete(s.running, cpuID)

	for n := len(s.active); n > 0; n-- {
		head := s.active[0]
		s.active = s.active[1:]

		if head.Status == task.Ready {
			s.running[cpuID] = head
			head.Status = task.Running
			return head
		}
		if head.Status == task.Sleeping && head.WakeupTimeNs > 0 && now() >= head.WakeupTimeNs {
			head.Status = task.Running
			s.running[cpuID] = head
			return head
		}
		// Dying/Dead/not-yet-due Sleeping tasks are simply skipped and
		// re-appended (spec.md §4.7: "sleeping tasks never advance
		// past a Ready task; they are simply skipped and
		// re-appended"). Dead tasks stay in the queue until the idle
		// task's Reap sweep removes them. Each task queued when the scan
		// starts is examined at most once per Tick.
		s.active = append(s.active, head)
	}

	s.running[cpuID] = idleTask
	if idleTask != nil {
		idleTask.Status = task.Running
	}
	return idleTask
}

// Sleep transitions t to Sleeping with the given absolute wakeup time
// (0 disables the time-based wakeup, leaving only an event wakeup in
// effect). The caller must hold the scheduler lock and have already
// removed t from the running slot (spec.md §4.7's cooperative
// self-suspend path).
func (s *Scheduler) Sleep(t *task.Task, wakeupTimeNs uint64) {
	t.Status = task.Sleeping
	t.WakeupTimeNs = wakeupTimeNs
	s.active = append(s.active, t)
}

// WakeEvent moves a Sleeping task waiting on an event straight to
// Ready and deposits the event parameter (spec.md §3 Event /
// §4.7: "events can wake a Sleeping task early").
func WakeEvent(t *task.Task, param uint64) {
	if t.Status != task.Sleeping {
		return
	}
	t.Status = task.Ready
	if t.WakeupEvent != nil {
		*t.WakeupEvent = param
	}
}

// ActiveLen reports the number of tasks currently queued (Ready or
// Sleeping, not counting per-CPU running/idle slots); exposed for
// tests and diagnostics (cmd/kstat).
func (s *Scheduler) ActiveLen() int { return len(s.active) }

// ReapDead scans the active queue for Dead tasks, removing them and
// invoking onReap for each (the idle task's sweep, spec.md §4.6:
// "removes them, decrements their parent's child_list, frees the
// task's stacks, page tables and address space, and decrements inode
// refcounts on its open files" — the actual resource teardown is
// onReap's job; ReapDead only owns queue bookkeeping).
func (s *Scheduler) ReapDead(onReap func(*task.Task)) {
	kept := s.active[:0]
	for _, t := range s.active {
		if t.Status == task.Dead {
			onReap(t)
			continue
		}
		kept = append(kept, t)
	}
	s.active = kept
}

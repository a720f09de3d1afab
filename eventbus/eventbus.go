// Package eventbus is the publisher/subscriber bridge between
// interrupt handlers and sleeping tasks (spec.md §3 Event, §4.10): an
// ISR (e.g. the keyboard IRQ) publishes an Event; a task blocked in
// wait_event consumes it on the next scheduler tick. Grounded on
// spec.md §4.10's own description — the teacher's forked runtime
// wires keyboard IRQs straight into its own channel-based wakeups, so
// there is no single teacher file to adapt; this package gives that
// shape an explicit publishers/subscribers queue pair instead.
package eventbus

import (
	"sync"

	"hankernel/defs"
	"hankernel/task"
)

// Type enumerates event kinds a task can wait_event on (spec.md §3:
// "Events of type KeyPressed carry the scancode/ASCII byte in the
// parameter").
type Type int

const (
	KeyPressed Type = iota
)

// Event is published by an ISR and consumed by a waiting task
// (spec.md §3 Event).
type Event struct {
	Tid   defs.Tid_t
	Type  Type
	Param uint64
}

type subscriber struct {
	t   *task.Task
	typ Type
}

// Bus owns the two queues spec.md §4.10 names: pending publisher
// events, and tasks currently blocked waiting.
type Bus struct {
	mu          sync.Mutex
	publishers  []Event
	subscribers []subscriber
}

// New returns an empty Bus.
func New() *Bus { return &Bus{} }

// Publish appends an event for the next Dispatch to consume (spec.md
// §4.10: "publish appends"). Called from interrupt context (e.g. the
// keyboard ISR); the caller must already hold whatever lock protects
// entry into dispatch-adjacent state, matching §5's "interrupts may
// reach into ... VFS (keyboard -> event bus)" discipline.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishers = append(b.publishers, e)
}

// Subscribe registers t as waiting for events of typ. The caller is
// responsible for the actual self-suspend (sched.Sleep); Subscribe
// only records the interest so Dispatch knows whom to wake (spec.md
// §4.10: "subscribe registers the subscriber and self-suspends via
// wait_event" — the self-suspend half lives in sched/syscall_, not
// here, to avoid an eventbus->sched import cycle).
func (b *Bus) Subscribe(t *task.Task, typ Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = append(b.subscribers, subscriber{t: t, typ: typ})
}

// Unsubscribe removes t's pending wait for typ, used when a blocking
// read is abandoned (e.g. task exit while waiting on stdin).
func (b *Bus) Unsubscribe(t *task.Task, typ Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.subscribers[:0]
	for _, s := range b.subscribers {
		if s.t == t && s.typ == typ {
			continue
		}
		out = append(out, s)
	}
	b.subscribers = out
}

// WakeFn delivers an event parameter to a woken subscriber, ordinarily
// sched.WakeEvent.
type WakeFn func(t *task.Task, param uint64)

// Dispatch pops one publisher event at a time and, for each matching
// suspended subscriber, invokes wake and removes that subscriber
// (spec.md §4.10: "dispatch ... pops one publisher at a time and, for
// each matching suspended task, moves it to Ready with the event
// parameter stored in its wakeup_event"). Called once per scheduler
// tick before task selection (spec.md §4.7 step 1).
func (b *Bus) Dispatch(wake WakeFn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.publishers) > 0 {
		ev := b.publishers[0]
		b.publishers = b.publishers[1:]

		remaining := b.subscribers[:0]
		for _, s := range b.subscribers {
			if s.typ == ev.Type {
				wake(s.t, ev.Param)
				continue
			}
			remaining = append(remaining, s)
		}
		b.subscribers = remaining
	}
}

// Pending reports the number of unconsumed published events, used by
// cmd/kstat's diagnostic snapshot.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.publishers)
}

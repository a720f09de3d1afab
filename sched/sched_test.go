package sched

import (
	"testing"

	"hankernel/defs"
	"hankernel/task"
)

func mkTask(tid defs.Tid_t) *task.Task {
	return task.New(tid, 0, task.UserMode)
}

func TestTickPicksIdleWhenQueueEmpty(t *testing.T) {
	s := New()
	idle := mkTask(0)
	s.SetIdle(0, idle)

	got := s.Tick(0, func() uint64 { return 0 })
	if got != idle {
		t.Fatal("expected idle task when active queue is empty")
	}
}

func TestTickPreservesFIFOOrder(t *testing.T) {
	s := New()
	s.SetIdle(0, mkTask(0))
	a, b, c := mkTask(1), mkTask(2), mkTask(3)
	s.PushReady(a)
	s.PushReady(b)
	s.PushReady(c)

	now := func() uint64 { return 0 }
	if got := s.Tick(0, now); got != a {
		t.Fatalf("first tick should pick a, got tid %d", got.Tid)
	}
	if got := s.Tick(0, now); got != b {
		t.Fatalf("second tick should pick b (a demoted back to tail), got tid %d", got.Tid)
	}
}

func TestSleepingTaskSkippedUntilWakeupTime(t *testing.T) {
	s := New()
	s.SetIdle(0, mkTask(0))
	sleeper := mkTask(1)
	ready := mkTask(2)

	s.Sleep(sleeper, 1000)
	s.PushReady(ready)

	now := func() uint64 { return 0 } // before wakeup_time
	got := s.Tick(0, now)
	if got != ready {
		t.Fatalf("expected the Ready task to run before the Sleeping task's wakeup_time, got tid %d", got.Tid)
	}
}

func TestSleepingTaskRunsOnceWakeupTimeArrives(t *testing.T) {
	s := New()
	s.SetIdle(0, mkTask(0))
	sleeper := mkTask(1)
	s.Sleep(sleeper, 1000)

	now := func() uint64 { return 1000 }
	got := s.Tick(0, now)
	if got != sleeper {
		t.Fatalf("expected the sleeper to run once its wakeup_time has arrived, got tid %d", got.Tid)
	}
}

func TestWakeEventPromotesSleepingToReady(t *testing.T) {
	var param uint64
	waiter := mkTask(1)
	waiter.Status = task.Sleeping
	waiter.WakeupEvent = &param

	WakeEvent(waiter, 0x41)
	if waiter.Status != task.Ready {
		t.Fatalf("status = %v, want Ready", waiter.Status)
	}
	if param != 0x41 {
		t.Fatalf("event parameter = %#x, want 0x41", param)
	}
}

func TestReapDeadRemovesOnlyDeadTasks(t *testing.T) {
	s := New()
	alive := mkTask(1)
	dead := mkTask(2)
	dead.Status = task.Dead
	s.PushReady(alive)
	s.active = append(s.active, dead)

	var reaped []defs.Tid_t
	s.ReapDead(func(t *task.Task) { reaped = append(reaped, t.Tid) })

	if len(reaped) != 1 || reaped[0] != 2 {
		t.Fatalf("reaped = %v, want [2]", reaped)
	}
	if s.ActiveLen() != 1 {
		t.Fatalf("active len = %d, want 1 (alive task kept)", s.ActiveLen())
	}
}

func TestRunningTaskDemotedToReadyUnlessIdle(t *testing.T) {
	s := New()
	idle := mkTask(0)
	s.SetIdle(0, idle)
	other := mkTask(1)
	s.PushReady(other)

	now := func() uint64 { return 0 }
	first := s.Tick(0, now) // other becomes Running
	if first != other {
		t.Fatalf("expected other to run first, got %d", first.Tid)
	}

	// Next tick: other (Running) should be demoted back to Ready and
	// re-queued, so it is picked again since the queue is otherwise
	// empty.
	second := s.Tick(0, now)
	if second != other {
		t.Fatalf("expected other to be re-picked after demotion, got tid %d", second.Tid)
	}
	if other.Status != task.Running {
		t.Fatalf("status = %v, want Running", other.Status)
	}
}

package sched

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestLoop_StepRunsTasksInRegistrationOrder(t *testing.T) {
	l := New(20, nil)
	var got []string
	l.ScheduleRepeating(func() { got = append(got, "a") }, 1)
	l.ScheduleRepeating(func() { got = append(got, "b") }, 1)

	l.Step()
	l.Step()
	want := []string{"a", "b", "a", "b"}
	if len(got) != len(want) {
		t.Fatalf("runs: got %v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("runs: got %v want %v", got, want)
		}
	}
	if l.CurrentTick() != 2 {
		t.Fatalf("tick: got %d want 2", l.CurrentTick())
	}
}

func TestLoop_ScheduledDuringStepStartsNextStep(t *testing.T) {
	l := New(20, nil)
	inner := 0
	var scheduled bool
	l.ScheduleRepeating(func() {
		if scheduled {
			return
		}
		scheduled = true
		l.ScheduleRepeating(func() { inner++ }, 1)
	}, 1)

	l.Step()
	if inner != 0 {
		t.Fatalf("inner ran in the step that scheduled it")
	}
	l.Step()
	if inner != 1 {
		t.Fatalf("inner runs: got %d want 1", inner)
	}
}

func TestLoop_CancelIsIdempotentAndSkipsWithinStep(t *testing.T) {
	l := New(20, nil)
	runs := 0
	var second TaskID
	l.ScheduleRepeating(func() { l.Cancel(second) }, 1)
	second = l.ScheduleRepeating(func() { runs++ }, 1)

	l.Step()
	if runs != 0 {
		t.Fatalf("cancelled task ran: %d", runs)
	}
	l.Cancel(second)
	l.Cancel(second)
	if n := l.ActiveTasks(); n != 1 {
		t.Fatalf("active: got %d want 1", n)
	}
}

func TestLoop_EveryTicks(t *testing.T) {
	l := New(20, nil)
	runs := 0
	l.ScheduleRepeating(func() { runs++ }, 3)
	for i := 0; i < 7; i++ {
		l.Step()
	}
	// ticks 0, 3, 6
	if runs != 3 {
		t.Fatalf("runs: got %d want 3", runs)
	}
}

func TestLoop_PanickingTaskDoesNotStopOthers(t *testing.T) {
	l := New(20, nil)
	runs := 0
	l.ScheduleRepeating(func() { panic("boom") }, 1)
	l.ScheduleRepeating(func() { runs++ }, 1)
	l.Step()
	l.Step()
	if runs != 2 {
		t.Fatalf("runs: got %d want 2", runs)
	}
}

func TestLoop_CallRunsOnLoopGoroutine(t *testing.T) {
	defer goleak.VerifyNone(t)

	l := New(50, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	callCtx, callCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer callCancel()

	ticks := 0
	if err := l.Call(callCtx, func() {
		l.ScheduleRepeating(func() { ticks++ }, 1)
	}); err != nil {
		t.Fatalf("Call: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var n int
		if err := l.Call(callCtx, func() { n = ticks }); err != nil {
			t.Fatalf("Call: %v", err)
		}
		if n >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("Run: got %v want %v", err, context.Canceled)
	}
}

func TestLoop_StopRejectsCalls(t *testing.T) {
	l := New(20, nil)
	l.Stop()
	l.Stop()
	if l.Submit(func() {}) {
		t.Fatalf("Submit accepted after Stop")
	}
	if err := l.Call(context.Background(), func() {}); err != ErrStopped {
		t.Fatalf("Call: got %v want %v", err, ErrStopped)
	}
}

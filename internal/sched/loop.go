package sched

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// TaskID identifies a repeating task registered on a Loop.
type TaskID uint64

type entry struct {
	id    TaskID
	fn    func()
	every uint64
	next  uint64
}

// Loop is a single-threaded fixed-rate tick scheduler.
// Repeating tasks and submitted calls only ever run on the goroutine that
// executes Run (or, in tests, the goroutine calling Step), so state touched
// exclusively from them needs no locking.
type Loop struct {
	tickRateHz int
	log        *log.Logger

	tick   atomic.Uint64
	nextID atomic.Uint64
	active atomic.Int64

	tasks map[TaskID]*entry
	order []TaskID

	calls    chan func()
	stop     chan struct{}
	stopOnce sync.Once
}

var ErrStopped = errors.New("sched: loop stopped")

func New(tickRateHz int, logger *log.Logger) *Loop {
	if tickRateHz <= 0 {
		tickRateHz = 20
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Loop{
		tickRateHz: tickRateHz,
		log:        logger,
		tasks:      map[TaskID]*entry{},
		calls:      make(chan func(), 1024),
		stop:       make(chan struct{}),
	}
}

func (l *Loop) TickRateHz() int     { return l.tickRateHz }
func (l *Loop) CurrentTick() uint64 { return l.tick.Load() }
func (l *Loop) ActiveTasks() int    { return int(l.active.Load()) }

// ScheduleRepeating registers fn to run every everyTicks ticks, starting with
// the next Step. Must be called from the loop goroutine.
func (l *Loop) ScheduleRepeating(fn func(), everyTicks int) TaskID {
	if everyTicks <= 0 {
		everyTicks = 1
	}
	id := TaskID(l.nextID.Add(1))
	l.tasks[id] = &entry{
		id:    id,
		fn:    fn,
		every: uint64(everyTicks),
		next:  l.tick.Load(),
	}
	// IDs are monotonic, so appending keeps order sorted.
	l.order = append(l.order, id)
	l.active.Add(1)
	return id
}

// Cancel unregisters a task. Unknown or already cancelled ids are ignored.
func (l *Loop) Cancel(id TaskID) {
	if _, ok := l.tasks[id]; !ok {
		return
	}
	delete(l.tasks, id)
	i := sort.Search(len(l.order), func(i int) bool { return l.order[i] >= id })
	if i < len(l.order) && l.order[i] == id {
		l.order = append(l.order[:i], l.order[i+1:]...)
	}
	l.active.Add(-1)
}

// Step runs one tick: every due task in registration order. Tasks scheduled
// during the step first run on the following step; tasks cancelled during the
// step are skipped.
func (l *Loop) Step() {
	t := l.tick.Load()
	due := make([]TaskID, len(l.order))
	copy(due, l.order)
	for _, id := range due {
		e, ok := l.tasks[id]
		if !ok || e.next > t {
			continue
		}
		e.next = t + e.every
		l.runTask(e)
	}
	l.tick.Add(1)
}

func (l *Loop) runTask(e *entry) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Printf("task %d panicked: %v", e.id, r)
		}
	}()
	e.fn()
}

// Submit hands fn to the loop goroutine without waiting.
// It reports false when the loop is stopped or its queue is full.
func (l *Loop) Submit(fn func()) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	select {
	case l.calls <- fn:
		return true
	default:
		return false
	}
}

// Call runs fn on the loop goroutine and waits for it to finish.
// It is safe to call from other goroutines (e.g. HTTP handlers).
func (l *Loop) Call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case l.calls <- wrapped:
	case <-l.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-l.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loop) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(l.tickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stop:
			return nil
		case fn := <-l.calls:
			l.runCall(fn)
		case <-ticker.C:
			l.Step()
		}
	}
}

func (l *Loop) runCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Printf("call panicked: %v", r)
		}
	}()
	fn()
}

func (l *Loop) Stop() { l.stopOnce.Do(func() { close(l.stop) }) }

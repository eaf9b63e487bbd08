package overlay

import "holotag.dev/internal/sched"

type TaskState int

const (
	TaskActive TaskState = iota
	TaskCancelled
	TaskTerminated
)

func (s TaskState) String() string {
	switch s {
	case TaskActive:
		return "active"
	case TaskCancelled:
		return "cancelled"
	case TaskTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Task keeps one decoy glued to its host for one viewer. It runs every tick
// on the scheduler until cancelled or until it detects that the viewer left
// or the host is gone.
type Task struct {
	st     *State
	viewer Viewer
	decoy  *Decoy
	host   Host
	offset float64

	handle    sched.TaskID
	scheduled bool
	active    bool
	state     TaskState
	released  bool
}

func startTask(st *State, v Viewer, d *Decoy, h Host, offset float64) *Task {
	t := &Task{
		st:     st,
		viewer: v,
		decoy:  d,
		host:   h,
		offset: offset,
		active: true,
		state:  TaskActive,
	}
	st.tasks.put(d.ID, t)
	t.handle = st.sched.ScheduleRepeating(t.run, 1)
	t.scheduled = true
	return t
}

func (t *Task) Decoy() *Decoy    { return t.decoy }
func (t *Task) Offset() float64  { return t.offset }
func (t *Task) State() TaskState { return t.state }

// Target is where the decoy belongs this tick.
func (t *Task) Target() Vec3 {
	return t.host.Position().AddY(t.st.species.Anchor(t.host.Species()) + t.offset)
}

func (t *Task) run() {
	if t.host.ChunkLoaded() {
		t.active = true
	}
	if !t.active {
		return
	}
	if !t.viewer.Online() {
		t.st.dropViewer(t.viewer.ID(), false, "viewer offline")
		t.terminate(false)
		return
	}
	if t.host.Dead() {
		t.st.dropHost(t.host.ID(), "host dead")
		t.terminate(true)
		return
	}
	if !t.host.ChunkLoaded() {
		t.st.dropHost(t.host.ID(), "chunk unloaded")
		t.terminate(true)
		return
	}

	target := t.Target()
	if err := t.st.transport.Move(t.viewer, t.decoy.ID, target); err != nil {
		t.st.log.Printf("move decoy %d for %s: %v", t.decoy.ID, t.viewer.ID(), err)
		return
	}
	t.decoy.Pos = target
}

// terminate finishes a self-initiated shutdown. The cascade normally releases
// the decoy already; a decoy no cache referenced any more is released here.
func (t *Task) terminate(despawn bool) {
	if !t.released {
		t.st.releaseOrphan(t, despawn)
	}
	t.Clear()
	t.state = TaskTerminated
}

// Clear unschedules the task. It is idempotent and leaves caches untouched.
func (t *Task) Clear() {
	if !t.scheduled {
		return
	}
	t.st.sched.Cancel(t.handle)
	t.scheduled = false
	t.active = false
	if t.state == TaskActive {
		t.state = TaskCancelled
	}
}

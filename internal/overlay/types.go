package overlay

import "holotag.dev/internal/sched"

type (
	HostID   string
	ViewerID string
	DecoyID  int32
)

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) AddY(dy float64) Vec3 { return Vec3{X: v.X, Y: v.Y + dy, Z: v.Z} }

// Host is a live game entity an overlay is attached to. The core only reads it.
type Host interface {
	ID() HostID
	Species() string
	Position() Vec3
	Dead() bool
	ChunkLoaded() bool
}

// Viewer is one observer with its own overlay view.
type Viewer interface {
	ID() ViewerID
	Online() bool
}

// Decoy is an invisible marker entity carrying one line of text for one viewer.
// HeadSlots and LineStacks share the same pointer for line 0.
type Decoy struct {
	ID   DecoyID `json:"id"`
	Text string  `json:"text"`
	Pos  Vec3    `json:"pos"`
}

// Transport issues the spawn/move/despawn/rename primitives to a viewer.
type Transport interface {
	// Spawn creates a decoy at (base.X, anchorY, base.Z) and returns its id.
	Spawn(v Viewer, text string, base Vec3, anchorY float64) (DecoyID, error)
	Move(v Viewer, id DecoyID, pos Vec3) error
	Despawn(v Viewer, id DecoyID) error
	Rename(v Viewer, id DecoyID, text string) error
}

// Scheduler invokes callbacks at a fixed tick rate.
type Scheduler interface {
	ScheduleRepeating(fn func(), everyTicks int) sched.TaskID
	Cancel(id sched.TaskID)
}

// DestroyMonitor attaches destroy-notification interception to a viewer.
// While attached, the monitor must consult State.IsManaged before letting an
// out-of-band destroy for a decoy reach the viewer.
type DestroyMonitor interface {
	StartMonitoring(v Viewer) error
	StopMonitoring(v Viewer) error
}

package overlay

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"holotag.dev/internal/sched"
)

type fakeHost struct {
	id       HostID
	species  string
	pos      Vec3
	dead     bool
	unloaded bool
}

func (h *fakeHost) ID() HostID        { return h.id }
func (h *fakeHost) Species() string   { return h.species }
func (h *fakeHost) Position() Vec3    { return h.pos }
func (h *fakeHost) Dead() bool        { return h.dead }
func (h *fakeHost) ChunkLoaded() bool { return !h.unloaded }

type fakeViewer struct {
	id      ViewerID
	offline bool
}

func (v *fakeViewer) ID() ViewerID { return v.id }
func (v *fakeViewer) Online() bool { return !v.offline }

var errTransport = errors.New("transport down")

type spawnCall struct {
	viewer  ViewerID
	text    string
	base    Vec3
	anchorY float64
}

type fakeTransport struct {
	nextID DecoyID

	spawns       []spawnCall
	moves        map[DecoyID]Vec3
	renames      map[DecoyID]string
	despawnCalls int
	despawned    map[DecoyID]ViewerID

	failSpawnFor map[ViewerID]bool
	failDespawns int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		nextID:       100,
		moves:        map[DecoyID]Vec3{},
		renames:      map[DecoyID]string{},
		despawned:    map[DecoyID]ViewerID{},
		failSpawnFor: map[ViewerID]bool{},
	}
}

func (f *fakeTransport) Spawn(v Viewer, text string, base Vec3, anchorY float64) (DecoyID, error) {
	if f.failSpawnFor[v.ID()] {
		return 0, errTransport
	}
	f.nextID++
	f.spawns = append(f.spawns, spawnCall{viewer: v.ID(), text: text, base: base, anchorY: anchorY})
	return f.nextID, nil
}

func (f *fakeTransport) Move(v Viewer, id DecoyID, pos Vec3) error {
	f.moves[id] = pos
	return nil
}

func (f *fakeTransport) Despawn(v Viewer, id DecoyID) error {
	f.despawnCalls++
	if f.failDespawns > 0 {
		f.failDespawns--
		return errTransport
	}
	f.despawned[id] = v.ID()
	return nil
}

func (f *fakeTransport) Rename(v Viewer, id DecoyID, text string) error {
	f.renames[id] = text
	return nil
}

type recordingSink struct {
	events []Event
}

func (r *recordingSink) WriteEvent(e Event) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingSink) kinds() []string {
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

type harness struct {
	svc  *Service
	st   *State
	tr   *fakeTransport
	loop *sched.Loop
	sink *recordingSink
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	tr := newFakeTransport()
	loop := sched.New(20, nil)
	st := NewState(cfg, NewSpeciesTable(nil, 0), tr, loop, nil)
	sink := &recordingSink{}
	st.SetEventSink(sink)
	return &harness{svc: NewService(st, nil), st: st, tr: tr, loop: loop, sink: sink}
}

func zombie(id string, y float64) *fakeHost {
	return &fakeHost{id: HostID(id), species: "ZOMBIE", pos: Vec3{X: 10, Y: y, Z: -3}}
}

func viewer(id string) *fakeViewer { return &fakeViewer{id: ViewerID(id)} }

func near(a, b float64) bool { return math.Abs(a-b) <= 1e-9 }

// checkInvariants verifies the cache invariants that must hold after every
// operation and every tick.
func checkInvariants(t *testing.T, st *State) {
	t.Helper()
	decoys := 0
	for h, byViewer := range st.lines.m {
		if len(byViewer) == 0 {
			t.Fatalf("host %s: empty viewer map in line stacks", h)
		}
		for v, lines := range byViewer {
			if len(lines) == 0 {
				t.Fatalf("(%s,%s): empty line stack", h, v)
			}
			head, ok := st.heads.Get(h, v)
			if !ok || head != lines[0] {
				t.Fatalf("(%s,%s): head slot %v does not match line 0 %v", h, v, head, lines[0])
			}
			for i, d := range lines {
				decoys++
				if !st.ids.Contains(d.ID) {
					t.Fatalf("(%s,%s) line %d: decoy %d missing from registry", h, v, i, d.ID)
				}
				task, ok := st.tasks.Get(d.ID)
				if !ok || task.State() != TaskActive {
					t.Fatalf("(%s,%s) line %d: decoy %d has no active task", h, v, i, d.ID)
				}
			}
		}
	}
	for h, byViewer := range st.heads.m {
		if len(byViewer) == 0 {
			t.Fatalf("host %s: empty viewer map in head slots", h)
		}
		for v := range byViewer {
			if st.lines.Len(h, v) == 0 {
				t.Fatalf("(%s,%s): head slot without line stack", h, v)
			}
		}
	}
	if got := st.ids.Len(); got != decoys {
		t.Fatalf("registry size: got %d want %d", got, decoys)
	}
	if got := st.tasks.Len(); got != decoys {
		t.Fatalf("task registry size: got %d want %d", got, decoys)
	}
}

func mustNoErr(t *testing.T, what string, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}

func decoyIDs(lines []Decoy) []DecoyID {
	out := make([]DecoyID, len(lines))
	for i, d := range lines {
		out[i] = d.ID
	}
	return out
}

func stackOf(t *testing.T, h *harness, n int) (*fakeHost, *fakeViewer) {
	t.Helper()
	z := zombie("z", 64)
	p := viewer("p")
	mustNoErr(t, "set tag", h.svc.SetTag(p, z, "line 0"))
	for i := 1; i < n; i++ {
		mustNoErr(t, "add line", h.svc.AddLine(p, z, fmt.Sprintf("line %d", i)))
	}
	return z, p
}

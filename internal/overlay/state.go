package overlay

import (
	"io"
	"log"
)

// PrimaryScope selects who may claim a host's primary tag.
type PrimaryScope string

const (
	// ScopeHost: the first viewer to get a primary tag claims the host;
	// SetTag for any other viewer is rejected with ErrDuplicatePrimaryTag.
	ScopeHost PrimaryScope = "host"
	// ScopeViewer: each viewer gets its own primary tag.
	ScopeViewer PrimaryScope = "viewer"
)

type Config struct {
	LineGap        float64
	PrimaryScope   PrimaryScope
	DespawnRetries int
}

func (c *Config) applyDefaults() {
	if c.LineGap <= 0 {
		c.LineGap = DefaultLineGap
	}
	if c.PrimaryScope == "" {
		c.PrimaryScope = ScopeHost
	}
	if c.DespawnRetries < 0 {
		c.DespawnRetries = 0
	}
}

// State owns every overlay cache. It is single-threaded: all methods, and all
// task ticks, must run on the scheduler goroutine.
type State struct {
	cfg Config
	log *log.Logger

	species   *SpeciesTable
	transport Transport
	sched     Scheduler
	clock     Clock
	sink      EventSink

	ids   *IDRegistry
	heads *HeadSlots
	lines *LineStacks
	tasks *TaskRegistry

	viewers map[ViewerID]Viewer
	hosts   map[HostID]Host
}

func NewState(cfg Config, species *SpeciesTable, tr Transport, sc Scheduler, logger *log.Logger) *State {
	cfg.applyDefaults()
	if species == nil {
		species = NewSpeciesTable(nil, 0)
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ids := NewIDRegistry()
	st := &State{
		cfg:       cfg,
		log:       logger,
		species:   species,
		transport: tr,
		sched:     sc,
		ids:       ids,
		heads:     NewHeadSlots(ids),
		lines:     NewLineStacks(ids),
		tasks:     NewTaskRegistry(),
		viewers:   map[ViewerID]Viewer{},
		hosts:     map[HostID]Host{},
	}
	if c, ok := sc.(Clock); ok {
		st.clock = c
	}
	return st
}

func (s *State) SetEventSink(sink EventSink) { s.sink = sink }
func (s *State) SetClock(c Clock)            { s.clock = c }

func (s *State) Config() Config              { return s.cfg }
func (s *State) Species() *SpeciesTable      { return s.species }
func (s *State) IDs() *IDRegistry            { return s.ids }
func (s *State) HeadSlots() *HeadSlots       { return s.heads }
func (s *State) LineStacks() *LineStacks     { return s.lines }
func (s *State) TaskRegistry() *TaskRegistry { return s.tasks }

// IsManaged reports whether id is a decoy the core still owns. Destroy
// interception vetoes out-of-band destroys for managed ids.
func (s *State) IsManaged(id DecoyID) bool { return s.ids.Contains(id) }

// Vetoed records a destroy notification that interception refused.
func (s *State) Vetoed(v ViewerID, id DecoyID) {
	s.emit(Event{Kind: EventVeto, Viewer: v, Decoy: id, Reason: "managed decoy"})
}

func (s *State) track(v Viewer, h Host) {
	s.viewers[v.ID()] = v
	s.hosts[h.ID()] = h
}

func (s *State) emit(e Event) {
	if s.sink == nil {
		return
	}
	if s.clock != nil {
		e.Tick = s.clock.CurrentTick()
	}
	if err := s.sink.WriteEvent(e); err != nil {
		s.log.Printf("event sink: %v", err)
	}
}

// despawn sends a despawn, retrying up to DespawnRetries extra times.
// Transports treat a repeated despawn of the same id as a no-op.
func (s *State) despawn(v Viewer, id DecoyID) error {
	var err error
	for attempt := 0; attempt <= s.cfg.DespawnRetries; attempt++ {
		if err = s.transport.Despawn(v, id); err == nil {
			return nil
		}
	}
	s.log.Printf("despawn decoy %d for %s: %v", id, v.ID(), err)
	return err
}

// releaseDecoy cancels the task of d and, if asked, despawns it. Cache and
// registry entries must already be gone.
func (s *State) releaseDecoy(h HostID, v ViewerID, line int, d *Decoy, despawn bool, reason string) {
	t, hasTask := s.tasks.take(d.ID)
	if hasTask {
		t.released = true
		t.Clear()
	}
	s.ids.Remove(d.ID)
	if !despawn {
		return
	}
	viewer, ok := s.viewers[v]
	if !ok && hasTask {
		viewer = t.viewer
		ok = true
	}
	if !ok {
		return
	}
	if err := s.despawn(viewer, d.ID); err != nil {
		return
	}
	s.emit(Event{Kind: EventDespawn, Host: h, Viewer: v, Decoy: d.ID, Line: line, Reason: reason})
}

// releaseOrphan handles a task whose decoy no cache references any more.
func (s *State) releaseOrphan(t *Task, despawn bool) {
	s.tasks.forget(t.decoy.ID, t)
	s.ids.Remove(t.decoy.ID)
	t.released = true
	if despawn {
		if err := s.despawn(t.viewer, t.decoy.ID); err == nil {
			s.emit(Event{Kind: EventDespawn, Host: t.host.ID(), Viewer: t.viewer.ID(), Decoy: t.decoy.ID, Line: -1, Reason: "orphan"})
		}
	}
}

// dropPair removes every line of (h, v) in two phases: despawns first, then
// cache, registry and task cleanup.
func (s *State) dropPair(h HostID, v ViewerID, despawn bool, reason string) int {
	lines, ok := s.lines.Lines(h, v)
	if !ok {
		if d, ok := s.heads.RemoveDecoyForViewer(h, v); ok {
			s.releaseDecoy(h, v, 0, d, despawn, reason)
			return 1
		}
		return 0
	}
	if despawn {
		if viewer, ok := s.viewers[v]; ok {
			for _, d := range lines {
				_ = s.despawn(viewer, d.ID)
			}
		}
	}
	s.heads.RemoveDecoyForViewer(h, v)
	s.lines.RemoveDecoyForViewer(h, v)
	for i, d := range lines {
		s.releaseDecoy(h, v, i, d, false, reason)
		if despawn {
			s.emit(Event{Kind: EventDespawn, Host: h, Viewer: v, Decoy: d.ID, Line: i, Reason: reason})
		}
	}
	if !s.heads.Has(h) && len(s.lines.Viewers(h)) == 0 {
		delete(s.hosts, h)
	}
	return len(lines)
}

// dropHost despawns and forgets every decoy attached to h.
func (s *State) dropHost(h HostID, reason string) int {
	n := 0
	for _, v := range s.lines.Viewers(h) {
		n += s.dropPair(h, v, true, reason)
	}
	// Head slots without a line stack should not exist; clear them anyway.
	for v, d := range s.heads.Remove(h) {
		s.releaseDecoy(h, v, 0, d, true, reason)
		n++
	}
	delete(s.hosts, h)
	s.emit(Event{Kind: EventDropHost, Host: h, Line: n, Reason: reason})
	return n
}

// dropViewer removes v from every host. Despawn is skipped for viewers that
// are already gone.
func (s *State) dropViewer(v ViewerID, despawn bool, reason string) int {
	n := 0
	for _, h := range s.lines.Hosts() {
		if s.lines.Len(h, v) == 0 {
			continue
		}
		n += s.dropPair(h, v, despawn, reason)
	}
	for _, d := range s.heads.RemoveViewer(v) {
		s.releaseDecoy("", v, 0, d, despawn, reason)
		n++
	}
	delete(s.viewers, v)
	s.emit(Event{Kind: EventDropViewer, Viewer: v, Line: n, Reason: reason})
	return n
}

// spawnLine creates one decoy for (h, v), appends it to the line stack and
// starts its task.
func (s *State) spawnLine(v Viewer, h Host, text string, base Vec3, anchorY, offset float64) (*Decoy, error) {
	id, err := s.transport.Spawn(v, text, base, anchorY)
	if err != nil {
		return nil, err
	}
	d := &Decoy{ID: id, Text: text, Pos: Vec3{X: base.X, Y: anchorY, Z: base.Z}}
	line := s.lines.Append(h.ID(), v.ID(), d)
	if line == 0 {
		s.heads.Put(h.ID(), v.ID(), d)
	}
	s.track(v, h)
	startTask(s, v, d, h, offset)
	s.emit(Event{Kind: EventSpawn, Host: h.ID(), Viewer: v.ID(), Decoy: id, Line: line, Text: text})
	return d, nil
}

type Stats struct {
	Hosts   int `json:"hosts"`
	Viewers int `json:"viewers"`
	Decoys  int `json:"decoys"`
	Tasks   int `json:"tasks"`
}

func (s *State) Stats() Stats {
	return Stats{
		Hosts:   len(s.lines.Hosts()),
		Viewers: len(s.viewers),
		Decoys:  s.ids.Len(),
		Tasks:   s.tasks.Len(),
	}
}

// LineView is an exported copy of one line, for inspection.
type LineView struct {
	Decoy  Decoy   `json:"decoy"`
	Offset float64 `json:"offset"`
	Task   string  `json:"task"`
}

// Snapshot copies the line stacks as host -> viewer -> lines.
func (s *State) Snapshot() map[HostID]map[ViewerID][]LineView {
	out := map[HostID]map[ViewerID][]LineView{}
	for _, h := range s.lines.Hosts() {
		byViewer := map[ViewerID][]LineView{}
		for _, v := range s.lines.Viewers(h) {
			lines, _ := s.lines.Lines(h, v)
			views := make([]LineView, 0, len(lines))
			for _, d := range lines {
				lv := LineView{Decoy: *d, Task: "missing"}
				if t, ok := s.tasks.Get(d.ID); ok {
					lv.Offset = t.Offset()
					lv.Task = t.State().String()
				}
				views = append(views, lv)
			}
			byViewer[v] = views
		}
		out[h] = byViewer
	}
	return out
}

package overlay

import (
	"errors"
	"fmt"
)

// Service exposes the overlay operations. Like State, it must only be used
// from the scheduler goroutine; other goroutines go through sched.Loop.Call.
type Service struct {
	st      *State
	monitor DestroyMonitor
}

func NewService(st *State, monitor DestroyMonitor) *Service {
	return &Service{st: st, monitor: monitor}
}

func (s *Service) State() *State { return s.st }

// ViewerJoined starts destroy interception for v.
func (s *Service) ViewerJoined(v Viewer) error {
	s.st.viewers[v.ID()] = v
	if s.monitor == nil {
		return nil
	}
	if err := s.monitor.StartMonitoring(v); err != nil {
		return fmt.Errorf("start monitoring %s: %w", v.ID(), err)
	}
	return nil
}

// ViewerLeft stops destroy interception for v and forgets its overlays
// without sending despawns to a viewer that is gone.
func (s *Service) ViewerLeft(v Viewer) error {
	var err error
	if s.monitor != nil {
		if e := s.monitor.StopMonitoring(v); e != nil {
			err = fmt.Errorf("stop monitoring %s: %w", v.ID(), e)
		}
	}
	s.st.dropViewer(v.ID(), false, "viewer quit")
	return err
}

// HostRemoved tears down every overlay on h right away instead of waiting
// for the next task tick to notice.
func (s *Service) HostRemoved(h HostID) int {
	return s.st.dropHost(h, "host removed")
}

// SetTag creates the primary tag of h for v. An existing primary for v is
// renamed in place. With ScopeHost, a primary held by another viewer
// rejects the call with ErrDuplicatePrimaryTag and changes nothing.
func (s *Service) SetTag(v Viewer, h Host, text string) error {
	st := s.st
	text = TranslateColorCodes(text)

	if d, ok := st.heads.Get(h.ID(), v.ID()); ok {
		return s.rename(v, h.ID(), d, text)
	}
	if st.cfg.PrimaryScope == ScopeHost && st.heads.Has(h.ID()) {
		st.log.Printf("host %s (%s) already has a primary tag, not setting one for %s", h.ID(), h.Species(), v.ID())
		st.emit(Event{Kind: EventReject, Host: h.ID(), Viewer: v.ID(), Text: text, Reason: "duplicate primary"})
		return ErrDuplicatePrimaryTag
	}

	base := h.Position()
	anchorY := base.Y + st.species.Anchor(h.Species())
	if _, err := st.spawnLine(v, h, text, base, anchorY, 0); err != nil {
		return fmt.Errorf("spawn primary tag on %s for %s: %w", h.ID(), v.ID(), err)
	}
	return nil
}

func (s *Service) rename(v Viewer, h HostID, d *Decoy, text string) error {
	if d.Text == text {
		return nil
	}
	if err := s.st.transport.Rename(v, d.ID, text); err != nil {
		return fmt.Errorf("rename decoy %d for %s: %w", d.ID, v.ID(), err)
	}
	d.Text = text
	s.st.emit(Event{Kind: EventRename, Host: h, Viewer: v.ID(), Decoy: d.ID, Text: text})
	return nil
}

// DeleteTag despawns every line of h for v. A missing tag is a no-op.
func (s *Service) DeleteTag(v Viewer, h Host) error {
	st := s.st
	if st.lines.Len(h.ID(), v.ID()) == 0 {
		if _, ok := st.heads.Get(h.ID(), v.ID()); !ok {
			return nil
		}
	}
	st.viewers[v.ID()] = v
	st.dropPair(h.ID(), v.ID(), true, "tag deleted")
	return nil
}

// AddLine stacks a new line on top of the last one. Without a tag it sets
// the primary tag instead.
func (s *Service) AddLine(v Viewer, h Host, text string) error {
	st := s.st
	lines, ok := st.lines.Lines(h.ID(), v.ID())
	if !ok {
		return s.SetTag(v, h, text)
	}
	text = TranslateColorCodes(text)

	last := lines[len(lines)-1]
	offset := float64(len(lines)) * st.cfg.LineGap
	if _, err := st.spawnLine(v, h, text, last.Pos, last.Pos.Y, offset); err != nil {
		return fmt.Errorf("spawn line %d on %s for %s: %w", len(lines), h.ID(), v.ID(), err)
	}
	return nil
}

// RemoveLine despawns line index and shifts the lines above it down one gap.
// Line 0 is rejected with ErrInvalidLineIndex before anything is touched.
func (s *Service) RemoveLine(v Viewer, h Host, index int) error {
	st := s.st
	if index == 0 {
		st.log.Printf("refusing to remove line 0 of %s for %s, use DeleteTag", h.ID(), v.ID())
		st.emit(Event{Kind: EventReject, Host: h.ID(), Viewer: v.ID(), Line: 0, Reason: "invalid line index"})
		return ErrInvalidLineIndex
	}
	lines, ok := st.lines.Lines(h.ID(), v.ID())
	if !ok {
		return ErrNoTag
	}
	if index < 0 || index >= len(lines) {
		return fmt.Errorf("remove line %d of %d: %w", index, len(lines), ErrLineOutOfRange)
	}

	d := lines[index]
	despawnErr := st.despawn(v, d.ID)
	st.lines.RemoveAt(h.ID(), v.ID(), index)
	st.releaseDecoy(h.ID(), v.ID(), index, d, false, "line removed")
	if despawnErr == nil {
		st.emit(Event{Kind: EventDespawn, Host: h.ID(), Viewer: v.ID(), Decoy: d.ID, Line: index, Reason: "line removed"})
	}

	s.reindex(v, h)
	if despawnErr != nil {
		return fmt.Errorf("despawn line %d: %w", index, despawnErr)
	}
	return nil
}

// reindex restarts the task of every line of (h, v) with the offset of its
// current position, moving each decoy there immediately.
func (s *Service) reindex(v Viewer, h Host) {
	st := s.st
	lines, ok := st.lines.Lines(h.ID(), v.ID())
	if !ok {
		return
	}
	anchor := st.species.Anchor(h.Species())
	for i, d := range lines {
		if t, ok := st.tasks.take(d.ID); ok {
			t.Clear()
		}
		offset := float64(i) * st.cfg.LineGap
		target := h.Position().AddY(anchor + offset)
		if err := st.transport.Move(v, d.ID, target); err != nil {
			st.log.Printf("move decoy %d for %s: %v", d.ID, v.ID(), err)
		} else {
			d.Pos = target
		}
		startTask(st, v, d, h, offset)
		st.emit(Event{Kind: EventReindex, Host: h.ID(), Viewer: v.ID(), Decoy: d.ID, Line: i})
	}
}

func (s *Service) SetTagAll(vs []Viewer, h Host, text string) error {
	return forEachViewer(vs, func(v Viewer) error { return s.SetTag(v, h, text) })
}

func (s *Service) DeleteTagAll(vs []Viewer, h Host) error {
	return forEachViewer(vs, func(v Viewer) error { return s.DeleteTag(v, h) })
}

func (s *Service) AddLineAll(vs []Viewer, h Host, text string) error {
	return forEachViewer(vs, func(v Viewer) error { return s.AddLine(v, h, text) })
}

func (s *Service) RemoveLineAll(vs []Viewer, h Host, index int) error {
	return forEachViewer(vs, func(v Viewer) error { return s.RemoveLine(v, h, index) })
}

// forEachViewer applies fn to every viewer. Failures do not stop the walk
// and are not rolled back.
func forEachViewer(vs []Viewer, fn func(Viewer) error) error {
	var errs []error
	for _, v := range vs {
		if err := fn(v); err != nil {
			errs = append(errs, fmt.Errorf("viewer %s: %w", v.ID(), err))
		}
	}
	return errors.Join(errs...)
}

// HasTag reports whether v sees a primary tag on h.
func (s *Service) HasTag(h HostID, v ViewerID) bool {
	_, ok := s.st.heads.Get(h, v)
	return ok
}

// Lines returns copies of the decoys of (h, v), primary first.
func (s *Service) Lines(h HostID, v ViewerID) []Decoy {
	lines, ok := s.st.lines.Lines(h, v)
	if !ok {
		return nil
	}
	out := make([]Decoy, len(lines))
	for i, d := range lines {
		out[i] = *d
	}
	return out
}

// LineOffsets returns the vertical offset each line's task stacks on top of
// the species anchor.
func (s *Service) LineOffsets(h HostID, v ViewerID) []float64 {
	lines, ok := s.st.lines.Lines(h, v)
	if !ok {
		return nil
	}
	out := make([]float64, len(lines))
	for i, d := range lines {
		if t, ok := s.st.tasks.Get(d.ID); ok {
			out[i] = t.Offset()
		}
	}
	return out
}

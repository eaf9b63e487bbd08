package ws

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"sync/atomic"

	"holotag.dev/internal/overlay"
	"holotag.dev/internal/protocol"
)

var (
	ErrUnknownViewer = errors.New("ws: viewer is not a websocket session")
	ErrViewerGone    = errors.New("ws: viewer disconnected")
	ErrQueueFull     = errors.New("ws: viewer send queue full")
)

// Transport sends overlay primitives to websocket sessions and implements
// destroy interception for them. It implements overlay.Transport and
// overlay.DestroyMonitor. All methods must run on the loop goroutine.
type Transport struct {
	log   *log.Logger
	clock overlay.Clock

	cullDistance float64
	nextID       atomic.Int32

	managed func(overlay.DecoyID) bool
	onVeto  func(overlay.ViewerID, overlay.DecoyID)

	culled atomic.Uint64
	vetoed atomic.Uint64
}

type TransportConfig struct {
	// CullDistance hides decoys farther than this from the viewer's last
	// VIEW position. Zero disables culling.
	CullDistance float64
}

func NewTransport(cfg TransportConfig, clock overlay.Clock, logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Transport{
		log:          logger,
		clock:        clock,
		cullDistance: cfg.CullDistance,
	}
}

// SetInterceptor installs the predicate consulted before an out-of-band
// destroy reaches a monitored viewer, and a callback for vetoed destroys.
func (t *Transport) SetInterceptor(managed func(overlay.DecoyID) bool, onVeto func(overlay.ViewerID, overlay.DecoyID)) {
	t.managed = managed
	t.onVeto = onVeto
}

func (t *Transport) Culled() uint64 { return t.culled.Load() }
func (t *Transport) Vetoed() uint64 { return t.vetoed.Load() }

func (t *Transport) tick() uint64 {
	if t.clock == nil {
		return 0
	}
	return t.clock.CurrentTick()
}

func session(v overlay.Viewer) (*Session, error) {
	s, ok := v.(*Session)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrUnknownViewer, v)
	}
	return s, nil
}

func wire(p overlay.Vec3) [3]float64 { return [3]float64{p.X, p.Y, p.Z} }

func (t *Transport) Spawn(v overlay.Viewer, text string, base overlay.Vec3, anchorY float64) (overlay.DecoyID, error) {
	s, err := session(v)
	if err != nil {
		return 0, err
	}
	if !s.Online() {
		return 0, ErrViewerGone
	}
	id := overlay.DecoyID(t.nextID.Add(1))
	d := &decoyState{text: text, pos: overlay.Vec3{X: base.X, Y: anchorY, Z: base.Z}}
	s.decoys[id] = d
	if t.outOfRange(s, d.pos) {
		d.hidden = true
		return id, nil
	}
	if !t.sendSpawn(s, id, d) {
		// The client never saw it; show it again on the next move.
		d.hidden = true
	}
	return id, nil
}

func (t *Transport) Move(v overlay.Viewer, id overlay.DecoyID, pos overlay.Vec3) error {
	s, err := session(v)
	if err != nil {
		return err
	}
	d, ok := s.decoys[id]
	if !ok || !s.Online() {
		return nil
	}
	d.pos = pos
	if t.cull(s, id, d) {
		return nil
	}
	if d.hidden {
		if t.sendSpawn(s, id, d) {
			d.hidden = false
		}
		return nil
	}
	s.send(protocol.MoveMsg{
		Type:            protocol.TypeMove,
		ProtocolVersion: protocol.Version,
		Tick:            t.tick(),
		DecoyID:         int32(id),
		Pos:             wire(pos),
	})
	return nil
}

// Despawn always reaches the client: it is the core's own destroy, not an
// out-of-band one. Unknown ids are a no-op so retries are safe.
func (t *Transport) Despawn(v overlay.Viewer, id overlay.DecoyID) error {
	s, err := session(v)
	if err != nil {
		return err
	}
	d, ok := s.decoys[id]
	if !ok {
		return nil
	}
	if !d.hidden && s.Online() {
		if !s.send(protocol.DestroyMsg{
			Type:            protocol.TypeDestroy,
			ProtocolVersion: protocol.Version,
			Tick:            t.tick(),
			DecoyIDs:        []int32{int32(id)},
		}) {
			return ErrQueueFull
		}
	}
	delete(s.decoys, id)
	return nil
}

func (t *Transport) Rename(v overlay.Viewer, id overlay.DecoyID, text string) error {
	s, err := session(v)
	if err != nil {
		return err
	}
	d, ok := s.decoys[id]
	if !ok {
		return fmt.Errorf("rename: unknown decoy %d", id)
	}
	d.text = text
	if d.hidden || !s.Online() {
		return nil
	}
	if !s.send(protocol.RenameMsg{
		Type:            protocol.TypeRename,
		ProtocolVersion: protocol.Version,
		Tick:            t.tick(),
		DecoyID:         int32(id),
		Text:            text,
	}) {
		return ErrQueueFull
	}
	return nil
}

func (t *Transport) sendSpawn(s *Session, id overlay.DecoyID, d *decoyState) bool {
	return s.send(protocol.SpawnMsg{
		Type:            protocol.TypeSpawn,
		ProtocolVersion: protocol.Version,
		Tick:            t.tick(),
		DecoyID:         int32(id),
		Text:            d.text,
		Pos:             wire(d.pos),
	})
}

func (t *Transport) outOfRange(s *Session, p overlay.Vec3) bool {
	if t.cullDistance <= 0 || !s.hasView {
		return false
	}
	dx, dy, dz := p.X-s.view.X, p.Y-s.view.Y, p.Z-s.view.Z
	return math.Sqrt(dx*dx+dy*dy+dz*dz) > t.cullDistance
}

// cull applies view-distance culling to one visible decoy. It reports
// whether the decoy is (now) hidden because it is out of range.
func (t *Transport) cull(s *Session, id overlay.DecoyID, d *decoyState) bool {
	if !t.outOfRange(s, d.pos) {
		d.vetoed = false
		return false
	}
	if d.hidden {
		return true
	}
	return t.destroyOutOfBand(s, id, d)
}

// destroyOutOfBand is the culling layer's own destroy. For monitored
// viewers it is intercepted: managed decoys are kept alive on the client.
func (t *Transport) destroyOutOfBand(s *Session, id overlay.DecoyID, d *decoyState) bool {
	if s.monitored && t.managed != nil && t.managed(id) {
		// Report once per out-of-range stretch, not every tick.
		if !d.vetoed {
			d.vetoed = true
			t.vetoed.Add(1)
			if t.onVeto != nil {
				t.onVeto(s.id, id)
			}
		}
		return false
	}
	if !s.send(protocol.DestroyMsg{
		Type:            protocol.TypeDestroy,
		ProtocolVersion: protocol.Version,
		Tick:            t.tick(),
		DecoyIDs:        []int32{int32(id)},
	}) {
		return false
	}
	d.hidden = true
	t.culled.Add(1)
	return true
}

// SetView records the viewer position and re-applies culling to every decoy
// of the session.
func (t *Transport) SetView(s *Session, pos overlay.Vec3) {
	s.view = pos
	s.hasView = true
	for id, d := range s.decoys {
		if t.cull(s, id, d) {
			continue
		}
		if d.hidden && s.Online() {
			if t.sendSpawn(s, id, d) {
				d.hidden = false
			}
		}
	}
}

func (t *Transport) StartMonitoring(v overlay.Viewer) error {
	s, err := session(v)
	if err != nil {
		return err
	}
	s.monitored = true
	return nil
}

func (t *Transport) StopMonitoring(v overlay.Viewer) error {
	s, err := session(v)
	if err != nil {
		return err
	}
	s.monitored = false
	return nil
}

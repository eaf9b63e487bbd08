// Package console is a transport that writes overlay primitives to a logger
// instead of a network peer. It backs `transport: log` in tuning.yaml and is
// handy for watching overlay behaviour without a client.
package console

import (
	"fmt"
	"io"
	"log"
	"sync/atomic"

	"holotag.dev/internal/overlay"
)

// Viewer is a local, always-connected viewer.
type Viewer struct {
	id     overlay.ViewerID
	online atomic.Bool
}

func NewViewer(id string) *Viewer {
	v := &Viewer{id: overlay.ViewerID(id)}
	v.online.Store(true)
	return v
}

func (v *Viewer) ID() overlay.ViewerID { return v.id }
func (v *Viewer) Online() bool         { return v.online.Load() }

// SetOnline flips the viewer offline (or back), as a disconnect would.
func (v *Viewer) SetOnline(online bool) { v.online.Store(online) }

type Config struct {
	// LogMoves also logs every per-tick move. Off by default; moves happen
	// once per line per tick.
	LogMoves bool
}

type Counters struct {
	Spawns   uint64 `json:"spawns"`
	Moves    uint64 `json:"moves"`
	Despawns uint64 `json:"despawns"`
	Renames  uint64 `json:"renames"`
}

// Transport implements overlay.Transport and overlay.DestroyMonitor.
// Decoy bookkeeping is owned by the loop goroutine; counters are atomic.
type Transport struct {
	cfg Config
	log *log.Logger

	nextID atomic.Int32
	live   map[overlay.DecoyID]overlay.ViewerID

	monitored map[overlay.ViewerID]bool

	spawns, moves, despawns, renames atomic.Uint64
}

func New(cfg Config, logger *log.Logger) *Transport {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Transport{
		cfg:       cfg,
		log:       logger,
		live:      map[overlay.DecoyID]overlay.ViewerID{},
		monitored: map[overlay.ViewerID]bool{},
	}
}

func (t *Transport) Spawn(v overlay.Viewer, text string, base overlay.Vec3, anchorY float64) (overlay.DecoyID, error) {
	if !v.Online() {
		return 0, fmt.Errorf("console: viewer %s offline", v.ID())
	}
	id := overlay.DecoyID(t.nextID.Add(1))
	t.live[id] = v.ID()
	t.spawns.Add(1)
	t.log.Printf("spawn viewer=%s decoy=%d text=%q pos=(%.3f, %.3f, %.3f)", v.ID(), id, text, base.X, anchorY, base.Z)
	return id, nil
}

func (t *Transport) Move(v overlay.Viewer, id overlay.DecoyID, pos overlay.Vec3) error {
	if _, ok := t.live[id]; !ok {
		return nil
	}
	t.moves.Add(1)
	if t.cfg.LogMoves {
		t.log.Printf("move viewer=%s decoy=%d pos=(%.3f, %.3f, %.3f)", v.ID(), id, pos.X, pos.Y, pos.Z)
	}
	return nil
}

func (t *Transport) Despawn(v overlay.Viewer, id overlay.DecoyID) error {
	if _, ok := t.live[id]; !ok {
		return nil
	}
	delete(t.live, id)
	t.despawns.Add(1)
	t.log.Printf("despawn viewer=%s decoy=%d", v.ID(), id)
	return nil
}

func (t *Transport) Rename(v overlay.Viewer, id overlay.DecoyID, text string) error {
	if _, ok := t.live[id]; !ok {
		return fmt.Errorf("console: rename unknown decoy %d", id)
	}
	t.renames.Add(1)
	t.log.Printf("rename viewer=%s decoy=%d text=%q", v.ID(), id, text)
	return nil
}

// Nothing out-of-band ever destroys a console decoy, so monitoring only
// tracks who is attached.
func (t *Transport) StartMonitoring(v overlay.Viewer) error {
	t.monitored[v.ID()] = true
	return nil
}

func (t *Transport) StopMonitoring(v overlay.Viewer) error {
	delete(t.monitored, v.ID())
	return nil
}

func (t *Transport) Monitored(id overlay.ViewerID) bool { return t.monitored[id] }

// Live reports how many decoys are currently spawned. Loop goroutine only.
func (t *Transport) Live() int { return len(t.live) }

func (t *Transport) Counters() Counters {
	return Counters{
		Spawns:   t.spawns.Load(),
		Moves:    t.moves.Load(),
		Despawns: t.despawns.Load(),
		Renames:  t.renames.Load(),
	}
}

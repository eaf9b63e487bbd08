package world

import (
	"fmt"
	"io"
	"log"
	"math"
	"sort"
	"strings"

	"holotag.dev/internal/overlay"
	"holotag.dev/internal/sched"
)

const ChunkSize = 16

type Config struct {
	// CorpseTicks is how long a dead entity stays in the world before it is
	// removed. Overlay tasks notice death on their own in the meantime.
	CorpseTicks int
}

type ChunkKey struct {
	CX int
	CZ int
}

func ChunkOf(p overlay.Vec3) ChunkKey {
	return ChunkKey{
		CX: int(math.Floor(p.X / ChunkSize)),
		CZ: int(math.Floor(p.Z / ChunkSize)),
	}
}

// World is a minimal host world: entities with a species, a position and
// health, living in chunks that can be unloaded.
// All state must be accessed only from the loop goroutine.
type World struct {
	cfg Config
	log *log.Logger

	tick     uint64
	entities map[overlay.HostID]*Entity
	unloaded map[ChunkKey]bool

	onRemove func(overlay.HostID)
}

func New(cfg Config, logger *log.Logger) *World {
	if cfg.CorpseTicks <= 0 {
		cfg.CorpseTicks = 20
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &World{
		cfg:      cfg,
		log:      logger,
		entities: map[overlay.HostID]*Entity{},
		unloaded: map[ChunkKey]bool{},
	}
}

// SetRemoveHook registers fn to run whenever an entity leaves the world.
func (w *World) SetRemoveHook(fn func(overlay.HostID)) { w.onRemove = fn }

// Attach schedules the world step on s. Attach before any overlay task so
// tasks read positions already advanced for the tick.
func (w *World) Attach(s overlay.Scheduler) sched.TaskID {
	return s.ScheduleRepeating(w.Step, 1)
}

func (w *World) CurrentTick() uint64 { return w.tick }

type SpawnSpec struct {
	ID       string
	Species  string
	Pos      overlay.Vec3
	Velocity overlay.Vec3
	Health   int
}

func (w *World) Spawn(spec SpawnSpec) (*Entity, error) {
	id := overlay.HostID(strings.TrimSpace(spec.ID))
	if id == "" {
		return nil, fmt.Errorf("spawn: empty entity id")
	}
	if _, ok := w.entities[id]; ok {
		return nil, fmt.Errorf("spawn: entity %q already exists", id)
	}
	health := spec.Health
	if health <= 0 {
		health = 20
	}
	e := &Entity{
		w:         w,
		id:        id,
		species:   strings.ToUpper(strings.TrimSpace(spec.Species)),
		pos:       spec.Pos,
		vel:       spec.Velocity,
		health:    health,
		maxHealth: health,
	}
	w.entities[id] = e
	return e, nil
}

func (w *World) Get(id overlay.HostID) (*Entity, bool) {
	e, ok := w.entities[id]
	return e, ok
}

// Entities returns every entity sorted by id.
func (w *World) Entities() []*Entity {
	out := make([]*Entity, 0, len(w.entities))
	for _, e := range w.entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (w *World) Len() int { return len(w.entities) }

// Damage lowers health; reaching zero kills the entity.
func (w *World) Damage(id overlay.HostID, amount int) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("damage: unknown entity %q", id)
	}
	if e.Dead() || amount <= 0 {
		return nil
	}
	e.health -= amount
	if e.health <= 0 {
		e.health = 0
		e.diedAt = w.tick
		w.log.Printf("entity %s (%s) died at tick %d", e.id, e.species, w.tick)
	}
	return nil
}

func (w *World) Teleport(id overlay.HostID, pos overlay.Vec3) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("teleport: unknown entity %q", id)
	}
	e.pos = pos
	return nil
}

func (w *World) SetVelocity(id overlay.HostID, vel overlay.Vec3) error {
	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("velocity: unknown entity %q", id)
	}
	e.vel = vel
	return nil
}

func (w *World) SetChunkLoaded(k ChunkKey, loaded bool) {
	if loaded {
		delete(w.unloaded, k)
		return
	}
	w.unloaded[k] = true
}

func (w *World) ChunkLoaded(k ChunkKey) bool { return !w.unloaded[k] }

// Remove takes an entity out of the world and fires the remove hook.
func (w *World) Remove(id overlay.HostID) bool {
	if _, ok := w.entities[id]; !ok {
		return false
	}
	delete(w.entities, id)
	if w.onRemove != nil {
		w.onRemove(id)
	}
	return true
}

// Step advances one tick: living entities in loaded chunks move by their
// velocity, corpses past CorpseTicks are removed.
func (w *World) Step() {
	w.tick++
	var corpses []overlay.HostID
	for _, e := range w.Entities() {
		if e.Dead() {
			if w.tick-e.diedAt >= uint64(w.cfg.CorpseTicks) {
				corpses = append(corpses, e.id)
			}
			continue
		}
		if !e.ChunkLoaded() || e.vel == (overlay.Vec3{}) {
			continue
		}
		e.pos = overlay.Vec3{X: e.pos.X + e.vel.X, Y: e.pos.Y + e.vel.Y, Z: e.pos.Z + e.vel.Z}
	}
	for _, id := range corpses {
		w.Remove(id)
	}
}

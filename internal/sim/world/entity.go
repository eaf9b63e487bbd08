package world

import "holotag.dev/internal/overlay"

// Entity is a world entity. It implements overlay.Host.
type Entity struct {
	w *World

	id      overlay.HostID
	species string
	pos     overlay.Vec3
	vel     overlay.Vec3

	health    int
	maxHealth int
	diedAt    uint64
}

func (e *Entity) ID() overlay.HostID     { return e.id }
func (e *Entity) Species() string        { return e.species }
func (e *Entity) Position() overlay.Vec3 { return e.pos }
func (e *Entity) Velocity() overlay.Vec3 { return e.vel }
func (e *Entity) Health() int            { return e.health }
func (e *Entity) MaxHealth() int         { return e.maxHealth }
func (e *Entity) Dead() bool             { return e.health <= 0 }

func (e *Entity) ChunkLoaded() bool { return e.w.ChunkLoaded(ChunkOf(e.pos)) }

type EntityView struct {
	ID          string     `json:"id"`
	Species     string     `json:"species"`
	Pos         [3]float64 `json:"pos"`
	Health      int        `json:"health"`
	Dead        bool       `json:"dead"`
	ChunkLoaded bool       `json:"chunk_loaded"`
}

func (e *Entity) View() EntityView {
	return EntityView{
		ID:          string(e.id),
		Species:     e.species,
		Pos:         [3]float64{e.pos.X, e.pos.Y, e.pos.Z},
		Health:      e.health,
		Dead:        e.Dead(),
		ChunkLoaded: e.ChunkLoaded(),
	}
}

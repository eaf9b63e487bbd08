package overlay

import "strings"

const (
	DefaultLineGap   = 0.245
	DefaultMarkerGap = 1.9

	DefaultSpecies = "ZOMBIE"
)

// Hitbox height offsets per species, relative to the marker gap.
var defaultSpeciesOffsets = map[string]float64{
	"ZOMBIE":       -0.1,
	"CREEPER":      -0.5,
	"SKELETON":     -0.15,
	"SPIDER":       -1.25,
	"SLIME":        0,
	"GHAST":        2.5,
	"ENDERMAN":     0.6,
	"CAVE_SPIDER":  -1.5,
	"SILVERFISH":   -1.875,
	"BLAZE":        -0.35,
	"MAGMA_CUBE":   0,
	"BAT":          -1.65,
	"WITCH":        0.25,
	"ENDERMITE":    -1.875,
	"GUARDIAN":     -1.1,
	"PIG":          -1.25,
	"SHEEP":        -0.85,
	"COW":          -0.75,
	"CHICKEN":      -1.3,
	"SQUID":        -1.25,
	"WOLF":         -1.25,
	"OCELOT":       -1.4,
	"MUSHROOM_COW": -0.55,
	"HORSE":        -0.5,
	"RABBIT":       -1.25,
	"VILLAGER":     -0.15,
	"WITHER":       1.425,
	"ENDER_DRAGON": 1.35,
	"PLAYER":       0.075,
	"DROPPED_ITEM": -1.65,
}

// SpeciesTable maps a species tag to the vertical anchor of its first line.
type SpeciesTable struct {
	offsets   map[string]float64
	markerGap float64
}

// NewSpeciesTable returns the built-in table with overrides applied.
// A markerGap <= 0 selects DefaultMarkerGap.
func NewSpeciesTable(overrides map[string]float64, markerGap float64) *SpeciesTable {
	if markerGap <= 0 {
		markerGap = DefaultMarkerGap
	}
	m := make(map[string]float64, len(defaultSpeciesOffsets)+len(overrides))
	for k, v := range defaultSpeciesOffsets {
		m[k] = v
	}
	for k, v := range overrides {
		m[normalizeSpecies(k)] = v
	}
	return &SpeciesTable{offsets: m, markerGap: markerGap}
}

// Offset returns the hitbox offset of a species; unknown species use the
// DefaultSpecies entry.
func (t *SpeciesTable) Offset(species string) float64 {
	if v, ok := t.offsets[normalizeSpecies(species)]; ok {
		return v
	}
	return t.offsets[DefaultSpecies]
}

func (t *SpeciesTable) Known(species string) bool {
	_, ok := t.offsets[normalizeSpecies(species)]
	return ok
}

// Anchor is the y distance between a host's feet and its primary line.
func (t *SpeciesTable) Anchor(species string) float64 {
	return t.Offset(species) + t.markerGap
}

func (t *SpeciesTable) Len() int { return len(t.offsets) }

func normalizeSpecies(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

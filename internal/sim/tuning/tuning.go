package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	TransportWS  = "ws"
	TransportLog = "log"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`

	LineGap        float64            `yaml:"line_gap"`
	MarkerGap      float64            `yaml:"marker_gap"`
	PrimaryScope   string             `yaml:"primary_scope"`
	DespawnRetries int                `yaml:"despawn_retries"`
	SpeciesOffsets map[string]float64 `yaml:"species_offsets,omitempty"`

	Transport    string  `yaml:"transport"`
	CullDistance float64 `yaml:"cull_distance"`
	MaxQueue     int     `yaml:"max_queue"`

	// Entities seeds the host world at startup.
	Entities []EntitySpec `yaml:"entities,omitempty"`
}

type EntitySpec struct {
	ID      string     `yaml:"id"`
	Species string     `yaml:"species"`
	Pos     [3]float64 `yaml:"pos"`
	// Velocity in blocks per tick; zero keeps the entity still.
	Velocity [3]float64 `yaml:"velocity,omitempty"`
	Health   int        `yaml:"health"`
	Tag      string     `yaml:"tag,omitempty"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      20,
		LineGap:         0.245,
		MarkerGap:       1.9,
		PrimaryScope:    "host",
		DespawnRetries:  2,
		Transport:       TransportWS,
		CullDistance:    64,
		MaxQueue:        256,
	}
}

// Load reads path over Defaults. An empty path returns the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if t.ProtocolVersion == "" {
		t.ProtocolVersion = d.ProtocolVersion
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = d.TickRateHz
	}
	if t.LineGap <= 0 {
		t.LineGap = d.LineGap
	}
	if t.MarkerGap <= 0 {
		t.MarkerGap = d.MarkerGap
	}
	t.PrimaryScope = strings.ToLower(strings.TrimSpace(t.PrimaryScope))
	if t.PrimaryScope == "" {
		t.PrimaryScope = d.PrimaryScope
	}
	t.Transport = strings.ToLower(strings.TrimSpace(t.Transport))
	if t.Transport == "" {
		t.Transport = d.Transport
	}
	if t.MaxQueue <= 0 {
		t.MaxQueue = d.MaxQueue
	}
	for i := range t.Entities {
		t.Entities[i].ID = strings.TrimSpace(t.Entities[i].ID)
		t.Entities[i].Species = strings.ToUpper(strings.TrimSpace(t.Entities[i].Species))
		if t.Entities[i].Health <= 0 {
			t.Entities[i].Health = 20
		}
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz %d out of range", t.TickRateHz)
	}
	switch t.PrimaryScope {
	case "host", "viewer":
	default:
		return fmt.Errorf("primary_scope %q: want host or viewer", t.PrimaryScope)
	}
	switch t.Transport {
	case TransportWS, TransportLog:
	default:
		return fmt.Errorf("transport %q: want %s or %s", t.Transport, TransportWS, TransportLog)
	}
	if t.DespawnRetries < 0 {
		return fmt.Errorf("despawn_retries must be >= 0")
	}
	if t.CullDistance < 0 {
		return fmt.Errorf("cull_distance must be >= 0")
	}
	seen := map[string]bool{}
	for _, e := range t.Entities {
		if e.ID == "" {
			return fmt.Errorf("entity with empty id")
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate entity id %q", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

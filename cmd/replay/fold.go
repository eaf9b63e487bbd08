package main

import (
	"fmt"
	"sort"

	"holotag.dev/internal/overlay"
)

type liveDecoy struct {
	Host   overlay.HostID
	Viewer overlay.ViewerID
	Decoy  overlay.DecoyID
	Line   int
	Text   string
}

// fold rebuilds the set of spawned decoys from an overlay event stream and
// records events that contradict it.
type fold struct {
	decoys map[overlay.DecoyID]*liveDecoy

	counts    map[string]int
	total     int
	lastTick  uint64
	anomalies []string
}

func newFold() *fold {
	return &fold{
		decoys: map[overlay.DecoyID]*liveDecoy{},
		counts: map[string]int{},
	}
}

func (f *fold) anomaly(e overlay.Event, format string, args ...any) {
	f.anomalies = append(f.anomalies, fmt.Sprintf("tick %d %s decoy=%d: ", e.Tick, e.Kind, e.Decoy)+fmt.Sprintf(format, args...))
}

func (f *fold) apply(e overlay.Event) {
	f.total++
	f.counts[e.Kind]++
	if e.Tick < f.lastTick {
		f.anomaly(e, "tick went backwards from %d", f.lastTick)
	}
	f.lastTick = e.Tick

	switch e.Kind {
	case overlay.EventSpawn:
		if d, ok := f.decoys[e.Decoy]; ok {
			f.anomaly(e, "already live on %s/%s", d.Host, d.Viewer)
		}
		f.decoys[e.Decoy] = &liveDecoy{Host: e.Host, Viewer: e.Viewer, Decoy: e.Decoy, Line: e.Line, Text: e.Text}
	case overlay.EventDespawn:
		if _, ok := f.decoys[e.Decoy]; !ok {
			f.anomaly(e, "despawn of unknown decoy")
		}
		delete(f.decoys, e.Decoy)
	case overlay.EventRename:
		d, ok := f.decoys[e.Decoy]
		if !ok {
			f.anomaly(e, "rename of unknown decoy")
			return
		}
		d.Text = e.Text
	case overlay.EventReindex:
		d, ok := f.decoys[e.Decoy]
		if !ok {
			f.anomaly(e, "reindex of unknown decoy")
			return
		}
		d.Line = e.Line
	case overlay.EventDropHost:
		// Despawns were logged one by one; whatever is left failed to despawn.
		for id, d := range f.decoys {
			if d.Host == e.Host {
				delete(f.decoys, id)
			}
		}
	case overlay.EventDropViewer:
		// A viewer that quit gets no despawns.
		for id, d := range f.decoys {
			if d.Viewer == e.Viewer {
				delete(f.decoys, id)
			}
		}
	}
}

// live returns the decoys still spawned, ordered by host, viewer and line.
func (f *fold) live() []liveDecoy {
	out := make([]liveDecoy, 0, len(f.decoys))
	for _, d := range f.decoys {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		if a.Viewer != b.Viewer {
			return a.Viewer < b.Viewer
		}
		return a.Line < b.Line
	})
	return out
}

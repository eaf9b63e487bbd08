package overlay

import "sort"

// pairMap is a two-level host -> viewer map that never keeps an empty
// per-host map around.
type pairMap[T any] map[HostID]map[ViewerID]T

func (m pairMap[T]) get(h HostID, v ViewerID) (T, bool) {
	byViewer, ok := m[h]
	if !ok {
		var zero T
		return zero, false
	}
	val, ok := byViewer[v]
	return val, ok
}

func (m pairMap[T]) put(h HostID, v ViewerID, val T) {
	byViewer, ok := m[h]
	if !ok {
		byViewer = map[ViewerID]T{}
		m[h] = byViewer
	}
	byViewer[v] = val
}

func (m pairMap[T]) del(h HostID, v ViewerID) (T, bool) {
	byViewer, ok := m[h]
	if !ok {
		var zero T
		return zero, false
	}
	val, ok := byViewer[v]
	if !ok {
		return val, false
	}
	delete(byViewer, v)
	if len(byViewer) == 0 {
		delete(m, h)
	}
	return val, true
}

func (m pairMap[T]) viewers(h HostID) []ViewerID {
	byViewer, ok := m[h]
	if !ok {
		return nil
	}
	out := make([]ViewerID, 0, len(byViewer))
	for v := range byViewer {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m pairMap[T]) hosts() []HostID {
	out := make([]HostID, 0, len(m))
	for h := range m {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package overlay

// IDRegistry is the set of decoy ids the core still considers alive.
// It is consulted for every out-of-band destroy notification, so membership
// is a map lookup.
type IDRegistry struct {
	ids map[DecoyID]struct{}
}

func NewIDRegistry() *IDRegistry {
	return &IDRegistry{ids: map[DecoyID]struct{}{}}
}

func (r *IDRegistry) Contains(id DecoyID) bool {
	_, ok := r.ids[id]
	return ok
}

func (r *IDRegistry) Add(id DecoyID)    { r.ids[id] = struct{}{} }
func (r *IDRegistry) Remove(id DecoyID) { delete(r.ids, id) }
func (r *IDRegistry) Len() int          { return len(r.ids) }

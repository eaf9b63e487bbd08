package overlay

// HeadSlots maps (host, viewer) to the primary decoy (line 0).
type HeadSlots struct {
	m   pairMap[*Decoy]
	ids *IDRegistry
}

func NewHeadSlots(ids *IDRegistry) *HeadSlots {
	return &HeadSlots{m: pairMap[*Decoy]{}, ids: ids}
}

func (c *HeadSlots) Get(h HostID, v ViewerID) (*Decoy, bool) { return c.m.get(h, v) }

// Viewers returns the viewers holding a primary tag on h, sorted.
func (c *HeadSlots) Viewers(h HostID) []ViewerID { return c.m.viewers(h) }

// Has reports whether any viewer holds a primary tag on h.
func (c *HeadSlots) Has(h HostID) bool {
	_, ok := c.m[h]
	return ok
}

func (c *HeadSlots) Put(h HostID, v ViewerID, d *Decoy) {
	if old, ok := c.m.get(h, v); ok && old != d {
		c.ids.Remove(old.ID)
	}
	c.m.put(h, v, d)
	c.ids.Add(d.ID)
}

// Remove drops every entry of h and returns the removed decoys by viewer.
func (c *HeadSlots) Remove(h HostID) map[ViewerID]*Decoy {
	byViewer, ok := c.m[h]
	if !ok {
		return nil
	}
	delete(c.m, h)
	for _, d := range byViewer {
		c.ids.Remove(d.ID)
	}
	return byViewer
}

// RemoveViewer drops v from every host. It walks a snapshot of the host keys
// since emptied hosts are deleted from the live map during the walk.
func (c *HeadSlots) RemoveViewer(v ViewerID) []*Decoy {
	var out []*Decoy
	for _, h := range c.m.hosts() {
		if d, ok := c.m.del(h, v); ok {
			c.ids.Remove(d.ID)
			out = append(out, d)
		}
	}
	return out
}

func (c *HeadSlots) RemoveDecoyForViewer(h HostID, v ViewerID) (*Decoy, bool) {
	d, ok := c.m.del(h, v)
	if ok {
		c.ids.Remove(d.ID)
	}
	return d, ok
}

// ForViewer returns every primary decoy shown to v.
func (c *HeadSlots) ForViewer(v ViewerID) []*Decoy {
	var out []*Decoy
	for _, h := range c.m.hosts() {
		if d, ok := c.m.get(h, v); ok {
			out = append(out, d)
		}
	}
	return out
}

func (c *HeadSlots) Hosts() []HostID { return c.m.hosts() }

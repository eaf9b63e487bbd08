package overlay

// LineStacks maps (host, viewer) to the ordered decoys of every line,
// index 0 being the primary tag. A stored stack is never empty.
type LineStacks struct {
	m   pairMap[[]*Decoy]
	ids *IDRegistry
}

func NewLineStacks(ids *IDRegistry) *LineStacks {
	return &LineStacks{m: pairMap[[]*Decoy]{}, ids: ids}
}

// Lines returns a copy of the stack for (h, v).
func (c *LineStacks) Lines(h HostID, v ViewerID) ([]*Decoy, bool) {
	lines, ok := c.m.get(h, v)
	if !ok {
		return nil, false
	}
	out := make([]*Decoy, len(lines))
	copy(out, lines)
	return out, true
}

func (c *LineStacks) Len(h HostID, v ViewerID) int {
	lines, _ := c.m.get(h, v)
	return len(lines)
}

func (c *LineStacks) Get(h HostID, v ViewerID, index int) (*Decoy, bool) {
	lines, ok := c.m.get(h, v)
	if !ok || index < 0 || index >= len(lines) {
		return nil, false
	}
	return lines[index], true
}

func (c *LineStacks) Last(h HostID, v ViewerID) (*Decoy, bool) {
	lines, ok := c.m.get(h, v)
	if !ok {
		return nil, false
	}
	return lines[len(lines)-1], true
}

func (c *LineStacks) Viewers(h HostID) []ViewerID { return c.m.viewers(h) }

// Append adds d as the next line of (h, v) and returns its index.
func (c *LineStacks) Append(h HostID, v ViewerID, d *Decoy) int {
	lines, _ := c.m.get(h, v)
	lines = append(lines, d)
	c.m.put(h, v, lines)
	c.ids.Add(d.ID)
	return len(lines) - 1
}

// RemoveAt removes one line and returns it. Removing the last remaining line
// drops the (h, v) entry.
func (c *LineStacks) RemoveAt(h HostID, v ViewerID, index int) (*Decoy, bool) {
	lines, ok := c.m.get(h, v)
	if !ok || index < 0 || index >= len(lines) {
		return nil, false
	}
	d := lines[index]
	rest := make([]*Decoy, 0, len(lines)-1)
	rest = append(rest, lines[:index]...)
	rest = append(rest, lines[index+1:]...)
	if len(rest) == 0 {
		c.m.del(h, v)
	} else {
		c.m.put(h, v, rest)
	}
	c.ids.Remove(d.ID)
	return d, true
}

// Remove drops every stack of h and returns them by viewer.
func (c *LineStacks) Remove(h HostID) map[ViewerID][]*Decoy {
	byViewer, ok := c.m[h]
	if !ok {
		return nil
	}
	delete(c.m, h)
	for _, lines := range byViewer {
		for _, d := range lines {
			c.ids.Remove(d.ID)
		}
	}
	return byViewer
}

// RemoveViewer drops v's stacks from every host, walking a snapshot of the
// host keys, and returns the released decoys.
func (c *LineStacks) RemoveViewer(v ViewerID) []*Decoy {
	var out []*Decoy
	for _, h := range c.m.hosts() {
		lines, ok := c.m.del(h, v)
		if !ok {
			continue
		}
		for _, d := range lines {
			c.ids.Remove(d.ID)
		}
		out = append(out, lines...)
	}
	return out
}

func (c *LineStacks) RemoveDecoyForViewer(h HostID, v ViewerID) ([]*Decoy, bool) {
	lines, ok := c.m.del(h, v)
	if !ok {
		return nil, false
	}
	for _, d := range lines {
		c.ids.Remove(d.ID)
	}
	return lines, true
}

// ForViewer returns every stack shown to v.
func (c *LineStacks) ForViewer(v ViewerID) [][]*Decoy {
	var out [][]*Decoy
	for _, h := range c.m.hosts() {
		if lines, ok := c.m.get(h, v); ok {
			out = append(out, lines)
		}
	}
	return out
}

func (c *LineStacks) Hosts() []HostID { return c.m.hosts() }

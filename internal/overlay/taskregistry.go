package overlay

// TaskRegistry maps a decoy id to the task currently reconciling it.
type TaskRegistry struct {
	m map[DecoyID]*Task
}

func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{m: map[DecoyID]*Task{}}
}

func (r *TaskRegistry) Get(id DecoyID) (*Task, bool) {
	t, ok := r.m[id]
	return t, ok
}

func (r *TaskRegistry) put(id DecoyID, t *Task) {
	if old, ok := r.m[id]; ok && old != t {
		old.Clear()
	}
	r.m[id] = t
}

// take unregisters and returns the task of id.
func (r *TaskRegistry) take(id DecoyID) (*Task, bool) {
	t, ok := r.m[id]
	if ok {
		delete(r.m, id)
	}
	return t, ok
}

// forget drops id only while it still points at t.
func (r *TaskRegistry) forget(id DecoyID, t *Task) {
	if cur, ok := r.m[id]; ok && cur == t {
		delete(r.m, id)
	}
}

func (r *TaskRegistry) Len() int { return len(r.m) }

package overlay

const (
	EventSpawn      = "SPAWN"
	EventDespawn    = "DESPAWN"
	EventRename     = "RENAME"
	EventReindex    = "REINDEX"
	EventDropHost   = "DROP_HOST"
	EventDropViewer = "DROP_VIEWER"
	EventVeto       = "VETO"
	EventReject     = "REJECT"
)

// Event is one overlay lifecycle record, written to the optional sinks.
type Event struct {
	Tick   uint64   `json:"tick"`
	Kind   string   `json:"kind"`
	Host   HostID   `json:"host,omitempty"`
	Viewer ViewerID `json:"viewer,omitempty"`
	Decoy  DecoyID  `json:"decoy,omitempty"`
	Line   int      `json:"line"`
	Text   string   `json:"text,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// EventSink receives overlay events. Implemented in internal/persistence/*.
type EventSink interface {
	WriteEvent(e Event) error
}

// Clock reports the current scheduler tick.
type Clock interface {
	CurrentTick() uint64
}

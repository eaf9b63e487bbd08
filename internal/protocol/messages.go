package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type              string            `json:"type"`
	ProtocolVersion   string            `json:"protocol_version"`
	SupportedVersions []string          `json:"supported_versions,omitempty"`
	ViewerName        string            `json:"viewer_name"`
	Capabilities      HelloCapabilities `json:"capabilities"`
}

type HelloCapabilities struct {
	MaxQueue int `json:"max_queue,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ViewerID        string `json:"viewer_id"`
	TickRateHz      int    `json:"tick_rate_hz"`
	CullDistance    int    `json:"cull_distance"`
}

// VIEW (client -> server): where the viewer is looking from. Drives
// view-distance culling.
type ViewMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Pos             [3]float64 `json:"pos"`
}

// SPAWN (server -> client): create an invisible marker carrying text.
type SpawnMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	DecoyID         int32      `json:"decoy_id"`
	Text            string     `json:"text"`
	Pos             [3]float64 `json:"pos"`
}

// MOVE (server -> client)
type MoveMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Tick            uint64     `json:"tick"`
	DecoyID         int32      `json:"decoy_id"`
	Pos             [3]float64 `json:"pos"`
}

// DESTROY (server -> client)
type DestroyMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	Tick            uint64  `json:"tick"`
	DecoyIDs        []int32 `json:"decoy_ids"`
}

// RENAME (server -> client)
type RenameMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`
	DecoyID         int32  `json:"decoy_id"`
	Text            string `json:"text"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}

func NewError(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}

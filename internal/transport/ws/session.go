package ws

import (
	"encoding/json"
	"sync/atomic"

	"holotag.dev/internal/overlay"
)

type decoyState struct {
	text   string
	pos    overlay.Vec3
	hidden bool
	vetoed bool
}

// Session is one connected viewer. It implements overlay.Viewer.
//
// id, sessionID, name and out are immutable after the handshake. online and
// the drop counter are atomic. Everything else is owned by the loop goroutine.
type Session struct {
	id        overlay.ViewerID
	sessionID string
	name      string

	out     chan []byte
	online  atomic.Bool
	dropped atomic.Uint64

	view      overlay.Vec3
	hasView   bool
	monitored bool
	decoys    map[overlay.DecoyID]*decoyState
}

func newSession(id overlay.ViewerID, sessionID, name string, queue int) *Session {
	s := &Session{
		id:        id,
		sessionID: sessionID,
		name:      name,
		out:       make(chan []byte, queue),
		decoys:    map[overlay.DecoyID]*decoyState{},
	}
	s.online.Store(true)
	return s
}

func (s *Session) ID() overlay.ViewerID { return s.id }
func (s *Session) Online() bool         { return s.online.Load() }
func (s *Session) SessionID() string    { return s.sessionID }
func (s *Session) Name() string         { return s.name }
func (s *Session) Dropped() uint64      { return s.dropped.Load() }

// Out is the frame queue drained by the connection writer.
func (s *Session) Out() <-chan []byte { return s.out }

// send queues one frame without blocking. A full queue drops the frame and
// reports false.
func (s *Session) send(v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		return false
	}
	select {
	case s.out <- b:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Visible returns the ids of decoys currently shown on the client.
func (s *Session) Visible() []overlay.DecoyID {
	out := make([]overlay.DecoyID, 0, len(s.decoys))
	for id, d := range s.decoys {
		if !d.hidden {
			out = append(out, id)
		}
	}
	return out
}

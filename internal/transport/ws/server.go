package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"holotag.dev/internal/overlay"
	"holotag.dev/internal/protocol"
)

// Loop is the part of sched.Loop the server needs.
type Loop interface {
	Call(ctx context.Context, fn func()) error
	Submit(fn func()) bool
}

// SessionRecorder is notified when a viewer session opens or closes.
type SessionRecorder interface {
	RecordSession(sessionID, viewerID, name, event string)
}

type ServerConfig struct {
	TickRateHz   int
	CullDistance float64
	// MaxQueue caps the per-session send queue a client may ask for.
	MaxQueue int
}

type Server struct {
	loop Loop
	svc  *overlay.Service
	tr   *Transport
	cfg  ServerConfig
	log  *log.Logger

	recorders []SessionRecorder
	onJoin    func(*Session)

	upgrader websocket.Upgrader

	nextViewer atomic.Uint64

	mu       sync.Mutex
	sessions map[overlay.ViewerID]*Session
}

func NewServer(loop Loop, svc *overlay.Service, tr *Transport, cfg ServerConfig, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = 256
	}
	return &Server{
		loop: loop,
		svc:  svc,
		tr:   tr,
		cfg:  cfg,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		sessions: map[overlay.ViewerID]*Session{},
	}
}

func (s *Server) AddRecorder(r SessionRecorder) {
	if r != nil {
		s.recorders = append(s.recorders, r)
	}
}

// OnJoin registers fn to run on the loop goroutine right after a viewer
// joined, before WELCOME is sent.
func (s *Server) OnJoin(fn func(*Session)) { s.onJoin = fn }

// Session returns the connected session with the given viewer id.
func (s *Server) Session(id overlay.ViewerID) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Sessions returns the connected sessions ordered by viewer id.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (s *Server) record(sess *Session, event string) {
	for _, r := range s.recorders {
		r.RecordSession(sess.sessionID, string(sess.id), sess.name, event)
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(r.Context(), conn)
		if sess == nil {
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						_ = conn.Close()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if ctx.Err() != nil {
				break
			}
			s.handleFrame(sess, msg)
		}

		// Cleanup.
		cancel()
		<-writerDone
		s.leave(sess)
	}
}

func (s *Server) handleFrame(sess *Session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		sess.send(protocol.NewError(protocol.ErrProtoBadRequest, "malformed frame"))
		return
	}
	if base.ProtocolVersion != protocol.Version {
		sess.send(protocol.NewError(protocol.ErrProtoUnsupported, "bad protocol_version"))
		return
	}
	switch base.Type {
	case protocol.TypeView:
		var view protocol.ViewMsg
		if err := json.Unmarshal(msg, &view); err != nil {
			sess.send(protocol.NewError(protocol.ErrBadRequest, "bad VIEW"))
			return
		}
		pos := overlay.Vec3{X: view.Pos[0], Y: view.Pos[1], Z: view.Pos[2]}
		if !s.loop.Submit(func() { s.tr.SetView(sess, pos) }) {
			sess.send(protocol.NewError(protocol.ErrBusy, "server busy"))
		}
	default:
		sess.send(protocol.NewError(protocol.ErrBadRequest, fmt.Sprintf("unexpected %s", base.Type)))
	}
}

func (s *Server) leave(sess *Session) {
	sess.online.Store(false)

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.loop.Call(ctx, func() {
		if err := s.svc.ViewerLeft(sess); err != nil {
			s.log.Printf("viewer %s leave: %v", sess.id, err)
		}
	})
	if err != nil {
		s.log.Printf("viewer %s leave: %v", sess.id, err)
	}
	s.record(sess, "close")
	s.log.Printf("viewer %s (%s) disconnected dropped=%d", sess.id, sess.name, sess.Dropped())
}

func (s *Server) handshake(ctx context.Context, conn *websocket.Conn) *Session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}

	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}
	if !supportsVersion(hello) {
		_ = writeJSON(conn, protocol.NewError(protocol.ErrProtoUnsupported, "unsupported protocol_version"))
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}
	name := strings.TrimSpace(hello.ViewerName)
	if name == "" {
		name = "viewer"
	}

	maxQ := hello.Capabilities.MaxQueue
	if maxQ <= 0 {
		maxQ = 64
	}
	if maxQ > s.cfg.MaxQueue {
		maxQ = s.cfg.MaxQueue
	}

	id := overlay.ViewerID(fmt.Sprintf("V%d", s.nextViewer.Add(1)))
	sess := newSession(id, uuid.NewString(), name, maxQ)

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	var joinErr error
	err = s.loop.Call(callCtx, func() {
		joinErr = s.svc.ViewerJoined(sess)
		if joinErr == nil && s.onJoin != nil {
			s.onJoin(sess)
		}
	})
	if err == nil {
		err = joinErr
	}
	if err != nil {
		s.log.Printf("viewer %s join: %v", id, err)
		_ = writeJSON(conn, protocol.NewError(protocol.ErrInternal, "join failed"))
		closeWith(conn, websocket.CloseInternalServerErr, "join failed")
		// The join may still run later; make sure it is undone.
		sess.online.Store(false)
		s.loop.Submit(func() { _ = s.svc.ViewerLeft(sess) })
		return nil
	}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	s.record(sess, "open")
	s.log.Printf("viewer %s (%s) connected session=%s queue=%d", id, name, sess.sessionID, maxQ)

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.sessionID,
		ViewerID:        string(id),
		TickRateHz:      s.cfg.TickRateHz,
		CullDistance:    int(s.cfg.CullDistance),
	}
	if err := writeJSON(conn, welcome); err != nil {
		s.leave(sess)
		return nil
	}
	return sess
}

func supportsVersion(hello protocol.HelloMsg) bool {
	if hello.ProtocolVersion == protocol.Version {
		return true
	}
	for _, v := range hello.SupportedVersions {
		if v == protocol.Version {
			return true
		}
	}
	return false
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	}
	return nil
}

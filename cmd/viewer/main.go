package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"holotag.dev/internal/protocol"
)

func main() {
	var (
		url      = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name     = flag.String("name", "viewer", "viewer name")
		view     = flag.String("view", "", "x,y,z view position sent periodically (empty: never)")
		every    = flag.Duration("view_every", 2*time.Second, "VIEW interval")
		maxQueue = flag.Int("max_queue", 64, "requested outbound queue size")
		moves    = flag.Bool("moves", false, "print MOVE frames")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[viewer] ", log.LstdFlags|log.Lmicroseconds)

	var viewPos *[3]float64
	if s := strings.TrimSpace(*view); s != "" {
		p, err := parseVec3(s)
		if err != nil {
			logger.Fatalf("bad -view: %v", err)
		}
		viewPos = &p
	}

	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	hello := protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		ViewerName:      *name,
		Capabilities:    protocol.HelloCapabilities{MaxQueue: *maxQueue},
	}
	if err := conn.WriteJSON(hello); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	done := make(chan struct{})
	go func() {
		defer close(done)
		readLoop(conn, logger, *moves)
	}()

	var tick <-chan time.Time
	if viewPos != nil && *every > 0 {
		t := time.NewTicker(*every)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		case <-done:
			return
		case <-tick:
			msg := protocol.ViewMsg{Type: protocol.TypeView, ProtocolVersion: protocol.Version, Pos: *viewPos}
			if err := conn.WriteJSON(msg); err != nil {
				logger.Printf("send VIEW: %v", err)
				return
			}
		}
	}
}

// readLoop prints every server frame until the connection closes.
func readLoop(conn *websocket.Conn, logger *log.Logger, printMoves bool) {
	live := map[int32]string{}
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("closed: %v (live decoys=%d)", err, len(live))
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			logger.Printf("WELCOME viewer_id=%s session=%s tick_rate=%d cull=%d", w.ViewerID, w.SessionID, w.TickRateHz, w.CullDistance)

		case protocol.TypeSpawn:
			var s protocol.SpawnMsg
			if err := json.Unmarshal(msg, &s); err != nil {
				continue
			}
			live[s.DecoyID] = s.Text
			logger.Printf("SPAWN tick=%d decoy=%d text=%q pos=%v", s.Tick, s.DecoyID, s.Text, s.Pos)

		case protocol.TypeMove:
			if !printMoves {
				continue
			}
			var m protocol.MoveMsg
			if err := json.Unmarshal(msg, &m); err != nil {
				continue
			}
			logger.Printf("MOVE tick=%d decoy=%d pos=%v", m.Tick, m.DecoyID, m.Pos)

		case protocol.TypeRename:
			var r protocol.RenameMsg
			if err := json.Unmarshal(msg, &r); err != nil {
				continue
			}
			live[r.DecoyID] = r.Text
			logger.Printf("RENAME tick=%d decoy=%d text=%q", r.Tick, r.DecoyID, r.Text)

		case protocol.TypeDestroy:
			var d protocol.DestroyMsg
			if err := json.Unmarshal(msg, &d); err != nil {
				continue
			}
			for _, id := range d.DecoyIDs {
				delete(live, id)
			}
			logger.Printf("DESTROY tick=%d decoys=%v", d.Tick, d.DecoyIDs)

		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(msg, &e); err != nil {
				continue
			}
			logger.Printf("ERROR code=%s message=%s", e.Code, e.Message)
		}
	}
}

func parseVec3(s string) ([3]float64, error) {
	var v [3]float64
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := range parts {
		if _, err := fmt.Sscanf(strings.TrimSpace(parts[i]), "%g", &v[i]); err != nil {
			return v, fmt.Errorf("component %d: %w", i, err)
		}
	}
	return v, nil
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"holotag.dev/internal/overlay"
	"holotag.dev/internal/sim/world"
	"holotag.dev/internal/transport/ws"
)

var (
	errUnknownHost   = errors.New("unknown host")
	errUnknownViewer = errors.New("unknown viewer")
	errBadOp         = errors.New("unknown op")
	errNoDataDir     = errors.New("no data directory configured")
)

func (rt *runtime) routes(enableAdmin, enablePprof bool) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.handleMetrics)

	if rt.wsSrv != nil {
		mux.HandleFunc("/v1/ws", rt.wsSrv.Handler())
	}

	if enableAdmin {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", loopbackOnly(rt.handleState))
		mux.HandleFunc("/admin/v1/entities", loopbackOnly(rt.handleEntities))
		mux.HandleFunc("/admin/v1/tags", loopbackOnly(rt.handleTags))
		mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(rt.handleSnapshot))
	} else {
		rt.log.Printf("admin endpoints disabled (HT_ENABLE_ADMIN_HTTP=false)")
	}
	if enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// call runs fn on the loop goroutine with a request-scoped timeout.
func (rt *runtime) call(ctx context.Context, fn func()) error {
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return rt.loop.Call(ctx2, fn)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func writeErr(rw http.ResponseWriter, err error) {
	writeJSON(rw, statusFor(err), map[string]any{"ok": false, "error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnknownHost), errors.Is(err, errUnknownViewer), errors.Is(err, overlay.ErrNoTag):
		return http.StatusNotFound
	case errors.Is(err, overlay.ErrDuplicatePrimaryTag), errors.Is(err, errNoDataDir):
		return http.StatusConflict
	case errors.Is(err, overlay.ErrInvalidLineIndex), errors.Is(err, overlay.ErrLineOutOfRange), errors.Is(err, errBadOp):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type sessionView struct {
	ViewerID  string `json:"viewer_id"`
	SessionID string `json:"session_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Dropped   uint64 `json:"dropped,omitempty"`
}

type transportView struct {
	Kind     string `json:"kind"`
	Culled   uint64 `json:"culled,omitempty"`
	Vetoed   uint64 `json:"vetoed,omitempty"`
	Spawns   uint64 `json:"spawns,omitempty"`
	Moves    uint64 `json:"moves,omitempty"`
	Despawns uint64 `json:"despawns,omitempty"`
	Renames  uint64 `json:"renames,omitempty"`
}

type stateView struct {
	Tick      uint64         `json:"tick"`
	UptimeSec int64          `json:"uptime_sec"`
	Overlay   overlay.Stats  `json:"overlay"`
	LoopTasks int            `json:"loop_tasks"`
	Entities  int            `json:"entities"`
	Viewers   []sessionView  `json:"viewers"`
	Transport transportView  `json:"transport"`
	Index     any            `json:"index,omitempty"`
	Config    overlay.Config `json:"config"`
}

func (rt *runtime) snapshotState(ctx context.Context) (stateView, error) {
	var sv stateView
	err := rt.call(ctx, func() {
		sv.Tick = rt.loop.CurrentTick()
		sv.Overlay = rt.state.Stats()
		sv.Entities = rt.world.Len()
		sv.Config = rt.state.Config()
		for _, v := range rt.viewers() {
			view := sessionView{ViewerID: string(v.ID())}
			if s, ok := v.(*ws.Session); ok {
				view.SessionID = s.SessionID()
				view.Name = s.Name()
				view.Dropped = s.Dropped()
			}
			sv.Viewers = append(sv.Viewers, view)
		}
	})
	if err != nil {
		return sv, err
	}
	sv.UptimeSec = int64(time.Since(rt.startedAt).Seconds())
	sv.LoopTasks = rt.loop.ActiveTasks()
	sv.Transport = rt.transportView()
	if rt.idx != nil {
		sv.Index = rt.idx.Stats()
	}
	return sv, nil
}

func (rt *runtime) transportView() transportView {
	if rt.wsTr != nil {
		return transportView{Kind: "ws", Culled: rt.wsTr.Culled(), Vetoed: rt.wsTr.Vetoed()}
	}
	c := rt.console.Counters()
	return transportView{Kind: "log", Spawns: c.Spawns, Moves: c.Moves, Despawns: c.Despawns, Renames: c.Renames}
}

func (rt *runtime) handleState(rw http.ResponseWriter, r *http.Request) {
	sv, err := rt.snapshotState(r.Context())
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, sv)
}

func (rt *runtime) handleSnapshot(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		rw.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	path, h, err := rt.writeSnapshot(r.Context())
	if err != nil {
		writeErr(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "path": path, "tick": h.Tick, "lines": h.Lines})
}

func (rt *runtime) handleMetrics(rw http.ResponseWriter, r *http.Request) {
	sv, err := rt.snapshotState(r.Context())
	if err != nil {
		http.Error(rw, err.Error(), http.StatusServiceUnavailable)
		return
	}
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP holotag_tick Current loop tick.\n")
	fmt.Fprintf(rw, "# TYPE holotag_tick gauge\n")
	fmt.Fprintf(rw, "holotag_tick %d\n", sv.Tick)

	fmt.Fprintf(rw, "# HELP holotag_entities Entities in the host world.\n")
	fmt.Fprintf(rw, "# TYPE holotag_entities gauge\n")
	fmt.Fprintf(rw, "holotag_entities %d\n", sv.Entities)

	fmt.Fprintf(rw, "# HELP holotag_viewers Connected viewers.\n")
	fmt.Fprintf(rw, "# TYPE holotag_viewers gauge\n")
	fmt.Fprintf(rw, "holotag_viewers %d\n", len(sv.Viewers))

	fmt.Fprintf(rw, "# HELP holotag_overlay Overlay cache sizes.\n")
	fmt.Fprintf(rw, "# TYPE holotag_overlay gauge\n")
	fmt.Fprintf(rw, "holotag_overlay{metric=%q} %d\n", "hosts", sv.Overlay.Hosts)
	fmt.Fprintf(rw, "holotag_overlay{metric=%q} %d\n", "viewers", sv.Overlay.Viewers)
	fmt.Fprintf(rw, "holotag_overlay{metric=%q} %d\n", "decoys", sv.Overlay.Decoys)
	fmt.Fprintf(rw, "holotag_overlay{metric=%q} %d\n", "tasks", sv.Overlay.Tasks)

	fmt.Fprintf(rw, "# HELP holotag_loop_tasks Repeating tasks scheduled on the loop.\n")
	fmt.Fprintf(rw, "# TYPE holotag_loop_tasks gauge\n")
	fmt.Fprintf(rw, "holotag_loop_tasks %d\n", sv.LoopTasks)

	t := sv.Transport
	fmt.Fprintf(rw, "# HELP holotag_transport_total Transport primitive counters.\n")
	fmt.Fprintf(rw, "# TYPE holotag_transport_total counter\n")
	if t.Kind == "ws" {
		fmt.Fprintf(rw, "holotag_transport_total{transport=%q,op=%q} %d\n", t.Kind, "culled", t.Culled)
		fmt.Fprintf(rw, "holotag_transport_total{transport=%q,op=%q} %d\n", t.Kind, "vetoed", t.Vetoed)
	} else {
		fmt.Fprintf(rw, "holotag_transport_total{transport=%q,op=%q} %d\n", t.Kind, "spawn", t.Spawns)
		fmt.Fprintf(rw, "holotag_transport_total{transport=%q,op=%q} %d\n", t.Kind, "move", t.Moves)
		fmt.Fprintf(rw, "holotag_transport_total{transport=%q,op=%q} %d\n", t.Kind, "despawn", t.Despawns)
		fmt.Fprintf(rw, "holotag_transport_total{transport=%q,op=%q} %d\n", t.Kind, "rename", t.Renames)
	}

	var dropped uint64
	for _, v := range sv.Viewers {
		dropped += v.Dropped
	}
	fmt.Fprintf(rw, "# HELP holotag_ws_dropped_frames_total Frames dropped on full viewer queues (connected viewers).\n")
	fmt.Fprintf(rw, "# TYPE holotag_ws_dropped_frames_total counter\n")
	fmt.Fprintf(rw, "holotag_ws_dropped_frames_total %d\n", dropped)

	if rt.idx != nil {
		s := rt.idx.Stats()
		fmt.Fprintf(rw, "# HELP holotag_index_queue_depth Current index writer queue depth.\n")
		fmt.Fprintf(rw, "# TYPE holotag_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "holotag_index_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(rw, "# HELP holotag_index_dropped_total Index writes dropped on a full queue.\n")
		fmt.Fprintf(rw, "# TYPE holotag_index_dropped_total counter\n")
		fmt.Fprintf(rw, "holotag_index_dropped_total{kind=%q} %d\n", "event", s.DropEventTotal)
		fmt.Fprintf(rw, "holotag_index_dropped_total{kind=%q} %d\n", "session", s.DropSessionTotal)
	}

	if rt.mirror != nil {
		s := rt.mirror.Stats()
		fmt.Fprintf(rw, "# HELP holotag_objstore_queue_depth Log files waiting for upload.\n")
		fmt.Fprintf(rw, "# TYPE holotag_objstore_queue_depth gauge\n")
		fmt.Fprintf(rw, "holotag_objstore_queue_depth %d\n", s.QueueDepth)

		fmt.Fprintf(rw, "# HELP holotag_objstore_files_total Log file uploads by result.\n")
		fmt.Fprintf(rw, "# TYPE holotag_objstore_files_total counter\n")
		fmt.Fprintf(rw, "holotag_objstore_files_total{result=%q} %d\n", "uploaded", s.Uploaded)
		fmt.Fprintf(rw, "holotag_objstore_files_total{result=%q} %d\n", "failed", s.Failed)
		fmt.Fprintf(rw, "holotag_objstore_files_total{result=%q} %d\n", "dropped", s.Dropped)
	}
}

type entityRequest struct {
	Op       string     `json:"op"`
	ID       string     `json:"id"`
	Species  string     `json:"species,omitempty"`
	Pos      [3]float64 `json:"pos,omitempty"`
	Velocity [3]float64 `json:"velocity,omitempty"`
	Health   int        `json:"health,omitempty"`
	Amount   int        `json:"amount,omitempty"`
	Loaded   bool       `json:"loaded,omitempty"`
}

func vec(p [3]float64) overlay.Vec3 { return overlay.Vec3{X: p[0], Y: p[1], Z: p[2]} }

// handleEntities lists entities (GET) or drives the host world (POST):
// spawn, damage, teleport, velocity, remove, chunk.
func (rt *runtime) handleEntities(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var out []world.EntityView
		if err := rt.call(r.Context(), func() {
			for _, e := range rt.world.Entities() {
				out = append(out, e.View())
			}
		}); err != nil {
			writeErr(rw, err)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"entities": out})
	case http.MethodPost:
		var req entityRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(rw, fmt.Errorf("%w: %v", errBadOp, err))
			return
		}
		var opErr error
		if err := rt.call(r.Context(), func() { opErr = rt.entityOp(req) }); err != nil {
			writeErr(rw, err)
			return
		}
		if opErr != nil {
			writeErr(rw, opErr)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (rt *runtime) entityOp(req entityRequest) error {
	id := overlay.HostID(req.ID)
	if req.Op != "spawn" && req.Op != "chunk" {
		if _, ok := rt.world.Get(id); !ok {
			return fmt.Errorf("%w: %s", errUnknownHost, req.ID)
		}
	}
	switch req.Op {
	case "spawn":
		_, err := rt.world.Spawn(world.SpawnSpec{
			ID:       req.ID,
			Species:  req.Species,
			Pos:      vec(req.Pos),
			Velocity: vec(req.Velocity),
			Health:   req.Health,
		})
		if err != nil {
			return fmt.Errorf("%w: %v", errBadOp, err)
		}
		return nil
	case "damage":
		return rt.world.Damage(id, req.Amount)
	case "teleport":
		return rt.world.Teleport(id, vec(req.Pos))
	case "velocity":
		return rt.world.SetVelocity(id, vec(req.Velocity))
	case "remove":
		rt.world.Remove(id)
		return nil
	case "chunk":
		rt.world.SetChunkLoaded(world.ChunkOf(vec(req.Pos)), req.Loaded)
		return nil
	default:
		return fmt.Errorf("%w: %q", errBadOp, req.Op)
	}
}

type tagRequest struct {
	Op   string `json:"op"`
	Host string `json:"host"`
	// Viewer targets one viewer; empty targets every connected viewer.
	Viewer string `json:"viewer,omitempty"`
	Text   string `json:"text,omitempty"`
	Index  int    `json:"index,omitempty"`
}

// handleTags shows a host's overlays (GET ?host=) or runs set, add,
// remove or delete (POST).
func (rt *runtime) handleTags(rw http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		host := overlay.HostID(strings.TrimSpace(r.URL.Query().Get("host")))
		var snap map[overlay.HostID]map[overlay.ViewerID][]overlay.LineView
		if err := rt.call(r.Context(), func() { snap = rt.state.Snapshot() }); err != nil {
			writeErr(rw, err)
			return
		}
		if host != "" {
			lines := snap[host]
			if lines == nil {
				lines = map[overlay.ViewerID][]overlay.LineView{}
			}
			writeJSON(rw, http.StatusOK, map[string]any{"host": host, "viewers": lines})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"hosts": snap})
	case http.MethodPost:
		var req tagRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(rw, fmt.Errorf("%w: %v", errBadOp, err))
			return
		}
		var opErr error
		if err := rt.call(r.Context(), func() { opErr = rt.tagOp(req) }); err != nil {
			writeErr(rw, err)
			return
		}
		if opErr != nil {
			writeErr(rw, opErr)
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true})
	default:
		rw.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (rt *runtime) tagOp(req tagRequest) error {
	e, ok := rt.world.Get(overlay.HostID(req.Host))
	if !ok {
		return fmt.Errorf("%w: %s", errUnknownHost, req.Host)
	}
	var vs []overlay.Viewer
	if req.Viewer != "" {
		v, ok := rt.viewer(overlay.ViewerID(req.Viewer))
		if !ok {
			return fmt.Errorf("%w: %s", errUnknownViewer, req.Viewer)
		}
		vs = []overlay.Viewer{v}
	} else {
		vs = rt.viewers()
	}

	switch req.Op {
	case "set":
		return rt.svc.SetTagAll(vs, e, req.Text)
	case "add":
		return rt.svc.AddLineAll(vs, e, req.Text)
	case "remove":
		return rt.svc.RemoveLineAll(vs, e, req.Index)
	case "delete":
		return rt.svc.DeleteTagAll(vs, e)
	default:
		return fmt.Errorf("%w: %q", errBadOp, req.Op)
	}
}

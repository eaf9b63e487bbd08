package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"holotag.dev/internal/overlay"
	persistlog "holotag.dev/internal/persistence/log"
	"holotag.dev/internal/persistence/objstore"
	"holotag.dev/internal/persistence/snapshot"
	"holotag.dev/internal/sched"
	"holotag.dev/internal/sim/tuning"
	"holotag.dev/internal/sim/world"
	"holotag.dev/internal/transport/console"
	"holotag.dev/internal/transport/ws"
)

type runtimeConfig struct {
	// DataDir holds the event log, session log and index. Empty disables
	// all of them.
	DataDir   string
	DisableDB bool

	// ConsoleViewers are the local viewers joined when tuning selects the
	// log transport.
	ConsoleViewers []string
	LogMoves       bool
}

// runtime wires the loop, the host world, the overlay core and one
// transport. Everything except the http handlers lives on the loop goroutine.
type runtime struct {
	tune tuning.Tuning
	log  *log.Logger

	loop  *sched.Loop
	world *world.World
	state *overlay.State
	svc   *overlay.Service

	wsTr  *ws.Transport
	wsSrv *ws.Server

	console        *console.Transport
	consoleViewers []*console.Viewer

	eventLog   *persistlog.EventLogger
	sessionLog *persistlog.SessionLogger
	idx        runtimeIndex
	mirror     *objstore.Mirror
	snapDir    string

	startedAt time.Time
}

func newRuntime(tune tuning.Tuning, cfg runtimeConfig, logger *log.Logger) (*runtime, error) {
	rt := &runtime{
		tune:      tune,
		log:       logger,
		loop:      sched.New(tune.TickRateHz, logger),
		startedAt: time.Now(),
	}

	rt.world = world.New(world.Config{}, logger)
	// The world steps first in every tick.
	rt.world.Attach(rt.loop)
	for _, e := range tune.Entities {
		if _, err := rt.world.Spawn(world.SpawnSpec{
			ID:       e.ID,
			Species:  e.Species,
			Pos:      overlay.Vec3{X: e.Pos[0], Y: e.Pos[1], Z: e.Pos[2]},
			Velocity: overlay.Vec3{X: e.Velocity[0], Y: e.Velocity[1], Z: e.Velocity[2]},
			Health:   e.Health,
		}); err != nil {
			return nil, fmt.Errorf("seed world: %w", err)
		}
	}

	var (
		tr      overlay.Transport
		monitor overlay.DestroyMonitor
	)
	switch tune.Transport {
	case tuning.TransportLog:
		rt.console = console.New(console.Config{LogMoves: cfg.LogMoves}, log.New(os.Stdout, "[overlay] ", log.LstdFlags|log.Lmicroseconds))
		tr, monitor = rt.console, rt.console
	default:
		rt.wsTr = ws.NewTransport(ws.TransportConfig{CullDistance: tune.CullDistance}, rt.loop, logger)
		tr, monitor = rt.wsTr, rt.wsTr
	}

	species := overlay.NewSpeciesTable(tune.SpeciesOffsets, tune.MarkerGap)
	rt.state = overlay.NewState(overlay.Config{
		LineGap:        tune.LineGap,
		PrimaryScope:   overlay.PrimaryScope(tune.PrimaryScope),
		DespawnRetries: tune.DespawnRetries,
	}, species, tr, rt.loop, logger)
	rt.svc = overlay.NewService(rt.state, monitor)

	if err := rt.openSinks(cfg); err != nil {
		rt.Close()
		return nil, err
	}

	rt.world.SetRemoveHook(func(id overlay.HostID) {
		if n := rt.svc.HostRemoved(id); n > 0 {
			logger.Printf("entity %s removed: dropped %d overlay lines", id, n)
		}
	})

	if rt.wsTr != nil {
		rt.wsTr.SetInterceptor(rt.state.IsManaged, rt.state.Vetoed)
		rt.wsSrv = ws.NewServer(rt.loop, rt.svc, rt.wsTr, ws.ServerConfig{
			TickRateHz:   tune.TickRateHz,
			CullDistance: tune.CullDistance,
			MaxQueue:     tune.MaxQueue,
		}, logger)
		if rt.sessionLog != nil {
			rt.wsSrv.AddRecorder(sessionLogRecorder{rt.sessionLog})
		}
		if rt.idx != nil {
			rt.wsSrv.AddRecorder(rt.idx)
		}
		rt.wsSrv.OnJoin(func(s *ws.Session) { rt.applySeedTags(s) })
		return rt, nil
	}

	// The loop is not running yet, so joining here is single-threaded.
	for _, name := range cfg.ConsoleViewers {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		v := console.NewViewer(name)
		if err := rt.svc.ViewerJoined(v); err != nil {
			rt.Close()
			return nil, fmt.Errorf("join console viewer %s: %w", name, err)
		}
		rt.consoleViewers = append(rt.consoleViewers, v)
		rt.applySeedTags(v)
	}
	return rt, nil
}

func (rt *runtime) openSinks(cfg runtimeConfig) error {
	if cfg.DataDir == "" {
		return nil
	}
	rt.snapDir = filepath.Join(cfg.DataDir, "snapshots")
	rt.eventLog = persistlog.NewEventLogger(cfg.DataDir)
	rt.sessionLog = persistlog.NewSessionLogger(cfg.DataDir)

	if oc, ok := objstore.ConfigFromEnv(); ok {
		client, err := objstore.New(oc)
		if err != nil {
			return fmt.Errorf("object store: %w", err)
		}
		rt.mirror = objstore.NewMirror(client, objstore.MirrorConfig{
			DataDir: cfg.DataDir,
			Prefix:  os.Getenv("HT_OBJSTORE_PREFIX"),
		}, rt.log)
		rt.eventLog.OnClosed(rt.mirror.Enqueue)
		rt.sessionLog.OnClosed(rt.mirror.Enqueue)
		rt.log.Printf("mirroring finished logs to %s/%s", oc.Endpoint, oc.Bucket)
	}

	idx, err := openRuntimeIndex(cfg.DataDir, cfg.DisableDB, rt.log)
	if err != nil {
		return fmt.Errorf("open index backend: %w", err)
	}
	rt.idx = idx
	if rt.idx != nil {
		if err := rt.idx.UpsertTuning(rt.tune); err != nil {
			rt.log.Printf("index backend: upsert tuning: %v", err)
		}
	}

	sink := multiEventSink{rt.eventLog}
	if rt.idx != nil {
		sink = append(sink, rt.idx)
	}
	rt.state.SetEventSink(sink)
	return nil
}

// applySeedTags gives v the tags configured for the seeded entities. Runs
// on the loop goroutine.
func (rt *runtime) applySeedTags(v overlay.Viewer) {
	for _, spec := range rt.tune.Entities {
		if spec.Tag == "" {
			continue
		}
		e, ok := rt.world.Get(overlay.HostID(spec.ID))
		if !ok || e.Dead() {
			continue
		}
		err := rt.svc.SetTag(v, e, spec.Tag)
		if err != nil && !errors.Is(err, overlay.ErrDuplicatePrimaryTag) {
			rt.log.Printf("seed tag %s for %s: %v", spec.ID, v.ID(), err)
		}
	}
}

// viewer finds a connected viewer by id. Loop goroutine only.
func (rt *runtime) viewer(id overlay.ViewerID) (overlay.Viewer, bool) {
	if rt.wsSrv != nil {
		s, ok := rt.wsSrv.Session(id)
		if !ok || !s.Online() {
			return nil, false
		}
		return s, true
	}
	for _, v := range rt.consoleViewers {
		if v.ID() == id && v.Online() {
			return v, true
		}
	}
	return nil, false
}

// viewers lists every connected viewer. Loop goroutine only.
func (rt *runtime) viewers() []overlay.Viewer {
	var out []overlay.Viewer
	if rt.wsSrv != nil {
		for _, s := range rt.wsSrv.Sessions() {
			if s.Online() {
				out = append(out, s)
			}
		}
		return out
	}
	for _, v := range rt.consoleViewers {
		if v.Online() {
			out = append(out, v)
		}
	}
	return out
}

// writeSnapshot dumps the overlay caches to <data>/snapshots. Capture runs on
// the loop; the file write does not.
func (rt *runtime) writeSnapshot(ctx context.Context) (string, snapshot.Header, error) {
	if rt.snapDir == "" {
		return "", snapshot.Header{}, errNoDataDir
	}
	var snap snapshot.OverlayV1
	if err := rt.call(ctx, func() {
		snap = snapshot.Capture(rt.state, rt.loop.CurrentTick(), time.Now())
	}); err != nil {
		return "", snapshot.Header{}, err
	}
	path := snapshot.PathFor(rt.snapDir, snap.Header.Tick)
	return path, snap.Header, snapshot.Write(path, snap)
}

// finalSnapshot is called after the loop has stopped, so it reads the
// state directly.
func (rt *runtime) finalSnapshot() {
	if rt.snapDir == "" {
		return
	}
	snap := snapshot.Capture(rt.state, rt.loop.CurrentTick(), time.Now())
	path := snapshot.PathFor(rt.snapDir, snap.Header.Tick)
	if err := snapshot.Write(path, snap); err != nil {
		rt.log.Printf("final snapshot: %v", err)
		return
	}
	rt.log.Printf("final snapshot %s lines=%d", path, snap.Header.Lines)
}

func (rt *runtime) Close() {
	if rt.eventLog != nil {
		_ = rt.eventLog.Close()
	}
	if rt.sessionLog != nil {
		_ = rt.sessionLog.Close()
	}
	if rt.idx != nil {
		_ = rt.idx.Close()
	}
	// Last, so the files finished by the loggers above are uploaded.
	if rt.mirror != nil {
		rt.mirror.Close()
	}
}

type multiEventSink []overlay.EventSink

func (m multiEventSink) WriteEvent(e overlay.Event) error {
	for _, s := range m {
		if s != nil {
			_ = s.WriteEvent(e)
		}
	}
	return nil
}

type sessionLogRecorder struct{ l *persistlog.SessionLogger }

func (r sessionLogRecorder) RecordSession(sessionID, viewerID, name, event string) {
	_ = r.l.WriteSession(persistlog.SessionEntry{
		At:        time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		ViewerID:  viewerID,
		Name:      name,
		Event:     event,
	})
}

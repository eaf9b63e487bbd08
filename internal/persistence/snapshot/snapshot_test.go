package snapshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"holotag.dev/internal/overlay"
	"holotag.dev/internal/sched"
	"holotag.dev/internal/transport/console"
)

type host struct{ id overlay.HostID }

func (h host) ID() overlay.HostID     { return h.id }
func (h host) Species() string        { return "ZOMBIE" }
func (h host) Position() overlay.Vec3 { return overlay.Vec3{X: 1, Y: 64, Z: 2} }
func (h host) Dead() bool             { return false }
func (h host) ChunkLoaded() bool      { return true }

func TestCaptureWriteRead(t *testing.T) {
	tr := console.New(console.Config{}, nil)
	loop := sched.New(20, nil)
	st := overlay.NewState(overlay.Config{PrimaryScope: overlay.ScopeViewer}, overlay.NewSpeciesTable(nil, 0), tr, loop, nil)
	svc := overlay.NewService(st, tr)

	a, b := console.NewViewer("a"), console.NewViewer("b")
	for _, v := range []*console.Viewer{a, b} {
		if err := svc.ViewerJoined(v); err != nil {
			t.Fatalf("join: %v", err)
		}
	}
	boss, pet := host{"boss"}, host{"pet"}
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	must(svc.SetTag(a, boss, "&cBoss"))
	must(svc.AddLine(a, boss, "HP 40"))
	must(svc.SetTag(b, boss, "&cBoss"))
	must(svc.SetTag(a, pet, "Rex"))
	loop.Step()

	snap := Capture(st, 42, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if snap.Header.Lines != 4 || snap.Stats.Decoys != 4 {
		t.Fatalf("capture: header=%+v stats=%+v", snap.Header, snap.Stats)
	}
	var order []string
	for _, l := range snap.Lines {
		order = append(order, l.Host+"/"+l.Viewer+"/"+l.Text)
	}
	want := []string{"boss/a/§cBoss", "boss/a/HP 40", "boss/b/§cBoss", "pet/a/Rex"}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Fatalf("line order (-want +got):\n%s", diff)
	}
	if snap.Lines[0].Task != "active" || snap.Lines[1].Index != 1 {
		t.Fatalf("line 0/1: %+v %+v", snap.Lines[0], snap.Lines[1])
	}

	dir := t.TempDir()
	path := PathFor(dir, snap.Header.Tick)
	if err := Write(path, snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("tmp file left behind: %v", err)
	}

	h, err := ReadHeader(path)
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h != snap.Header {
		t.Fatalf("header: got %+v want %+v", h, snap.Header)
	}
	got, err := Read(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if diff := cmp.Diff(snap, got); diff != "" {
		t.Fatalf("round trip (-want +got):\n%s", diff)
	}
}

func TestLatest(t *testing.T) {
	dir := t.TempDir()
	if p, err := Latest(dir); err != nil || p != "" {
		t.Fatalf("empty dir: got %q %v", p, err)
	}
	for _, tick := range []uint64{9, 120, 35} {
		if err := Write(PathFor(dir, tick), OverlayV1{Header: Header{Version: Version, Tick: tick}}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	p, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(p) != "overlay-000000000120.snap.zst" {
		t.Fatalf("latest: got %s", p)
	}
}

func TestRead_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.snap.zst")
	if err := Write(path, OverlayV1{Header: Header{Version: 99}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Read(path); err == nil {
		t.Fatalf("expected version error")
	}
}

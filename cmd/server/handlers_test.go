package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"holotag.dev/internal/overlay"
	"holotag.dev/internal/persistence/indexdb"
	"holotag.dev/internal/persistence/snapshot"
	"holotag.dev/internal/sim/tuning"
)

func findRepoRootForServerTests(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate go.mod from %s", dir)
		}
		dir = parent
	}
}

type testRuntime struct {
	rt      *runtime
	srv     *httptest.Server
	dataDir string

	cancel context.CancelFunc
	done   chan struct{}
}

func newTestRuntime(t *testing.T, viewers ...string) *testRuntime {
	t.Helper()
	root := findRepoRootForServerTests(t)
	tune, err := tuning.Load(filepath.Join(root, "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load tuning: %v", err)
	}
	tune.Transport = tuning.TransportLog

	dataDir := t.TempDir()
	rt, err := newRuntime(tune, runtimeConfig{
		DataDir:        dataDir,
		ConsoleViewers: viewers,
	}, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.loop.Run(ctx)
	}()
	return &testRuntime{
		rt:      rt,
		srv:     httptest.NewServer(rt.routes(true, false)),
		dataDir: dataDir,
		cancel:  cancel,
		done:    done,
	}
}

func (tr *testRuntime) close() {
	tr.srv.Close()
	tr.cancel()
	<-tr.done
	tr.rt.Close()
}

func (tr *testRuntime) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(tr.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("GET %s: decode: %v", path, err)
		}
	}
	return resp.StatusCode
}

func (tr *testRuntime) post(t *testing.T, path string, body any) int {
	t.Helper()
	b, _ := json.Marshal(body)
	resp, err := http.Post(tr.srv.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

type hostTags struct {
	Host    string                        `json:"host"`
	Viewers map[string][]overlay.LineView `json:"viewers"`
}

func (tr *testRuntime) tags(t *testing.T, host string) hostTags {
	t.Helper()
	var ht hostTags
	if code := tr.get(t, "/admin/v1/tags?host="+host, &ht); code != http.StatusOK {
		t.Fatalf("tags %s: status %d", host, code)
	}
	return ht
}

func TestAdminTags_SeedAndEdit(t *testing.T) {
	tr := newTestRuntime(t, "console", "alt")
	defer tr.close()

	// With host scope the first viewer claims the seeded primaries.
	boss := tr.tags(t, "boss")
	if len(boss.Viewers) != 1 || len(boss.Viewers["console"]) != 1 {
		t.Fatalf("boss tags: got %+v", boss)
	}
	if got := boss.Viewers["console"][0].Decoy.Text; got != "§cBoss" {
		t.Fatalf("boss text: got %q", got)
	}
	if got := tr.tags(t, "guard").Viewers["console"]; len(got) != 1 || got[0].Decoy.Text != "§7Guard" {
		t.Fatalf("guard tags: got %+v", got)
	}

	if code := tr.post(t, "/admin/v1/tags", tagRequest{Op: "add", Host: "boss", Viewer: "console", Text: "HP 40"}); code != http.StatusOK {
		t.Fatalf("add line: status %d", code)
	}
	lines := tr.tags(t, "boss").Viewers["console"]
	if len(lines) != 2 || lines[1].Decoy.Text != "HP 40" {
		t.Fatalf("after add: got %+v", lines)
	}
	if math.Abs(lines[1].Offset-0.245) > 1e-9 || lines[1].Task != "active" {
		t.Fatalf("line 1 offset/task: got %v %s", lines[1].Offset, lines[1].Task)
	}

	cases := []struct {
		name string
		req  tagRequest
		want int
	}{
		{"duplicate primary", tagRequest{Op: "set", Host: "boss", Viewer: "alt", Text: "mine"}, http.StatusConflict},
		{"remove line 0", tagRequest{Op: "remove", Host: "boss", Viewer: "console", Index: 0}, http.StatusBadRequest},
		{"remove out of range", tagRequest{Op: "remove", Host: "boss", Viewer: "console", Index: 5}, http.StatusBadRequest},
		{"remove without tag", tagRequest{Op: "remove", Host: "pet", Viewer: "console", Index: 1}, http.StatusNotFound},
		{"unknown host", tagRequest{Op: "set", Host: "nope", Text: "x"}, http.StatusNotFound},
		{"unknown viewer", tagRequest{Op: "set", Host: "pet", Viewer: "ghost", Text: "x"}, http.StatusNotFound},
		{"unknown op", tagRequest{Op: "shout", Host: "pet"}, http.StatusBadRequest},
		{"set pet for everyone", tagRequest{Op: "set", Host: "pet", Text: "&aRex"}, http.StatusConflict},
		{"remove line 1", tagRequest{Op: "remove", Host: "boss", Viewer: "console", Index: 1}, http.StatusOK},
		{"delete guard", tagRequest{Op: "delete", Host: "guard"}, http.StatusOK},
	}
	for _, tc := range cases {
		if code := tr.post(t, "/admin/v1/tags", tc.req); code != tc.want {
			t.Fatalf("%s: status %d want %d", tc.name, code, tc.want)
		}
	}

	// The all-viewers set gave console the pet primary; alt was rejected.
	pet := tr.tags(t, "pet")
	if len(pet.Viewers) != 1 || pet.Viewers["console"][0].Decoy.Text != "§aRex" {
		t.Fatalf("pet tags: got %+v", pet)
	}
	if got := tr.tags(t, "boss").Viewers["console"]; len(got) != 1 {
		t.Fatalf("boss after remove: got %+v", got)
	}
	if got := tr.tags(t, "guard"); len(got.Viewers) != 0 {
		t.Fatalf("guard after delete: got %+v", got)
	}
}

func TestAdminEntities_DeathDropsOverlays(t *testing.T) {
	tr := newTestRuntime(t, "console")
	defer tr.close()

	if code := tr.post(t, "/admin/v1/entities", entityRequest{Op: "damage", ID: "boss", Amount: 100}); code != http.StatusOK {
		t.Fatalf("damage: status %d", code)
	}
	deadline := time.Now().Add(3 * time.Second)
	for len(tr.tags(t, "boss").Viewers) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("boss overlays not dropped after death")
		}
		time.Sleep(20 * time.Millisecond)
	}

	var list struct {
		Entities []struct {
			ID   string `json:"id"`
			Dead bool   `json:"dead"`
		} `json:"entities"`
	}
	if code := tr.get(t, "/admin/v1/entities", &list); code != http.StatusOK {
		t.Fatalf("entities: status %d", code)
	}
	if len(list.Entities) == 0 {
		t.Fatalf("no entities listed")
	}

	if code := tr.post(t, "/admin/v1/entities", entityRequest{Op: "spawn", ID: "slime", Species: "slime", Pos: [3]float64{2, 64, 2}}); code != http.StatusOK {
		t.Fatalf("spawn: status %d", code)
	}
	if code := tr.post(t, "/admin/v1/tags", tagRequest{Op: "set", Host: "slime", Text: "Blob"}); code != http.StatusOK {
		t.Fatalf("tag slime: status %d", code)
	}
	// Unloading the chunk under the slime drops its overlay.
	if code := tr.post(t, "/admin/v1/entities", entityRequest{Op: "chunk", Pos: [3]float64{2, 64, 2}, Loaded: false}); code != http.StatusOK {
		t.Fatalf("unload chunk: status %d", code)
	}
	deadline = time.Now().Add(3 * time.Second)
	for len(tr.tags(t, "slime").Viewers) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("slime overlay not dropped after chunk unload")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if code := tr.post(t, "/admin/v1/entities", entityRequest{Op: "teleport", ID: "ghost"}); code != http.StatusNotFound {
		t.Fatalf("teleport unknown: status %d", code)
	}
}

func TestMetricsAndState(t *testing.T) {
	tr := newTestRuntime(t, "console")

	resp, err := http.Get(tr.srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	for _, want := range []string{
		"holotag_tick ",
		`holotag_overlay{metric="decoys"} 2`,
		`holotag_transport_total{transport="log",op="spawn"} 2`,
		"holotag_index_queue_depth",
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	var sv stateView
	if code := tr.get(t, "/admin/v1/state", &sv); code != http.StatusOK {
		t.Fatalf("state: status %d", code)
	}
	if sv.Transport.Kind != "log" || len(sv.Viewers) != 1 || sv.Viewers[0].ViewerID != "console" {
		t.Fatalf("state: got %+v", sv)
	}
	if sv.Entities != 3 || sv.Overlay.Decoys != 2 {
		t.Fatalf("state counts: got %+v", sv)
	}

	if code := tr.get(t, "/healthz", nil); code != http.StatusOK {
		t.Fatalf("healthz: status %d", code)
	}

	tr.close()

	// Events reached the sqlite index before close.
	idx, err := indexdb.OpenSQLite(filepath.Join(tr.dataDir, "index", "overlay.sqlite"))
	if err != nil {
		t.Fatalf("reopen index: %v", err)
	}
	defer idx.Close()
	n, err := idx.CountEvents(context.Background(), overlay.EventSpawn)
	if err != nil || n != 2 {
		t.Fatalf("indexed spawns: got %d err=%v want 2", n, err)
	}
	if _, err := os.Stat(filepath.Join(tr.dataDir, "events")); err != nil {
		t.Fatalf("event log dir: %v", err)
	}
}

func TestAdminSnapshot_WritesOverlayDump(t *testing.T) {
	tr := newTestRuntime(t, "console")
	defer tr.close()

	if code := tr.get(t, "/admin/v1/snapshot", nil); code != http.StatusMethodNotAllowed {
		t.Fatalf("GET snapshot: status %d", code)
	}

	resp, err := http.Post(tr.srv.URL+"/admin/v1/snapshot", "application/json", nil)
	if err != nil {
		t.Fatalf("POST snapshot: %v", err)
	}
	defer resp.Body.Close()
	var out struct {
		OK    bool   `json:"ok"`
		Path  string `json:"path"`
		Lines int    `json:"lines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || !out.OK || out.Lines != 2 {
		t.Fatalf("snapshot: status %d body %+v", resp.StatusCode, out)
	}
	if filepath.Dir(out.Path) != filepath.Join(tr.dataDir, "snapshots") {
		t.Fatalf("snapshot path: got %s", out.Path)
	}

	snap, err := snapshot.Read(out.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var texts []string
	for _, l := range snap.Lines {
		texts = append(texts, l.Host+"="+l.Text)
	}
	if strings.Join(texts, ",") != "boss=§cBoss,guard=§7Guard" {
		t.Fatalf("snapshot lines: got %v", texts)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.7:80":    false,
		"example.com:80": false,
		"":               false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q): got %v want %v", in, got, want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("viewer V1: %w", overlay.ErrNoTag), http.StatusNotFound},
		{errors.Join(fmt.Errorf("viewer V2: %w", overlay.ErrDuplicatePrimaryTag)), http.StatusConflict},
		{fmt.Errorf("remove: %w", overlay.ErrLineOutOfRange), http.StatusBadRequest},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Fatalf("statusFor(%v): got %d want %d", tc.err, got, tc.want)
		}
	}
}

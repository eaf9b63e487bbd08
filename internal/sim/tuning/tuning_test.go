package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func findRepoRoot(t *testing.T) string {
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
			t.Fatalf("could not find repo root from %s", dir)
		}
		dir = parent
	}
}

func TestLoad_RepoConfig(t *testing.T) {
	root := findRepoRoot(t)
	tu, err := Load(filepath.Join(root, "configs", "tuning.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.TickRateHz != 20 || tu.LineGap != 0.245 || tu.MarkerGap != 1.9 {
		t.Fatalf("core values: got %+v", tu)
	}
	if tu.Transport != TransportWS {
		t.Fatalf("transport: got %q want %q", tu.Transport, TransportWS)
	}
	if len(tu.Entities) == 0 {
		t.Fatalf("expected seeded entities")
	}
	if tu.SpeciesOffsets["ARMOR_STAND"] != 0.1 {
		t.Fatalf("species override: got %v", tu.SpeciesOffsets)
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	tu, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.PrimaryScope != "host" || tu.DespawnRetries != 2 || tu.MaxQueue != 256 {
		t.Fatalf("defaults: got %+v", tu)
	}
}

func TestLoad_NormalizesAndValidates(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) string {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		return p
	}

	p := write("ok.yaml", "primary_scope: ' Viewer '\ntransport: LOG\nentities:\n  - id: a\n    species: zombie\n")
	tu, err := Load(p)
	if err != nil {
		t.Fatalf("load ok: %v", err)
	}
	if tu.PrimaryScope != "viewer" || tu.Transport != TransportLog {
		t.Fatalf("normalize: scope=%q transport=%q", tu.PrimaryScope, tu.Transport)
	}
	if tu.Entities[0].Species != "ZOMBIE" || tu.Entities[0].Health != 20 {
		t.Fatalf("entity normalize: got %+v", tu.Entities[0])
	}
	if tu.LineGap != 0.245 {
		t.Fatalf("line gap default: got %v", tu.LineGap)
	}

	cases := map[string]string{
		"scope.yaml":     "primary_scope: global\n",
		"transport.yaml": "transport: carrier-pigeon\n",
		"retries.yaml":   "despawn_retries: -1\n",
		"dup.yaml":       "entities:\n  - id: a\n  - id: a\n",
		"noid.yaml":      "entities:\n  - species: PIG\n",
	}
	for name, body := range cases {
		if _, err := Load(write(name, body)); err == nil || !strings.Contains(err.Error(), "tuning.yaml") {
			t.Fatalf("%s: got %v want validation error", name, err)
		}
	}

	if _, err := Load(write("bad.yaml", "tick_rate_hz: [")); err == nil {
		t.Fatalf("expected parse error")
	}
}

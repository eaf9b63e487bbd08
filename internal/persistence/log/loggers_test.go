package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"holotag.dev/internal/overlay"
)

func TestEventLogger_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	l := NewEventLogger(dir)
	fixed := time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC)
	l.w.now = func() time.Time { return fixed }

	want := []overlay.Event{
		{Tick: 1, Kind: overlay.EventSpawn, Host: "boss", Viewer: "V1", Decoy: 7, Text: "§cBoss"},
		{Tick: 9, Kind: overlay.EventDropHost, Host: "boss", Line: 1, Reason: "host dead"},
	}
	for _, e := range want {
		if err := l.WriteEvent(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	// Reopening after close appends a new zstd frame to the same hour file.
	extra := overlay.Event{Tick: 10, Kind: overlay.EventVeto, Viewer: "V1", Decoy: 8}
	if err := l.WriteEvent(extra); err != nil {
		t.Fatalf("write after close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	want = append(want, extra)

	path := filepath.Join(dir, "events", "overlay-2026-03-01-14.jsonl.zst")
	lines, err := ReadLines(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(lines) != len(want) {
		t.Fatalf("lines: got %d want %d", len(lines), len(want))
	}
	for i, b := range lines {
		var got overlay.Event
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("line %d: %v", i, err)
		}
		if got != want[i] {
			t.Fatalf("line %d: got %+v want %+v", i, got, want[i])
		}
	}
}

func TestJSONLZstdWriter_RotatesHourly(t *testing.T) {
	dir := t.TempDir()
	w := NewJSONLZstdWriter(dir, "x")
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	var closed []string
	w.OnClosed(func(path string) { closed = append(closed, filepath.Base(path)) })
	if err := w.Write(map[string]int{"a": 1}); err != nil {
		t.Fatalf("write: %v", err)
	}
	now = now.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"a": 2}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(closed) != 2 || closed[0] != "x-2026-03-01-23.jsonl.zst" || closed[1] != "x-2026-03-02-00.jsonl.zst" {
		t.Fatalf("closed: got %v", closed)
	}
	for _, name := range []string{"x-2026-03-01-23.jsonl.zst", "x-2026-03-02-00.jsonl.zst"} {
		lines, err := ReadLines(filepath.Join(dir, name))
		if err != nil || len(lines) != 1 {
			t.Fatalf("%s: lines=%d err=%v", name, len(lines), err)
		}
	}
}

func TestSessionLogger(t *testing.T) {
	dir := t.TempDir()
	l := NewSessionLogger(dir)
	if err := l.WriteSession(SessionEntry{At: "t", SessionID: "s", ViewerID: "V1", Event: "open"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "sessions", "sessions-*.jsonl.zst"))
	if len(matches) != 1 {
		t.Fatalf("session files: got %v", matches)
	}
}

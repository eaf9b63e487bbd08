package objstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestClient_PutFileSignsRequest(t *testing.T) {
	type seen struct {
		method, path, auth, hash, date string
		body                           []byte
	}
	var (
		mu  sync.Mutex
		got seen
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = seen{r.Method, r.URL.EscapedPath(), r.Header.Get("Authorization"), r.Header.Get("x-amz-content-sha256"), r.Header.Get("x-amz-date"), b}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "logs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	c.now = func() time.Time { return time.Date(2026, 3, 1, 14, 5, 0, 0, time.UTC) }

	local := filepath.Join(t.TempDir(), "overlay.jsonl.zst")
	if err := os.WriteFile(local, []byte("payload"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := c.PutFile(context.Background(), "/holotag/events/overlay 1.jsonl.zst", local); err != nil {
		t.Fatalf("put: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	sum := sha256.Sum256([]byte("payload"))
	if got.method != http.MethodPut {
		t.Fatalf("method: got %s", got.method)
	}
	if got.path != "/logs/holotag/events/overlay%201.jsonl.zst" {
		t.Fatalf("path: got %s", got.path)
	}
	if string(got.body) != "payload" || got.hash != hex.EncodeToString(sum[:]) {
		t.Fatalf("body/hash: got %q %s", got.body, got.hash)
	}
	if got.date != "20260301T140500Z" {
		t.Fatalf("date: got %s", got.date)
	}
	wantPrefix := "AWS4-HMAC-SHA256 Credential=AK/20260301/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="
	if !strings.HasPrefix(got.auth, wantPrefix) || len(got.auth) != len(wantPrefix)+64 {
		t.Fatalf("auth: got %s", got.auth)
	}
}

func TestClient_PutFileReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()

	c, err := New(Config{Endpoint: srv.URL, Bucket: "logs", AccessKeyID: "AK", SecretAccessKey: "SK"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	local := filepath.Join(t.TempDir(), "f")
	_ = os.WriteFile(local, []byte("x"), 0o644)
	err = c.PutFile(context.Background(), "f", local)
	if err == nil || !strings.Contains(err.Error(), "status=403") {
		t.Fatalf("err: got %v", err)
	}
	if err := c.PutFile(context.Background(), "../..", local); err == nil {
		t.Fatalf("expected error for escaping key")
	}
}

func TestNew_RequiresConfig(t *testing.T) {
	if _, err := New(Config{Endpoint: "r2.example", Bucket: "b"}); err == nil {
		t.Fatalf("expected error without credentials")
	}
	c, err := New(Config{Endpoint: "r2.example", Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.endpoint != "https://r2.example" || c.region != "auto" {
		t.Fatalf("defaults: got %s %s", c.endpoint, c.region)
	}
}

type flakyUploader struct {
	mu    sync.Mutex
	fails int
	keys  []string
}

func (f *flakyUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("503")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirror_RetriesAndKeysByDataDir(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	p := filepath.Join(dir, "events", "overlay-2026-03-01-14.jsonl.zst")
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	up := &flakyUploader{fails: 2}
	m := NewMirror(up, MirrorConfig{DataDir: dir, Prefix: "/holotag/dev/", Backoff: time.Millisecond}, nil)
	m.Enqueue(p)
	m.Enqueue(filepath.Join(t.TempDir(), "elsewhere.jsonl.zst"))
	m.Close()
	m.Close()

	st := m.Stats()
	if st.Enqueued != 2 || st.Uploaded != 1 || st.Failed != 1 || st.Dropped != 0 {
		t.Fatalf("stats: got %+v", st)
	}
	if len(up.keys) != 1 || up.keys[0] != "holotag/dev/events/overlay-2026-03-01-14.jsonl.zst" {
		t.Fatalf("keys: got %v", up.keys)
	}
}

func TestMirror_GivesUpAfterAttempts(t *testing.T) {
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	p := filepath.Join(dir, "sessions-1.jsonl.zst")
	_ = os.WriteFile(p, []byte("x"), 0o644)

	up := &flakyUploader{fails: 10}
	m := NewMirror(up, MirrorConfig{DataDir: dir, Attempts: 3, Backoff: time.Millisecond}, nil)
	m.Enqueue(p)
	m.Close()

	if st := m.Stats(); st.Failed != 1 || st.Uploaded != 0 {
		t.Fatalf("stats: got %+v", st)
	}
	if up.fails != 7 {
		t.Fatalf("attempts: got %d want 3", 10-up.fails)
	}
}

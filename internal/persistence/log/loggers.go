package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"holotag.dev/internal/overlay"
)

// JSONLZstdWriter appends JSON lines to hourly zstd files under baseDir.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	// onClosed is called with the path of every file the writer finishes,
	// on rotation and on Close. It runs under the writer lock.
	onClosed func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

// OnClosed registers fn to receive the path of each finished file.
func (w *JSONLZstdWriter) OnClosed(fn func(path string)) {
	w.mu.Lock()
	w.onClosed = fn
	w.mu.Unlock()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	closed := ""
	if w.f != nil {
		closed = w.pathForHour(w.curHour)
	}
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	if closed != "" && err1 == nil && w.onClosed != nil {
		w.onClosed(closed)
	}
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ReadLines decompresses a .jsonl.zst file and returns its lines.
func ReadLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out [][]byte
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := append([]byte(nil), sc.Bytes()...)
		out = append(out, line)
	}
	return out, sc.Err()
}

// EventLogger writes one JSONL entry per overlay event (compressed).
// It implements overlay.EventSink.
type EventLogger struct{ w *JSONLZstdWriter }

func NewEventLogger(dataDir string) *EventLogger {
	return &EventLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "events"), "overlay")}
}

func (l *EventLogger) WriteEvent(e overlay.Event) error { return l.w.Write(e) }
func (l *EventLogger) OnClosed(fn func(path string))    { l.w.OnClosed(fn) }
func (l *EventLogger) Close() error                     { return l.w.Close() }

// SessionEntry records a viewer session opening or closing.
type SessionEntry struct {
	At        string `json:"at"`
	SessionID string `json:"session_id"`
	ViewerID  string `json:"viewer_id"`
	Name      string `json:"name,omitempty"`
	Event     string `json:"event"`
}

// SessionLogger writes viewer session JSONL entries (compressed).
type SessionLogger struct{ w *JSONLZstdWriter }

func NewSessionLogger(dataDir string) *SessionLogger {
	return &SessionLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "sessions"), "sessions")}
}

func (l *SessionLogger) WriteSession(e SessionEntry) error { return l.w.Write(e) }
func (l *SessionLogger) OnClosed(fn func(path string))     { l.w.OnClosed(fn) }
func (l *SessionLogger) Close() error                      { return l.w.Close() }

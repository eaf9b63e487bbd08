// Package snapshot writes point-in-time dumps of the overlay caches for
// offline inspection. Files are zstd streams holding a JSON header line
// followed by a gob-encoded body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"holotag.dev/internal/overlay"
)

const Version = 1

type Header struct {
	Version int    `json:"version"`
	Tick    uint64 `json:"tick"`
	TakenAt string `json:"taken_at"`
	Lines   int    `json:"lines"`
}

// LineV1 is one decoy line as seen by one viewer.
type LineV1 struct {
	Host    string       `json:"host"`
	Viewer  string       `json:"viewer"`
	Index   int          `json:"index"`
	DecoyID int32        `json:"decoy_id"`
	Text    string       `json:"text"`
	Pos     overlay.Vec3 `json:"pos"`
	Offset  float64      `json:"offset"`
	Task    string       `json:"task"`
}

type OverlayV1 struct {
	Header Header `json:"header"`

	Config overlay.Config `json:"config"`
	Stats  overlay.Stats  `json:"stats"`
	Lines  []LineV1       `json:"lines"`
}

// Capture copies st into a snapshot. Must run on the goroutine that owns st.
func Capture(st *overlay.State, tick uint64, now time.Time) OverlayV1 {
	var lines []LineV1
	for h, byViewer := range st.Snapshot() {
		for v, views := range byViewer {
			for i, lv := range views {
				lines = append(lines, LineV1{
					Host:    string(h),
					Viewer:  string(v),
					Index:   i,
					DecoyID: int32(lv.Decoy.ID),
					Text:    lv.Decoy.Text,
					Pos:     lv.Decoy.Pos,
					Offset:  lv.Offset,
					Task:    lv.Task,
				})
			}
		}
	}
	sort.Slice(lines, func(i, j int) bool {
		a, b := lines[i], lines[j]
		if a.Host != b.Host {
			return a.Host < b.Host
		}
		if a.Viewer != b.Viewer {
			return a.Viewer < b.Viewer
		}
		return a.Index < b.Index
	})
	return OverlayV1{
		Header: Header{
			Version: Version,
			Tick:    tick,
			TakenAt: now.UTC().Format(time.RFC3339Nano),
			Lines:   len(lines),
		},
		Config: st.Config(),
		Stats:  st.Stats(),
		Lines:  lines,
	}
}

// PathFor returns <dir>/overlay-<tick>.snap.zst.
func PathFor(dir string, tick uint64) string {
	return filepath.Join(dir, fmt.Sprintf("overlay-%012d.snap.zst", tick))
}

func Write(path string, snap OverlayV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap OverlayV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(append(hb, '\n')); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// ReadHeader decodes only the JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	br, closeFn, err := open(path)
	if err != nil {
		return h, err
	}
	defer closeFn()
	line, err := br.ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, fmt.Errorf("decode header: %w", err)
	}
	return h, nil
}

func Read(path string) (OverlayV1, error) {
	var snap OverlayV1
	br, closeFn, err := open(path)
	if err != nil {
		return snap, err
	}
	defer closeFn()

	// The body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

func open(path string) (*bufio.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return bufio.NewReaderSize(dec, 64*1024), func() {
		dec.Close()
		_ = f.Close()
	}, nil
}

// Latest returns the newest snapshot in dir by tick, or "" when there is none.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "overlay-*.snap.zst"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

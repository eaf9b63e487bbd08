package objstore

import (
	"context"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client the mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type MirrorConfig struct {
	// DataDir is stripped from local paths to form object keys.
	DataDir string
	// Prefix is prepended to every key, e.g. "holotag/prod".
	Prefix string

	Workers       int
	QueueCapacity int
	// EnqueueWait bounds how long Enqueue blocks on a full queue before
	// dropping the file.
	EnqueueWait time.Duration
	Attempts    int
	Backoff     time.Duration
}

type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	Enqueued       uint64
	Dropped        uint64
	Uploaded       uint64
	Failed         uint64
	LastUploadUnix int64
}

// Mirror uploads finished event and session log files in the background.
type Mirror struct {
	up     Uploader
	cfg    MirrorConfig
	logger *log.Logger

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	enqueued atomic.Uint64
	dropped  atomic.Uint64
	uploaded atomic.Uint64
	failed   atomic.Uint64
	lastOK   atomic.Int64
}

func NewMirror(up Uploader, cfg MirrorConfig, logger *log.Logger) *Mirror {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 256
	}
	if cfg.EnqueueWait <= 0 {
		cfg.EnqueueWait = 25 * time.Millisecond
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 4
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	cfg.Prefix = strings.Trim(strings.ReplaceAll(cfg.Prefix, "\\", "/"), "/")
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	m := &Mirror{
		up:     up,
		cfg:    cfg,
		logger: logger,
		jobs:   make(chan string, cfg.QueueCapacity),
	}
	for i := 0; i < cfg.Workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for p := range m.jobs {
				m.upload(p)
			}
		}()
	}
	return m
}

// Enqueue schedules localPath for upload. It never blocks longer than
// EnqueueWait.
func (m *Mirror) Enqueue(localPath string) {
	m.enqueued.Add(1)
	select {
	case m.jobs <- localPath:
		return
	default:
	}
	t := time.NewTimer(m.cfg.EnqueueWait)
	defer t.Stop()
	select {
	case m.jobs <- localPath:
	case <-t.C:
		n := m.dropped.Add(1)
		m.logger.Printf("objstore mirror: drop %s (queue full, dropped=%d)", localPath, n)
	}
}

// Close drains the queue and waits for in-flight uploads.
func (m *Mirror) Close() {
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() Stats {
	return Stats{
		QueueDepth:     len(m.jobs),
		QueueCapacity:  cap(m.jobs),
		Enqueued:       m.enqueued.Load(),
		Dropped:        m.dropped.Load(),
		Uploaded:       m.uploaded.Load(),
		Failed:         m.failed.Load(),
		LastUploadUnix: m.lastOK.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.key(localPath)
	if err != nil {
		m.failed.Add(1)
		m.logger.Printf("objstore mirror: skip %s: %v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.cfg.Attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			m.uploaded.Add(1)
			m.lastOK.Store(time.Now().Unix())
			m.logger.Printf("objstore mirror: uploaded %s", key)
			return
		}
		if attempt < m.cfg.Attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.cfg.Backoff)
		}
	}
	m.failed.Add(1)
	m.logger.Printf("objstore mirror: upload %s failed after %d attempts: %v", key, m.cfg.Attempts, lastErr)
}

func (m *Mirror) key(localPath string) (string, error) {
	base, err := filepath.Abs(m.cfg.DataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(localPath)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("outside data dir %s", base)
	}
	if m.cfg.Prefix != "" {
		rel = path.Join(m.cfg.Prefix, rel)
	}
	return rel, nil
}

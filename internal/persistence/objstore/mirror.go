package objstore

import (
	"context"
	"fmt"
	"log"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Uploader is the part of Client a Mirror needs.
type Uploader interface {
	PutFile(ctx context.Context, key, localPath string) error
}

type MirrorStats struct {
	QueueDepth    int    `json:"queue_depth"`
	UploadedTotal uint64 `json:"uploaded_total"`
	FailedTotal   uint64 `json:"failed_total"`
	DroppedTotal  uint64 `json:"dropped_total"`
}

// Mirror copies finished run artifacts (snapshots, rotated tick logs) to a
// bucket in the background. Keys are the file's path relative to the data
// dir, under prefix. Enqueue never blocks the caller.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	attempts int
	backoff  time.Duration

	jobs chan string
	wg   sync.WaitGroup
	once sync.Once

	uploaded atomic.Uint64
	failed   atomic.Uint64
	dropped  atomic.Uint64
}

func NewMirror(up Uploader, dataDir, prefix string, workers int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	m := &Mirror{
		up:       up,
		dataDir:  dataDir,
		prefix:   strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger:   logger,
		attempts: 4,
		backoff:  200 * time.Millisecond,
		jobs:     make(chan string, 256),
	}
	for i := 0; i < workers; i++ {
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

func (m *Mirror) Enqueue(localPath string) {
	if m == nil {
		return
	}
	select {
	case m.jobs <- localPath:
	default:
		n := m.dropped.Add(1)
		m.printf("mirror drop local=%s dropped_total=%d", localPath, n)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.once.Do(func() {
		close(m.jobs)
		m.wg.Wait()
	})
}

func (m *Mirror) Stats() MirrorStats {
	if m == nil {
		return MirrorStats{}
	}
	return MirrorStats{
		QueueDepth:    len(m.jobs),
		UploadedTotal: m.uploaded.Load(),
		FailedTotal:   m.failed.Load(),
		DroppedTotal:  m.dropped.Load(),
	}
}

func (m *Mirror) upload(localPath string) {
	key, err := m.ObjectKey(localPath)
	if err != nil {
		m.printf("mirror skip local=%s err=%v", localPath, err)
		return
	}
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		lastErr = m.up.PutFile(ctx, key, localPath)
		cancel()
		if lastErr == nil {
			m.uploaded.Add(1)
			m.printf("mirror uploaded key=%s", key)
			return
		}
		if attempt < m.attempts {
			time.Sleep(time.Duration(attempt*attempt) * m.backoff)
		}
	}
	m.failed.Add(1)
	m.printf("mirror upload failed key=%s err=%v", key, lastErr)
}

// ObjectKey maps a file under the data dir to its bucket key.
func (m *Mirror) ObjectKey(localPath string) (string, error) {
	base, err := filepath.Abs(m.dataDir)
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
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("path %s is outside data dir %s", abs, base)
	}
	if m.prefix != "" {
		rel = path.Join(m.prefix, rel)
	}
	return rel, nil
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}

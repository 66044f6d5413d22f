package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Fallback limits for the audit trail. Audit records must keep
// flowing even when the config leaves the rotation section empty,
// but they must never fill the disk either.
const (
	auditDefaultMaxSizeMB  = 100
	auditDefaultMaxBackups = 7
	auditDefaultMaxAgeDays = 30

	backupTimeLayout = "20060102T150405.000000000"
)

// rotatingWriter splits the audit log by size. Rotated files keep
// the live path as a prefix with a timestamp suffix, so a plain
// lexical sort of the directory is also a chronological one.
type rotatingWriter struct {
	mu         sync.Mutex
	current    *os.File
	written    int64
	path       string
	sizeLimit  int64
	maxBackups int
	retention  time.Duration
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = auditDefaultMaxSizeMB
	}
	if maxBackups <= 0 {
		maxBackups = auditDefaultMaxBackups
	}
	if maxAgeDays <= 0 {
		maxAgeDays = auditDefaultMaxAgeDays
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rotatingWriter{
		path:       path,
		sizeLimit:  int64(maxSizeMB) << 20,
		maxBackups: maxBackups,
		retention:  time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

// Write appends p to the live file, rotating first when the write
// would push it past the size limit. A record is never split across
// two files.
func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.open(); err != nil {
		return 0, err
	}
	if w.written+int64(len(p)) > w.sizeLimit {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	n, err := w.current.Write(p)
	w.written += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	w.written = 0
	return err
}

// open lazily attaches the live file and picks up its current size,
// so restarts continue an existing file instead of overrunning the
// limit.
func (w *rotatingWriter) open() error {
	if w.current != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.current = file
	w.written = info.Size()
	return nil
}

// rotate archives the live file under a timestamped name and prunes
// old archives by count and by age.
func (w *rotatingWriter) rotate() error {
	if w.current != nil {
		_ = w.current.Close()
		w.current = nil
	}
	w.written = 0

	if _, err := os.Stat(w.path); err == nil {
		archive := fmt.Sprintf("%s.%s", w.path, time.Now().Format(backupTimeLayout))
		if err := os.Rename(w.path, archive); err != nil {
			return fmt.Errorf("archive audit log: %w", err)
		}
	}
	w.prune()
	return nil
}

func (w *rotatingWriter) archives() []string {
	matches, err := filepath.Glob(w.path + ".*")
	if err != nil {
		return nil
	}
	sort.Strings(matches)
	return matches
}

func (w *rotatingWriter) prune() {
	archives := w.archives()
	if w.maxBackups > 0 && len(archives) > w.maxBackups {
		for _, stale := range archives[:len(archives)-w.maxBackups] {
			_ = os.Remove(stale)
		}
		archives = archives[len(archives)-w.maxBackups:]
	}
	if w.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-w.retention)
	for _, name := range archives {
		info, err := os.Stat(name)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(name)
		}
	}
}

package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const backupTimeFormat = "20060102T150405.000"

// rotation bounds a log file and its rotated copies.
type rotation struct {
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
}

func defaultRotation() rotation {
	return rotation{maxSize: 50 << 20, maxBackups: 5, maxAge: 14 * 24 * time.Hour}
}

func (c AuditConfig) rotation() rotation {
	r := defaultRotation()
	if c.MaxSizeMB > 0 {
		r.maxSize = int64(c.MaxSizeMB) << 20
	}
	if c.MaxBackups > 0 {
		r.maxBackups = c.MaxBackups
	}
	if c.MaxAgeDays > 0 {
		r.maxAge = time.Duration(c.MaxAgeDays) * 24 * time.Hour
	}
	return r
}

// rotatingFile appends to path. When a write would push the file past
// maxSize it is renamed to <name>-<UTC timestamp><ext>, a fresh file is
// opened, and copies beyond maxBackups or older than maxAge are removed.
type rotatingFile struct {
	mu     sync.Mutex
	path   string
	limits rotation
	file   *os.File
	size   int64
	now    func() time.Time
}

func openRotatingFile(path string, limits rotation) (*rotatingFile, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	w := &rotatingFile{path: path, limits: limits, now: time.Now}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingFile) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		if err := w.open(); err != nil {
			return 0, err
		}
	}
	if w.size > 0 && w.size+int64(len(p)) > w.limits.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingFile) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func (w *rotatingFile) open() error {
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", w.path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat log file %s: %w", w.path, err)
	}
	w.file, w.size = file, info.Size()
	return nil
}

func (w *rotatingFile) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close log file for rotation: %w", err)
	}
	w.file = nil
	if err := os.Rename(w.path, w.backupName()); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}
	if err := w.open(); err != nil {
		return err
	}
	w.prune()
	return nil
}

func (w *rotatingFile) split() (stem, ext string) {
	ext = filepath.Ext(w.path)
	return strings.TrimSuffix(w.path, ext), ext
}

// backupName is unique even when two rotations share a timestamp.
func (w *rotatingFile) backupName() string {
	stem, ext := w.split()
	base := stem + "-" + w.now().UTC().Format(backupTimeFormat)
	name := base + ext
	for i := 1; ; i++ {
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			return name
		}
		name = fmt.Sprintf("%s.%d%s", base, i, ext)
	}
}

func (w *rotatingFile) backups() []string {
	stem, ext := w.split()
	matches, _ := filepath.Glob(stem + "-*" + ext)
	// Timestamps sort lexically; newest first.
	slices.Sort(matches)
	slices.Reverse(matches)
	return matches
}

func (w *rotatingFile) prune() {
	cutoff := w.now().Add(-w.limits.maxAge)
	for i, name := range w.backups() {
		if i >= w.limits.maxBackups {
			_ = os.Remove(name)
			continue
		}
		if info, err := os.Stat(name); err == nil && info.ModTime().Before(cutoff) {
			_ = os.Remove(name)
		}
	}
}

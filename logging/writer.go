package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// rotatingWriter writes into logs/<day>/<name>-<hour>.log and prunes day
// directories older than maxAge days.
type rotatingWriter struct {
	dir  string
	name string
	ext  string

	maxSize    int
	maxBackups int
	maxAge     int
	compress   bool

	now func() time.Time

	mu        sync.Mutex
	key       string
	current   *lumberjack.Logger
	prunedDay string
}

func newRotatingWriter(path string, maxSize, maxBackups, maxAge int, compress bool) (*rotatingWriter, error) {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	if name == "" || name == "." {
		return nil, fmt.Errorf("invalid log file: %q", path)
	}
	if ext == "" {
		ext = ".log"
	}
	w := &rotatingWriter{
		dir:        filepath.Dir(path),
		name:       name,
		ext:        ext,
		maxSize:    maxSize,
		maxBackups: maxBackups,
		maxAge:     maxAge,
		compress:   compress,
		now:        time.Now,
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.open(w.now()); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *rotatingWriter) pathFor(t time.Time) string {
	return filepath.Join(w.dir, t.Format("2006-01-02"), fmt.Sprintf("%s-%02d%s", w.name, t.Hour(), w.ext))
}

func (w *rotatingWriter) open(t time.Time) error {
	path := w.pathFor(t)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	w.key = t.Format("2006-01-02-15")
	w.current = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    w.maxSize,
		MaxBackups: w.maxBackups,
		MaxAge:     w.maxAge,
		Compress:   w.compress,
	}
	day := t.Format("2006-01-02")
	if w.maxAge > 0 && day != w.prunedDay {
		w.prunedDay = day
		return w.prune(t)
	}
	return nil
}

func (w *rotatingWriter) ensure(t time.Time) error {
	if w.current != nil && w.key == t.Format("2006-01-02-15") {
		return nil
	}
	if w.current != nil {
		_ = w.current.Close()
		w.current = nil
	}
	return w.open(t)
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensure(w.now()); err != nil {
		return 0, err
	}
	return w.current.Write(p)
}

// Rotate forces lumberjack to start a new file
func (w *rotatingWriter) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.ensure(w.now()); err != nil {
		return err
	}
	return w.current.Rotate()
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return nil
	}
	err := w.current.Close()
	w.current = nil
	w.key = ""
	return err
}

func (w *rotatingWriter) prune(t time.Time) error {
	y, m, d := t.Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, t.Location()).AddDate(0, 0, -(w.maxAge - 1))

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read log directory %q: %w", w.dir, err)
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", ent.Name(), t.Location())
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			_ = os.RemoveAll(filepath.Join(w.dir, ent.Name()))
		}
	}
	return nil
}

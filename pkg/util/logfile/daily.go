// Package logfile provides the on-disk log sink: one append-only file per
// calendar day, each rotated by size with a bounded number of backups.
package logfile

import (
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

const dayLayout = "20060102"

type DailyWriter struct {
	dir        string
	prefix     string
	maxSizeMB  int
	maxBackups int
	now        func() time.Time

	mu  sync.Mutex
	day string
	cur *lumberjack.Logger
}

// NewDailyWriter writes to <dir>/proxy_YYYYMMDD.log.
func NewDailyWriter(dir string, maxSizeMB, maxBackups int) *DailyWriter {
	if dir == "" {
		dir = "."
	}
	return &DailyWriter{
		dir:        dir,
		prefix:     "proxy_",
		maxSizeMB:  maxSizeMB,
		maxBackups: maxBackups,
		now:        time.Now,
	}
}

func (w *DailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	day := w.now().Format(dayLayout)
	if w.cur == nil || day != w.day {
		if w.cur != nil {
			_ = w.cur.Close()
		}
		w.day = day
		w.cur = &lumberjack.Logger{
			Filename:   w.filenameFor(day),
			MaxSize:    w.maxSizeMB,
			MaxBackups: w.maxBackups,
			LocalTime:  true,
		}
	}
	return w.cur.Write(p)
}

func (w *DailyWriter) filenameFor(day string) string {
	return filepath.Join(w.dir, w.prefix+day+".log")
}

// Filename is the file currently written to (today's file if nothing has been
// written yet).
func (w *DailyWriter) Filename() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur != nil {
		return w.cur.Filename
	}
	return w.filenameFor(w.now().Format(dayLayout))
}

// Sync is a no-op; lumberjack writes straight to the file.
func (w *DailyWriter) Sync() error { return nil }

func (w *DailyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cur == nil {
		return nil
	}
	err := w.cur.Close()
	w.cur = nil
	return err
}

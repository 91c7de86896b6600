// Package audit appends timestamped lines to the portaria activity log that
// the front-desk forms write to. The analysis pipeline never reads it.
package audit

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const Layout = "2006-01-02 15:04:05"

var ErrEmptyLine = errors.New("audit line is empty")

type Logger struct {
	mu   sync.Mutex
	path string
	now  func() time.Time
}

func New(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Log appends "[YYYY-MM-DD HH:MM:SS] line". Embedded newlines are folded so
// each call produces exactly one log line.
func (l *Logger) Log(line string) error {
	line = strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(line))
	if line == "" {
		return ErrEmptyLine
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("audit mkdir: %w", err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("audit open: %w", err)
	}
	if _, err := fmt.Fprintf(f, "[%s] %s\n", l.now().Format(Layout), line); err != nil {
		f.Close()
		return fmt.Errorf("audit write: %w", err)
	}
	return f.Close()
}

// Entry formats the conventional event record written by the access forms,
// e.g. "ACCESS_GRANTED | Morador | Apto 12".
func Entry(event string, fields ...string) string {
	parts := append([]string{event}, fields...)
	return strings.Join(parts, " | ")
}

// Package runlog writes the per-run log file and mirrors every record to the
// console UI.
package runlog

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joescharf/hoist/internal/output"
)

// FileName returns the log file name for a run started at t.
func FileName(t time.Time) string {
	return "hoist_" + t.Format("20060102_150405") + ".log"
}

// Logger duplicates records to the console and to a run-scoped log file.
type Logger struct {
	ui   *output.UI
	file *logrus.Logger
	w    io.WriteCloser

	// Path is the log file location, empty when logging only to the console.
	Path string
}

// New creates the run log file in dir, named after start.
func New(ui *output.UI, dir string, start time.Time) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path, err := filepath.Abs(filepath.Join(dir, FileName(start)))
	if err != nil {
		return nil, fmt.Errorf("resolve log path: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	l := newFileLogger(f)
	return &Logger{ui: ui, file: l, w: f, Path: path}, nil
}

// NewConsole returns a Logger that only writes to the UI.
func NewConsole(ui *output.UI) *Logger {
	return &Logger{ui: ui, file: newFileLogger(io.Discard)}
}

func newFileLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrus.DebugLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		DisableColors:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	return l
}

// UI returns the console the logger mirrors to.
func (l *Logger) UI() *output.UI { return l.ui }

func (l *Logger) Info(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	l.ui.Info("%s", msg)
	l.file.Info(msg)
}

func (l *Logger) Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	l.ui.Success("%s", msg)
	l.file.WithField("status", "success").Info(msg)
}

func (l *Logger) Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	l.ui.Warning("%s", msg)
	l.file.Warn(msg)
}

func (l *Logger) Error(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	l.ui.Error("%s", msg)
	l.file.Error(msg)
}

// Debug always reaches the file; the console shows it only in verbose mode.
func (l *Logger) Debug(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	l.ui.VerboseLog("%s", msg)
	l.file.Debug(msg)
}

// Stage logs the start of pipeline step n of total.
func (l *Logger) Stage(n, total int, name string) {
	l.ui.Stage(n, total, name)
	l.file.WithField("stage", n).Info(name)
}

// WithField returns a file-only entry for structured detail (command output).
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.file.WithField(key, value)
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	if l.w == nil {
		return nil
	}
	return l.w.Close()
}

// Tail returns the last n lines of a log file.
func Tail(path string, n int) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read log %s: %w", path, err)
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n"), nil
}

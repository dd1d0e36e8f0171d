// Package logging implements the minimal leveled logger backing the
// engine's log_level/log_target/max_log_size/max_log_files options.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Level gates which messages reach the sink.
type Level int

const (
	Off Level = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelTrace
)

// ParseLevel maps the option string to a Level, defaulting to Off on
// an unrecognized value.
func ParseLevel(s string) Level {
	switch s {
	case "error":
		return LevelError
	case "warn":
		return LevelWarn
	case "info":
		return LevelInfo
	case "trace":
		return LevelTrace
	default:
		return Off
	}
}

// Target selects where log output goes.
type Target int

const (
	TargetFile Target = iota
	TargetStdout
	TargetStderr
)

func ParseTarget(s string) Target {
	switch s {
	case "stdout":
		return TargetStdout
	case "stderr":
		return TargetStderr
	default:
		return TargetFile
	}
}

// Logger is a small leveled wrapper over the standard library logger with
// size-based rotation, the way the teacher keeps ambient concerns on the
// standard library rather than a third-party logging framework.
type Logger struct {
	mu          sync.Mutex
	level       Level
	path        string
	maxSize     int64
	maxFiles    int
	file        *os.File
	written     int64
	std         *log.Logger
}

// Options configures a Logger; zero values select off-logging to stderr.
type Options struct {
	Level       Level
	Target      Target
	Path        string // used when Target == TargetFile
	MaxLogSize  int64  // bytes per file before rotation; 0 = no rotation
	MaxLogFiles int    // retained rotated files; 0 = unbounded
}

// New opens a Logger per Options. A Target of TargetFile creates Path if
// needed and appends to it (stderr is used when Path is empty).
func New(opts Options) (*Logger, error) {
	l := &Logger{level: opts.Level, path: opts.Path, maxSize: opts.MaxLogSize, maxFiles: opts.MaxLogFiles}

	var w io.Writer
	switch opts.Target {
	case TargetStdout:
		w = os.Stdout
	case TargetStderr:
		w = os.Stderr
	default:
		if opts.Path == "" {
			w = os.Stderr
		} else {
			f, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, err
			}
			info, err := f.Stat()
			if err != nil {
				f.Close()
				return nil, err
			}
			l.file = f
			l.written = info.Size()
			w = f
		}
	}

	l.std = log.New(w, "", log.LstdFlags|log.Lmicroseconds)
	return l, nil
}

func (l *Logger) log(level Level, prefix, format string, args ...any) {
	if l == nil || l.level < level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf(prefix+" "+format, args...)
	l.std.Println(msg)

	if l.file != nil && l.maxSize > 0 {
		l.written += int64(len(msg)) + 1
		if l.written >= l.maxSize {
			l.rotateLocked()
		}
	}
}

// rotateLocked renames the current file to a numbered suffix and opens a
// fresh one, trimming beyond maxFiles. Caller must hold l.mu.
func (l *Logger) rotateLocked() {
	l.file.Close()

	last := l.maxFiles
	if last > 0 {
		os.Remove(fmt.Sprintf("%s.%d", l.path, last))
	} else {
		// Unbounded retention: shift every existing rotated file up by one.
		for last = 1; ; last++ {
			if _, err := os.Stat(fmt.Sprintf("%s.%d", l.path, last)); err != nil {
				break
			}
		}
	}
	for i := last - 1; i >= 1; i-- {
		os.Rename(fmt.Sprintf("%s.%d", l.path, i), fmt.Sprintf("%s.%d", l.path, i+1))
	}
	os.Rename(l.path, fmt.Sprintf("%s.1", l.path))

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return
	}
	l.file = f
	l.written = 0
	l.std.SetOutput(f)
}

func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, "[ERROR]", format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log(LevelWarn, "[WARN]", format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log(LevelInfo, "[INFO]", format, args...) }
func (l *Logger) Tracef(format string, args ...any) { l.log(LevelTrace, "[TRACE]", format, args...) }

// Close closes the backing file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Package logger is a small leveled logger writing to a file. The process's
// stdio belongs to the editor RPC channel, so nothing may be printed there.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Level controls which messages are written.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

var (
	mu     sync.Mutex
	out    *log.Logger
	level  = LevelInfo
	closer *os.File
)

// Init opens the log file and sets the minimum level. Passing an empty path
// leaves logging disabled.
func Init(path string, lvl Level) error {
	mu.Lock()
	defer mu.Unlock()

	level = lvl
	if path == "" {
		out = nil
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	if closer != nil {
		closer.Close()
	}
	closer = f
	out = log.New(f, "", log.LstdFlags|log.Lmicroseconds)
	return nil
}

// Close flushes and closes the log file.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer.Close()
		closer = nil
		out = nil
	}
}

func write(lvl Level, tag, format string, args ...any) {
	mu.Lock()
	defer mu.Unlock()
	if out == nil || lvl < level {
		return
	}
	out.Printf(tag+" "+format, args...)
}

// Debug logs at debug level.
func Debug(format string, args ...any) { write(LevelDebug, "DEBUG", format, args...) }

// Info logs at info level.
func Info(format string, args ...any) { write(LevelInfo, "INFO", format, args...) }

// Error logs at error level.
func Error(format string, args ...any) { write(LevelError, "ERROR", format, args...) }

// Trace logs entry into a named operation and returns a func that logs the
// elapsed time when deferred.
func Trace(name string) func() {
	start := time.Now()
	write(LevelDebug, "TRACE", "%s: enter", name)
	return func() {
		write(LevelDebug, "TRACE", "%s: done in %s", name, time.Since(start))
	}
}

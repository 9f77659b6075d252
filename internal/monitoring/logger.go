package monitoring

import (
	"fmt"
	"log"
	"strings"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level gates per-worker log verbosity. Workers get their level from the
// log_level config option, falling back to the controller's.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// ParseLevel maps a config string to a Level. The empty string maps to
// LevelWarn, matching the quiet default for unconfigured workers.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "":
		return LevelWarn, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelWarn, fmt.Errorf("unknown log level %q", s)
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// Logger is a named, leveled front over Logf. Every worker owns one, so log
// lines always identify the worker that produced them.
type Logger struct {
	name  string
	level Level
}

// NewLogger returns a logger that prefixes lines with the given name and
// drops lines below level.
func NewLogger(name string, level Level) *Logger {
	return &Logger{name: name, level: level}
}

// Named returns a child logger sharing this logger's level.
func (l *Logger) Named(name string) *Logger {
	return &Logger{name: name, level: l.level}
}

// Level returns the logger's threshold.
func (l *Logger) Level() Level { return l.level }

func (l *Logger) logf(lvl Level, format string, v ...interface{}) {
	if lvl < l.level {
		return
	}
	Logf("[%s] %s", l.name, fmt.Sprintf(format, v...))
}

// Debugf logs at debug level.
func (l *Logger) Debugf(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }

// Infof logs at info level.
func (l *Logger) Infof(format string, v ...interface{}) { l.logf(LevelInfo, format, v...) }

// Warnf logs at warn level.
func (l *Logger) Warnf(format string, v ...interface{}) { l.logf(LevelWarn, format, v...) }

// Errorf logs at error level.
func (l *Logger) Errorf(format string, v ...interface{}) { l.logf(LevelError, format, v...) }

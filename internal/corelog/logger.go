// Package corelog provides the leveled logger shared by every coherence
// subsystem, adapted from the project's original simulator logger.
package corelog

import (
	"fmt"
	logpkg "log"
	"os"
)

// Level defines severity for logger output.
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// Logger provides leveled logging over a standard library log.Logger.
type Logger struct {
	level  Level
	logger *logpkg.Logger
}

// New creates a logger with the desired level and prefix.
func New(level Level, prefix string) *Logger {
	return &Logger{
		level:  level,
		logger: logpkg.New(os.Stdout, prefix, logpkg.LstdFlags|logpkg.Lmicroseconds),
	}
}

// SetLevel adjusts the current logging level.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.level = level
}

func (l *Logger) logf(target Level, format string, args ...any) {
	if l == nil || target > l.level {
		return
	}
	l.logger.Output(3, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

var defaultLogger = New(LevelInfo, "[swmc] ")

// Default returns the shared global logger.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the global logger (primarily for tests).
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	defaultLogger = l
}

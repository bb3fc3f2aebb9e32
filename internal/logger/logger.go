// Package logger provides leveled logging with per-component prefixes.
package logger

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger writes leveled messages, optionally tagged with a component name.
type Logger struct {
	level     Level
	component string
	logger    *log.Logger
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

func parseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Init initializes the default logger with the specified level and format.
func Init(level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}

	mu.Lock()
	defaultLogger = &Logger{
		level:  parseLevel(level),
		logger: log.New(os.Stderr, "", flags),
	}
	mu.Unlock()
}

// Component returns a logger that tags every line with the component name.
// Safe to call before Init; an uninitialized component logger drops output
// until Init runs.
func Component(name string) *Logger {
	return &Logger{component: name}
}

func (l *Logger) sink() *Logger {
	mu.RLock()
	d := defaultLogger
	mu.RUnlock()
	if l.logger != nil {
		return l
	}
	return d
}

func (l *Logger) output(level Level, tag, format string, args ...interface{}) {
	s := l.sink()
	if s == nil || s.level > level {
		return
	}
	prefix := tag
	if l.component != "" {
		prefix = tag + " [" + l.component + "]"
	}
	msg := fmt.Sprintf(prefix+" "+format, args...)
	_ = s.logger.Output(3, msg)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.output(DebugLevel, "[DEBUG]", format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.output(InfoLevel, "[INFO]", format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.output(WarnLevel, "[WARN]", format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.output(ErrorLevel, "[ERROR]", format, args...)
}

var root = &Logger{}

func Debug(format string, args ...interface{}) {
	root.output(DebugLevel, "[DEBUG]", format, args...)
}

func Info(format string, args ...interface{}) {
	root.output(InfoLevel, "[INFO]", format, args...)
}

func Warn(format string, args ...interface{}) {
	root.output(WarnLevel, "[WARN]", format, args...)
}

func Error(format string, args ...interface{}) {
	root.output(ErrorLevel, "[ERROR]", format, args...)
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf("[FATAL] "+format, args...)
	mu.RLock()
	d := defaultLogger
	mu.RUnlock()
	if d != nil {
		_ = d.logger.Output(2, msg)
	}
	os.Exit(1)
}

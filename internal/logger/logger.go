// Package logger provides a simple logging interface for devpoll components.
// It allows packages to log debug, info, warn, and error messages without
// being coupled to a specific logging implementation.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Logger defines the interface for logging operations.
// All methods accept a format string and arguments, similar to fmt.Printf.
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
}

// DebugEnv forces debug output on every logger when set.
const DebugEnv = "DEVPOLL_DEBUG"

// Level is the minimum severity a level logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// LevelFromVerbosity maps a -v count to a level: 0 warn, 1 info, 2+ debug.
func LevelFromVerbosity(count int) Level {
	switch {
	case os.Getenv(DebugEnv) != "":
		return LevelDebug
	case count >= 2:
		return LevelDebug
	case count == 1:
		return LevelInfo
	default:
		return LevelWarn
	}
}

// envLogger implements Logger and logs through the standard log package.
// Debug messages are only printed when DEVPOLL_DEBUG is set.
type envLogger struct {
	prefix string
}

// NewEnvLogger creates a logger that respects the DEVPOLL_DEBUG environment variable.
// The prefix is prepended to all log messages (e.g., "[pool]").
func NewEnvLogger(prefix string) Logger {
	return &envLogger{prefix: prefix}
}

func (l *envLogger) Debug(format string, args ...interface{}) {
	if os.Getenv(DebugEnv) != "" {
		log.Printf(l.prefix+" "+format, args...)
	}
}

func (l *envLogger) Info(format string, args ...interface{}) {
	log.Printf(l.prefix+" "+format, args...)
}

func (l *envLogger) Warn(format string, args ...interface{}) {
	log.Printf(l.prefix+" WARN: "+format, args...)
}

func (l *envLogger) Error(format string, args ...interface{}) {
	log.Printf(l.prefix+" ERROR: "+format, args...)
}

// levelLogger writes messages at or above a minimum level to a writer.
type levelLogger struct {
	out    *log.Logger
	prefix string
	min    Level
}

// NewLevelLogger creates a logger writing to w that drops messages below min.
func NewLevelLogger(w io.Writer, prefix string, min Level) Logger {
	return &levelLogger{
		out:    log.New(w, "", log.LstdFlags),
		prefix: prefix,
		min:    min,
	}
}

func (l *levelLogger) logf(level Level, tag, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	var b strings.Builder
	if l.prefix != "" {
		b.WriteString(l.prefix)
		b.WriteByte(' ')
	}
	b.WriteString(tag)
	b.WriteString(fmt.Sprintf(format, args...))
	l.out.Print(b.String())
}

func (l *levelLogger) Debug(format string, args ...interface{}) {
	l.logf(LevelDebug, "DEBUG: ", format, args...)
}

func (l *levelLogger) Info(format string, args ...interface{}) {
	l.logf(LevelInfo, "", format, args...)
}

func (l *levelLogger) Warn(format string, args ...interface{}) {
	l.logf(LevelWarn, "WARN: ", format, args...)
}

func (l *levelLogger) Error(format string, args ...interface{}) {
	l.logf(LevelError, "ERROR: ", format, args...)
}

// prefixed decorates another logger with an extra prefix.
type prefixed struct {
	next   Logger
	prefix string
}

// With returns a logger that prepends prefix to every message sent to l.
// Used to tag per-host log lines, e.g. With(l, "[core-1]").
func With(l Logger, prefix string) Logger {
	if l == nil {
		l = Noop()
	}
	return &prefixed{next: l, prefix: prefix + " "}
}

func (p *prefixed) Debug(format string, args ...interface{}) {
	p.next.Debug(p.prefix+format, args...)
}

func (p *prefixed) Info(format string, args ...interface{}) {
	p.next.Info(p.prefix+format, args...)
}

func (p *prefixed) Warn(format string, args ...interface{}) {
	p.next.Warn(p.prefix+format, args...)
}

func (p *prefixed) Error(format string, args ...interface{}) {
	p.next.Error(p.prefix+format, args...)
}

// noopLogger implements Logger but discards all messages.
type noopLogger struct{}

// Noop returns a logger that discards all messages.
func Noop() Logger {
	return &noopLogger{}
}

func (l *noopLogger) Debug(format string, args ...interface{}) {}
func (l *noopLogger) Info(format string, args ...interface{})  {}
func (l *noopLogger) Warn(format string, args ...interface{})  {}
func (l *noopLogger) Error(format string, args ...interface{}) {}

// LogMessage represents a captured log message.
type LogMessage struct {
	Level   string
	Message string
}

// BufferLogger captures log messages for testing.
// Safe for use from concurrent host loops.
type BufferLogger struct {
	mu       sync.Mutex
	Messages []LogMessage
}

// NewBufferLogger creates a logger that captures messages for inspection.
func NewBufferLogger() *BufferLogger {
	return &BufferLogger{
		Messages: make([]LogMessage, 0),
	}
}

func (l *BufferLogger) add(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = append(l.Messages, LogMessage{Level: level, Message: fmt.Sprintf(format, args...)})
}

func (l *BufferLogger) Debug(format string, args ...interface{}) { l.add("debug", format, args...) }
func (l *BufferLogger) Info(format string, args ...interface{})  { l.add("info", format, args...) }
func (l *BufferLogger) Warn(format string, args ...interface{})  { l.add("warn", format, args...) }
func (l *BufferLogger) Error(format string, args ...interface{}) { l.add("error", format, args...) }

// HasLevel returns true if any message was logged at the given level.
func (l *BufferLogger) HasLevel(level string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Messages {
		if m.Level == level {
			return true
		}
	}
	return false
}

// Contains returns true if any captured message contains substr.
func (l *BufferLogger) Contains(substr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range l.Messages {
		if strings.Contains(m.Message, substr) {
			return true
		}
	}
	return false
}

// Clear removes all captured messages.
func (l *BufferLogger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Messages = l.Messages[:0]
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = NewEnvLogger("")
)

// Default returns the default logger for the package.
func Default() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefault sets the default logger for the package.
func SetDefault(l Logger) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// Package logging provides the levelled, optionally colourised logger used
// across mcp-aras.
//
// All output goes to stderr by default: when the MCP server runs over stdio,
// stdout carries the JSON-RPC stream and must never receive log lines.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level is a logging severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// String returns the canonical name of the level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel converts a LOG_LEVEL value into a Level. Matching is case
// insensitive and accepts the common aliases WARN and ERR.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "TRACE":
		return LevelDebug, nil
	case "", "INFO":
		return LevelInfo, nil
	case "WARNING", "WARN":
		return LevelWarning, nil
	case "ERROR", "ERR":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// ANSI colour codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
)

// Logger writes formatted, timestamped log lines.
type Logger struct {
	mu        sync.Mutex
	level     Level
	useColor  bool
	traceHTTP bool
	writer    io.Writer
	now       func() time.Time
}

// NewLogger creates a logger writing to stderr.
func NewLogger(level Level, useColor, traceHTTP bool) *Logger {
	return NewLoggerWithWriter(level, useColor, traceHTTP, os.Stderr)
}

// NewLoggerWithWriter creates a logger writing to w.
func NewLoggerWithWriter(level Level, useColor, traceHTTP bool, w io.Writer) *Logger {
	return &Logger{
		level:     level,
		useColor:  useColor,
		traceHTTP: traceHTTP,
		writer:    w,
		now:       time.Now,
	}
}

// Discard returns a logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewLoggerWithWriter(LevelError+1, false, false, io.Discard)
}

// SetWriter replaces the output writer.
func (l *Logger) SetWriter(w io.Writer) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writer = w
}

// SetLevel changes the minimum level that is written.
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetVerbose toggles debug output.
func (l *Logger) SetVerbose(verbose bool) {
	if verbose {
		l.SetLevel(LevelDebug)
	} else {
		l.SetLevel(LevelInfo)
	}
}

// Verbose reports whether debug output is enabled.
func (l *Logger) Verbose() bool {
	if l == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level <= LevelDebug
}

func (l *Logger) log(level Level, color, prefix, format string, args ...interface{}) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if level < l.level || l.writer == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	ts := l.now().Format("15:04:05.000")
	if l.useColor {
		_, _ = fmt.Fprintf(l.writer, "%s%s%s %s%s%s %s\n", colorGray, ts, colorReset, color, prefix, colorReset, msg)
		return
	}
	_, _ = fmt.Fprintf(l.writer, "%s %s %s\n", ts, prefix, msg)
}

// Debug logs a message only when debug output is enabled.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, colorGray, "[DEBUG]", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, colorBlue, "[INFO]", format, args...)
}

// Success logs a successful outcome at info level.
func (l *Logger) Success(format string, args ...interface{}) {
	l.log(LevelInfo, colorGreen, "[OK]", format, args...)
}

// Warning logs a warning.
func (l *Logger) Warning(format string, args ...interface{}) {
	l.log(LevelWarning, colorYellow, "[WARN]", format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, colorRed, "[ERROR]", format, args...)
}

// InfoVerbose logs an informational message only in verbose mode.
func (l *Logger) InfoVerbose(format string, args ...interface{}) {
	l.log(LevelDebug, colorBlue, "[INFO]", format, args...)
}

// WarningVerbose logs a warning only in verbose mode.
func (l *Logger) WarningVerbose(format string, args ...interface{}) {
	l.log(LevelDebug, colorYellow, "[WARN]", format, args...)
}

// Request traces an outgoing HTTP request. Only written when HTTP tracing is
// on and the level is debug.
func (l *Logger) Request(requestID, method, url string) {
	if l == nil || !l.traceHTTP {
		return
	}
	l.log(LevelDebug, colorCyan, "[HTTP →]", "%s %s %s", requestID, method, url)
}

// Response traces an HTTP response.
func (l *Logger) Response(requestID string, status int, elapsed time.Duration) {
	if l == nil || !l.traceHTTP {
		return
	}
	l.log(LevelDebug, colorCyan, "[HTTP ←]", "%s %d (%s)", requestID, status, elapsed.Round(time.Millisecond))
}

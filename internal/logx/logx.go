// Package logx is the ambient logging stack: a thin wrapper over the
// standard log package producing the wire-level record shape the runtime
// requires, [LEVEL:pid:file:line:xid] <text>, without pulling in a
// structured-logging library — nothing in the retrieval corpus this
// project is grounded on imports one.
package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
)

// Level is one of the six severities the wire format names.
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelActivity
	LevelDebug
	LevelInternal
)

func (l Level) String() string {
	switch l {
	case LevelError:
		return "ERR"
	case LevelWarning:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelActivity:
		return "ACT"
	case LevelDebug:
		return "DEBG"
	case LevelInternal:
		return "INTL"
	default:
		return "????"
	}
}

// Logger writes level-tagged records to a main sink, and ACTIVITY records
// additionally to a separate sink standing in for the syslog facility spec
// describes (an external collaborator; this process only produces records).
type Logger struct {
	mu       sync.Mutex
	main     *log.Logger
	activity *log.Logger
	level    Level

	protectMu sync.RWMutex
	protect   []string
}

// New builds a Logger writing main records to out and ACTIVITY records
// additionally to activityOut (pass the same writer for both if there is
// no distinct syslog sink). level is the minimum severity that reaches out;
// ACTIVITY is exempt: it always reaches activityOut, and its INFO-level copy
// always reaches out, regardless of level.
func New(out, activityOut io.Writer, level Level) *Logger {
	if activityOut == nil {
		activityOut = out
	}
	return &Logger{
		main:     log.New(out, "", 0),
		activity: log.New(activityOut, "", 0),
		level:    level,
	}
}

// Default builds a Logger writing to stderr at INFO.
func Default() *Logger {
	return New(os.Stderr, nil, LevelInfo)
}

// ParseLevel maps a config tree's /loglevel string onto a Level, defaulting
// to INFO for an empty or unrecognized value.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error", "err":
		return LevelError
	case "warn", "warning":
		return LevelWarning
	case "activity", "act":
		return LevelActivity
	case "debug", "debg":
		return LevelDebug
	case "internal", "intl":
		return LevelInternal
	default:
		return LevelInfo
	}
}

// Discard builds a Logger that drops every record; used where a component
// is given no logger and logging is genuinely optional.
func Discard() *Logger {
	return New(io.Discard, io.Discard, LevelInternal)
}

// SetProtect replaces the list of method-name prefixes whose parameters are
// redacted in ACTIVITY records.
func (l *Logger) SetProtect(prefixes []string) {
	cp := append([]string(nil), prefixes...)
	sort.Strings(cp)
	l.protectMu.Lock()
	l.protect = cp
	l.protectMu.Unlock()
}

func (l *Logger) protects(method string) bool {
	l.protectMu.RLock()
	defer l.protectMu.RUnlock()
	for _, p := range l.protect {
		if strings.HasPrefix(method, p) {
			return true
		}
	}
	return false
}

const redactionMarker = "***"

func (l *Logger) record(level Level, xid, text string) {
	if level != LevelActivity && level > l.level {
		return
	}
	_, file, line, ok := runtime.Caller(2)
	if !ok {
		file, line = "???", 0
	} else {
		file = file[strings.LastIndexByte(file, '/')+1:]
	}
	line1 := fmt.Sprintf("[%s:%d:%s:%d:%s] %s", level, os.Getpid(), file, line, xid, text)

	l.mu.Lock()
	defer l.mu.Unlock()
	if level == LevelActivity {
		l.activity.Print(line1)
		l.main.Print(fmt.Sprintf("[%s:%d:%s:%d:%s] %s", LevelInfo, os.Getpid(), file, line, xid, text))
		return
	}
	l.main.Print(line1)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.record(LevelError, "-", fmt.Sprintf(format, args...))
}

func (l *Logger) Warning(format string, args ...interface{}) {
	l.record(LevelWarning, "-", fmt.Sprintf(format, args...))
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.record(LevelInfo, "-", fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.record(LevelDebug, "-", fmt.Sprintf(format, args...))
}

func (l *Logger) Internal(format string, args ...interface{}) {
	l.record(LevelInternal, "-", fmt.Sprintf(format, args...))
}

// WithXID binds a per-conversation trace id (xid) to every record emitted
// through the returned XIDLogger, so concurrent pool children logging
// through the same process never cross-contaminate lines.
func (l *Logger) WithXID(xid string) *XIDLogger {
	return &XIDLogger{l: l, xid: xid}
}

// XIDLogger is a Logger bound to one conversation's trace id.
type XIDLogger struct {
	l   *Logger
	xid string
}

func (x *XIDLogger) Error(format string, args ...interface{}) {
	x.l.record(LevelError, x.xid, fmt.Sprintf(format, args...))
}

func (x *XIDLogger) Warning(format string, args ...interface{}) {
	x.l.record(LevelWarning, x.xid, fmt.Sprintf(format, args...))
}

func (x *XIDLogger) Info(format string, args ...interface{}) {
	x.l.record(LevelInfo, x.xid, fmt.Sprintf(format, args...))
}

func (x *XIDLogger) Debug(format string, args ...interface{}) {
	x.l.record(LevelDebug, x.xid, fmt.Sprintf(format, args...))
}

func (x *XIDLogger) Internal(format string, args ...interface{}) {
	x.l.record(LevelInternal, x.xid, fmt.Sprintf(format, args...))
}

// Activity logs a method invocation at ACTIVITY level, redacting params
// when method matches a protected prefix.
func (x *XIDLogger) Activity(method string, params []interface{}) {
	shown := params
	if x.l.protects(method) {
		shown = make([]interface{}, len(params))
		for i := range shown {
			shown[i] = redactionMarker
		}
	}
	x.l.record(LevelActivity, x.xid, fmt.Sprintf("CALL %s %v", method, shown))
}

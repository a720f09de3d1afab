// Package klog is the kernel's log formatter: a fixed-size ring of
// formatted lines behind its own lock (spec.md §5: "the kernel log …
// protected by its own lock obtained only by the log formatter; the
// core never touches them outside the formatter"). Grounded on the
// teacher's pervasive fmt.Printf-as-kernel-log idiom, reshaped into a
// typed logger (spec.md §9: "vararg printf … re-express as typed
// formatting; the log buffer ring is a bounded circular sequence
// guarded by its own lock").
package klog

import (
	"fmt"
	"sync"

	"hankernel/ring"
)

// DefaultCapacity is the size, in bytes, of the in-memory log ring.
const DefaultCapacity = 64 * 1024

// Level distinguishes informational output from diagnostics a human
// debugging a panic will want highlighted.
type Level int

const (
	Info Level = iota
	Warn
	Error
)

func (l Level) String() string {
	switch l {
	case Warn:
		return "WARN"
	case Error:
		return "ERROR"
	default:
		return "INFO"
	}
}

// Log is a single kernel log instance. Package-level helpers use
// Default; cmd/kernel's Boot and tests construct their own.
type Log struct {
	mu  sync.Mutex
	buf *ring.Buffer
	// sink additionally receives every formatted line, e.g. a serial
	// port or framebuffer terminal driver (§1: out of core scope, but
	// the core still needs a hook to feed one).
	sink func(string)
}

// New allocates a Log with the given ring capacity.
func New(capacity int) *Log {
	return &Log{buf: ring.New(capacity)}
}

// Default is the kernel-wide log instance used by subsystems that
// don't carry their own Log reference.
var Default = New(DefaultCapacity)

// SetSink installs f as the external consumer of formatted lines (a
// framebuffer terminal or serial port driver, both out of core scope
// per spec.md §1). Passing nil disables the sink.
func (l *Log) SetSink(f func(string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sink = f
}

// Logf formats and appends a line at the given level.
func (l *Log) Logf(lvl Level, format string, args ...any) {
	line := fmt.Sprintf("[%s] "+format+"\n", append([]any{lvl}, args...)...)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf.Write([]uint8(line))
	if l.sink != nil {
		l.sink(line)
	}
}

// Infof/Warnf/Errorf are convenience wrappers around Logf.
func (l *Log) Infof(format string, args ...any)  { l.Logf(Info, format, args...) }
func (l *Log) Warnf(format string, args ...any)  { l.Logf(Warn, format, args...) }
func (l *Log) Errorf(format string, args ...any) { l.Logf(Error, format, args...) }

// Dump returns all bytes currently buffered, oldest first, without
// consuming them — used by cmd/kstat's snapshot.
func (l *Log) Dump() []byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := l.buf.Len()
	out := make([]uint8, n)
	// Peek semantics: read then rewrite, since ring.Buffer is a
	// destructive reader and the log must remain intact for later
	// readers.
	l.buf.Read(out)
	l.buf.Write(out)
	return out
}

// Infof/Warnf/Errorf on the package default, for call sites that don't
// need a dedicated Log (the overwhelming majority, matching the
// teacher's single global klog_info).
func Infof(format string, args ...any)  { Default.Infof(format, args...) }
func Warnf(format string, args ...any)  { Default.Warnf(format, args...) }
func Errorf(format string, args ...any) { Default.Errorf(format, args...) }

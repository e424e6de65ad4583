// Package logging wraps the standard library's log package with the
// level gating and peer/stage context the client and server orchestrators
// need for --debug/--remote-debug, in the teacher's own terse style: a
// package-level *log.Logger per orchestrator, writing to stderr, with no
// structured-logging dependency (see DESIGN.md for why).
package logging

import (
	"io"
	"log"
	"os"
)

// Logger gates Debugf output behind whether the peer asked to see it.
type Logger struct {
	std     *log.Logger
	verbose bool
}

// New builds a Logger writing to os.Stderr with the given tag as its line
// prefix, e.g. "qcp[client]" or "qcp[server]".
func New(tag string, verbose bool) *Logger {
	return &Logger{
		std:     log.New(os.Stderr, tag+": ", log.LstdFlags),
		verbose: verbose,
	}
}

// NewTo is New with an explicit writer, for tests.
func NewTo(w io.Writer, tag string, verbose bool) *Logger {
	return &Logger{std: log.New(w, tag+": ", log.LstdFlags), verbose: verbose}
}

// Infof always prints: state transitions and outcomes a user running
// without --debug should still be able to see if something goes wrong.
func (l *Logger) Infof(format string, args ...any) {
	l.std.Printf(format, args...)
}

// Debugf prints only when verbose (--debug on the client, --remote-debug
// on the server) was requested.
func (l *Logger) Debugf(format string, args ...any) {
	if l.verbose {
		l.std.Printf(format, args...)
	}
}

// SetVerbose flips debug output on or off, letting the server orchestrator
// react to the client's ShowDebug flag once the greeting has been read.
func (l *Logger) SetVerbose(v bool) {
	l.verbose = v
}

// Package logging centralizes the engine's structured logging
// conventions so every subsystem (page store, GC, locking, worker pool,
// recovery) logs through the same field names instead of inventing its
// own. Grounded on the teacher's *log.Logger-based warning path
// (service/mvcc/manager.go) generalized to zerolog, the structured
// logger the pack's server teachers (edirooss-zmux-server, cuemby-warren)
// use.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// New builds a component logger bound to the given subsystem name. Every
// constructor in this module takes a zerolog.Logger value rather than
// reaching for a package global, so tests can capture output and
// production callers can route everything to one sink.
func New(component string) zerolog.Logger {
	return baseLogger().With().Str("component", component).Logger()
}

// Nop returns a logger that discards everything, used as the zero value
// default when a caller does not care to observe a subsystem.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

var (
	once   sync.Once
	global zerolog.Logger
	out    io.Writer = os.Stderr
)

// SetOutput redirects every future New() logger to w. Intended for tests
// that want to assert on log output; must be called before the first New.
func SetOutput(w io.Writer) {
	out = w
}

func baseLogger() zerolog.Logger {
	once.Do(func() {
		global = zerolog.New(out).With().Timestamp().Logger()
	})
	return global
}

// WithTable annotates a logger with the (schema, name) pair of the table
// an operation concerns.
func WithTable(l zerolog.Logger, schema, table string) zerolog.Logger {
	return l.With().Str("schema", schema).Str("table", table).Logger()
}

// WithSlot annotates a logger with a physical slot id.
func WithSlot(l zerolog.Logger, slot int64) zerolog.Logger {
	return l.With().Int64("slot", slot).Logger()
}

// WithXID annotates a logger with a transaction id.
func WithXID(l zerolog.Logger, xid int64) zerolog.Logger {
	return l.With().Int64("xid", xid).Logger()
}

// WithCommitID annotates a logger with an assigned commit id.
func WithCommitID(l zerolog.Logger, commitID int64) zerolog.Logger {
	return l.With().Int64("commit_id", commitID).Logger()
}

// Package logging wires the engine's ambient structured logging stack:
// github.com/joeycumines/logiface fronting the stdlib-backed
// github.com/joeycumines/logiface-slog writer, mirroring the teacher's
// own logiface-slog package (which exists purely to plug logiface into
// log/slog).
//
// DEBUG/TRACE/DEBUG_RANKS (spec §6) select the logger level and a
// per-rank sampling predicate; PERF_COUNTERS_PRINT routes through this
// same logger at Info level (see internal/metrics).
package logging

import (
	"log/slog"
	"os"

	"github.com/joeycumines/logiface"
	logifaceslog "github.com/joeycumines/logiface-slog"
)

// Logger is the concrete event type used throughout the engine.
type Logger = logiface.Logger[*logifaceslog.Event]

// Options configure New.
type Options struct {
	Debug bool
	Trace bool
	// DebugRanks, if non-empty, restricts Debug/Trace output to the
	// listed ranks; nil/empty means all ranks log at the configured
	// level (spec §6 DEBUG_RANKS).
	DebugRanks map[int]bool
	Rank       int
	Out        *os.File
}

// New constructs a Logger per Options. Rank only decides DEBUG_RANKS
// filtering; New binds no "rank" field (WithRank does).
func New(opts Options) *Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	level := logiface.LevelNotice
	switch {
	case opts.Trace:
		level = logiface.LevelTrace
	case opts.Debug:
		level = logiface.LevelDebug
	}

	if len(opts.DebugRanks) > 0 && !opts.DebugRanks[opts.Rank] {
		// this rank is excluded from DEBUG_RANKS sampling: fall back to
		// Notice regardless of Debug/Trace.
		level = logiface.LevelNotice
	}

	handler := slog.NewTextHandler(out, &slog.HandlerOptions{})
	base := logiface.New[*logifaceslog.Event](
		logifaceslog.NewLogger(handler),
		logiface.WithLevel[*logifaceslog.Event](level),
	)
	return base
}

// WithRank returns a child logger with "rank" bound as a persistent field
// on every subsequent event, following the teacher's Clone/Context
// composition pattern in logiface.
func WithRank(l *Logger, rank int) *Logger {
	return l.Clone().Int("rank", rank).Logger()
}

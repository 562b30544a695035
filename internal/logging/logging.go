// Package logging builds the structured logger shared by stepwasm commands.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strconv"

	"golang.org/x/term"
)

// EnvDebug enables debug output when set to a true value.
const EnvDebug = "STEPWASM_DEBUG"

// New returns a logger writing to stderr. Terminals get text output; pipes
// and files get JSON lines.
func New(debug bool) *slog.Logger {
	return NewWriter(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), debug)
}

// NewWriter builds a logger over w. text selects slog.TextHandler.
func NewWriter(w io.Writer, text bool, debug bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: Level(debug)}
	var handler slog.Handler
	if text {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}

func Level(debug bool) slog.Level {
	if debug || DebugFromEnv() {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}

// DebugFromEnv reports whether STEPWASM_DEBUG parses as true.
func DebugFromEnv() bool {
	enabled, err := strconv.ParseBool(os.Getenv(EnvDebug))
	return err == nil && enabled
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

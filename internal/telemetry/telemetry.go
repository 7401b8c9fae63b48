// Package telemetry sets up Browser-Bridge's structured logging. The
// teacher logs with the standard library's log package; the daemon's
// multi-client, multi-session routing has enough concurrent, correlated
// event streams (per-connection, per-session, per-request) that plain
// log.Printf loses the ability to filter one session's history out of
// the noise, so this package standardizes on zerolog's structured
// fields instead.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a logger that writes human-readable console output to
// stderr and, when logFile is non-empty, also appends structured JSON
// lines to that file — the console stream is for an operator watching
// the daemon run in a terminal, the file is for later correlation.
func New(component string, logFile string, debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}

	var writer io.Writer = console
	if logFile != "" {
		if f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644); err == nil {
			writer = zerolog.MultiLevelWriter(console, f)
		}
	}

	return zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// TruncateParams renders a params payload for a log line without
// dumping arbitrarily large user data into the log stream (spec §9:
// "log params truncated").
func TruncateParams(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "...(truncated)"
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// LogLevelEnvironmentVariable overrides the command log level
// ("debug", "info", "warn", "error").
const LogLevelEnvironmentVariable = "SWITCHBOARD_LOG_LEVEL"

// NewCommandLogger returns the logger commands write diagnostics to.
// On a terminal it is slog's text format; piped or redirected it is
// JSON, matching what "switchboard serve" writes under a supervisor.
//
// Commands scope it with their own attributes:
//
//	logger = logger.With("command", "delegate/grant", "router", router.String())
func NewCommandLogger() *slog.Logger {
	return newLogger(os.Stderr, term.IsTerminal(int(os.Stderr.Fd())), logLevel(os.Getenv(LogLevelEnvironmentVariable)))
}

// logLevel parses text as a slog level, falling back to info.
func logLevel(text string) slog.Level {
	var level slog.Level
	if text == "" || level.UnmarshalText([]byte(text)) != nil {
		return slog.LevelInfo
	}
	return level
}

func newLogger(w io.Writer, terminal bool, level slog.Level) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

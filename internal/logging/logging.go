// Package logging configures the default slog logger for the recallx commands.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel maps a level name to a slog level. Unknown names yield info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// OnAWS reports whether the process runs in Lambda or another AWS runtime.
func OnAWS() bool {
	return os.Getenv("AWS_LAMBDA_RUNTIME_API") != "" || os.Getenv("AWS_REGION") != ""
}

// NewHandler returns a JSON handler on AWS, where logs are shipped to
// CloudWatch, and a text handler otherwise.
func NewHandler(w io.Writer, level string, json bool) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if json {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// Setup installs the default logger. Logs go to stderr so command output on
// stdout stays machine-readable.
func Setup(level string) {
	slog.SetDefault(slog.New(NewHandler(os.Stderr, level, OnAWS())))
}

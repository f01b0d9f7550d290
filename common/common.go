// Package common holds process-wide constants and logger setup shared by the
// binaries.
package common

import (
	"log/slog"
	"os"
)

// Version is overridden at build time with -ldflags "-X ...common.Version=...".
var Version = "dev"

const (
	PackageName = "github.com/ruteri/attachment-store"

	// MetricsNamespace prefixes every exported Prometheus metric.
	MetricsNamespace = "attachments"
)

// LoggingOpts configures SetupLogger.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string
}

// SetupLogger builds the process logger. JSON output is meant for
// production, text output for local runs.
func SetupLogger(opts *LoggingOpts) (log *slog.Logger) {
	logLevel := slog.LevelInfo
	if opts.Debug {
		logLevel = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	if opts.JSON {
		log = slog.New(slog.NewJSONHandler(os.Stdout, handlerOpts))
	} else {
		log = slog.New(slog.NewTextHandler(os.Stdout, handlerOpts))
	}

	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}
	if opts.Version != "" {
		log = log.With("version", opts.Version)
	}
	return log
}

package digs

import (
	"log/slog"
	"os"
)

var logLevel = new(slog.LevelVar)

// ConfigureLogging sets up the global default logger with a TextHandler and
// configures the log level based on the DIGS_LOG_LEVEL environment variable.
// It defaults to Info level if not specified.
//
// The control daemon calls this once at startup; library packages only log
// through slog's package-level functions and never configure their own
// handler.
func ConfigureLogging() {
	logLevel.Set(slog.LevelInfo)

	switch os.Getenv("DIGS_LOG_LEVEL") {
	case "DEBUG":
		logLevel.Set(slog.LevelDebug)
	case "WARN":
		logLevel.Set(slog.LevelWarn)
	case "ERROR":
		logLevel.Set(slog.LevelError)
	}

	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// SetLogLevel overrides the level for the logger configured by ConfigureLogging.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures the process logger. File, when set, receives a copy of
// stderr output rotated by size.
type Options struct {
	Level  string
	Format string
	File   string
	Stderr io.Writer
}

// Setup creates a configured *slog.Logger, sets it as the default, and returns
// it with a function that closes the log file. The level accepts "debug",
// "info", "warn", "error" (case-insensitive); the format "text" or "json".
// Unrecognized values fall back to info and text.
func Setup(opts Options) (*slog.Logger, func() error) {
	var w io.Writer = opts.Stderr
	if w == nil {
		w = os.Stderr
	}
	closer := func() error { return nil }
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		w = io.MultiWriter(w, file)
		closer = file.Close
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, closer
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

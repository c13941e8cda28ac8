package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"

	"resticflux/internal/config"
)

// New builds the process logger from console/file sink configuration.
// Params: cfg logging sections from the runtime config.
// Returns: root logger, close function for owned files, or setup error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	handlers := make([]slog.Handler, 0, 2)
	closers := make([]io.Closer, 0, 1)

	if cfg.Console.Enabled {
		handler, err := newSinkHandler(cfg.Console, consoleWriter(cfg.Console.Format))
		if err != nil {
			return nil, nil, err
		}
		handlers = append(handlers, handler)
	}

	if cfg.File.Enabled {
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		closers = append(closers, file)

		handler, err := newSinkHandler(cfg.File, file)
		if err != nil {
			closeAll(closers)
			return nil, nil, err
		}
		handlers = append(handlers, handler)
	}

	closeFn := func() { closeAll(closers) }

	switch len(handlers) {
	case 0:
		return slog.New(slog.NewTextHandler(io.Discard, nil)), closeFn, nil
	case 1:
		return slog.New(handlers[0]), closeFn, nil
	default:
		return slog.New(slogmulti.Fanout(handlers...)), closeFn, nil
	}
}

// newSinkHandler builds one slog handler for a configured sink.
// Params: sink level/format settings; dst output writer.
// Returns: handler or error on unknown level.
func newSinkHandler(sink config.LogSinkConfig, dst io.Writer) (slog.Handler, error) {
	level, err := parseLevel(sink.Level)
	if err != nil {
		return nil, err
	}

	options := &slog.HandlerOptions{Level: level}
	if sink.Format == "json" {
		return slog.NewJSONHandler(dst, options), nil
	}
	return slog.NewTextHandler(dst, options), nil
}

// consoleWriter wraps stderr with ANSI coloring for line format.
// Params: format configured console format.
// Returns: destination writer for the console handler.
func consoleWriter(format string) io.Writer {
	if format == "line" && os.Getenv("NO_COLOR") == "" {
		return &colorLineWriter{dst: os.Stderr}
	}
	return os.Stderr
}

// parseLevel maps config level text to a slog level.
// Params: value normalized level name.
// Returns: slog level or error on unknown name.
func parseLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", value)
	}
}

// closeAll closes owned log destinations, ignoring close errors.
// Params: closers owned file handles.
// Returns: none.
func closeAll(closers []io.Closer) {
	for _, closer := range closers {
		_ = closer.Close()
	}
}

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ghostodds/backend/internal/config"
)

// New builds the slog.Logger shared by the indexer, keeper, and api-server
// binaries. Every record carries a "service" attribute so logs from the
// three processes can be mixed in one stream. The returned close function
// releases the log file, if one was opened, and is safe to call on exit
// regardless of the configured output.
func New(service string, cfg config.LogConfig) (*slog.Logger, func() error, error) {
	level, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	writer, closeFn, err := resolveWriter(service, cfg)
	if err != nil {
		return nil, nil, err
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch normalized(cfg.Format, "text") {
	case "text":
		handler = slog.NewTextHandler(writer, opts)
	case "json":
		handler = slog.NewJSONHandler(writer, opts)
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("invalid log format %q (expected text|json)", cfg.Format)
	}

	return slog.New(handler).With("service", service), closeFn, nil
}

func resolveWriter(service string, cfg config.LogConfig) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch normalized(cfg.Output, "console") {
	case "console":
		return os.Stdout, noop, nil
	case "file":
		file, err := openLogFile(service, cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return file, file.Close, nil
	case "both":
		file, err := openLogFile(service, cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return io.MultiWriter(os.Stdout, file), file.Close, nil
	default:
		return nil, nil, fmt.Errorf("invalid log output %q (expected console|file|both)", cfg.Output)
	}
}

func openLogFile(service string, configured string) (*os.File, error) {
	path := strings.TrimSpace(configured)
	if path == "" {
		path = filepath.Join(".docker", service, service+".log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %q: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return file, nil
}

func levelFromString(raw string) (slog.Level, error) {
	switch normalized(raw, "info") {
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug|info|warn|error)", raw)
	}
}

func normalized(raw, fallback string) string {
	value := strings.ToLower(strings.TrimSpace(raw))
	if value == "" {
		return fallback
	}
	return value
}

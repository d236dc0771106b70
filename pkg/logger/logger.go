// Package logger provides the application's structured logging setup.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"go.uber.org/fx"
)

// Module provides the application logger and HTTP access logger.
var Module = fx.Module("logger",
	fx.Provide(NewLogger),
	fx.Provide(NewHTTPLogger),
)

// Scope tags a logger with the subsystem emitting the record.
func Scope(name string) slog.Attr {
	return slog.String("scope", name)
}

// Error formats err as a structured attribute.
func Error(err error) slog.Attr {
	return slog.Any("error", err)
}

// NewLogger builds the application's slog.Logger.
//
// GO_ENV=production selects a JSON handler; otherwise a plain
// (uncoloured) text handler is used. LOG_LEVEL (case-insensitive;
// debug/info/warn|warning/error) controls the minimum level, defaulting
// to info for unset or unrecognized values.
func NewLogger() *slog.Logger {
	level := parseLevel(os.Getenv("LOG_LEVEL"))

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if os.Getenv("GO_ENV") == "production" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	case "info", "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

// isColorTerminal reports whether stderr supports ANSI color; IsTerminal
// is its only caller.
func isColorTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
}

// IsTerminal reports whether stderr is attached to a terminal.
func IsTerminal() bool {
	return isColorTerminal()
}

// HTTPLogger mirrors HTTP access log lines to a single append-only file
// (no rotation), independent
// of the structured application logger (matches production log-shipping
// setups that tail a dedicated access log).
type HTTPLogger struct {
	mu   sync.Mutex
	file *os.File
	log  *slog.Logger
}

// NewHTTPLogger opens (creating if necessary) the access log file named by
// HTTP_LOG_FILE, or disables file mirroring if unset.
func NewHTTPLogger(log *slog.Logger) *HTTPLogger {
	path := os.Getenv("HTTP_LOG_FILE")
	if path == "" {
		return &HTTPLogger{log: log.With(Scope("http-access"))}
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Warn("failed to open HTTP access log file, disabling", Error(err), slog.String("path", path))
		return &HTTPLogger{log: log.With(Scope("http-access"))}
	}
	return &HTTPLogger{file: f, log: log.With(Scope("http-access"))}
}

// LogRequest appends a single access-log line.
func (h *HTTPLogger) LogRequest(ip, method, uri string, status int, latency time.Duration, userAgent, requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.file == nil {
		return
	}

	line := slog.NewRecord(time.Now(), slog.LevelInfo, "request", 0)
	line.AddAttrs(
		slog.String("ip", ip),
		slog.String("method", method),
		slog.String("uri", uri),
		slog.Int("status", status),
		slog.Duration("latency", latency),
		slog.String("user_agent", userAgent),
		slog.String("request_id", requestID),
	)

	handler := slog.NewJSONHandler(h.file, nil)
	_ = handler.Handle(context.Background(), line)
}

// Close releases the underlying file handle, if any.
func (h *HTTPLogger) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return nil
	}
	return h.file.Close()
}

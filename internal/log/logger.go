// Package log implements structured logging using slog, and the operator
// console logger built on logrus.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"firestige.xyz/vrouter/internal/config"
)

var (
	mu      sync.Mutex
	outputs *MultiWriter
)

// Init initializes the global logger based on configuration. Logs go to
// every enabled output; with none enabled they are discarded.
func Init(cfg config.LogConfig) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	mw := NewMultiWriter()
	if cfg.Outputs.Stdout {
		mw.Add(os.Stdout)
	}
	if cfg.Outputs.File.Enabled {
		if cfg.Outputs.File.Path == "" {
			return fmt.Errorf("file output requires 'path' field")
		}
		mw.AddFileAppender(cfg.Outputs.File)
	}
	if cfg.Outputs.Loki.Enabled {
		w, err := createLokiWriter(cfg.Outputs.Loki)
		if err != nil {
			mw.Close()
			return fmt.Errorf("failed to create loki output: %w", err)
		}
		mw.Add(w)
	}

	var sink io.Writer = mw
	if mw.Len() == 0 {
		sink = io.Discard
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(sink, opts)
	case "text":
		handler = slog.NewTextHandler(sink, opts)
	default:
		mw.Close()
		return fmt.Errorf("unsupported log format: %s (must be json or text)", cfg.Format)
	}

	slog.SetDefault(slog.New(handler))

	mu.Lock()
	prev := outputs
	outputs = mw
	mu.Unlock()
	if prev != nil {
		prev.Close()
	}
	return nil
}

// Close flushes and closes the outputs opened by Init.
func Close() error {
	mu.Lock()
	mw := outputs
	outputs = nil
	mu.Unlock()
	if mw == nil {
		return nil
	}
	return mw.Close()
}

// parseLevel converts string level to slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level: %s", levelStr)
	}
}

// createLokiWriter creates a Loki writer.
func createLokiWriter(lc config.LokiOutputConfig) (*LokiWriter, error) {
	if lc.Endpoint == "" {
		return nil, fmt.Errorf("loki output requires 'endpoint' field")
	}
	return NewLokiWriter(LokiConfig{
		Endpoint:      lc.Endpoint,
		Labels:        lc.Labels,
		BatchSize:     lc.BatchSize,
		FlushInterval: lc.BatchTimeout,
	})
}

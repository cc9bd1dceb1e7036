package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

const (
	logFormatJSON    = "json"
	logFormatConsole = "console"
)

func newLogger(w io.Writer, level slog.Level, format string) (*slog.Logger, error) {
	switch format {
	case logFormatJSON, "":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
	case logFormatConsole:
		return slog.New(tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})), nil
	default:
		return nil, fmt.Errorf("new logger: unsupported format %q", format)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}

func parseLogFormat(raw string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(raw)); format {
	case logFormatJSON, logFormatConsole:
		return format, nil
	case "text", "tint":
		return logFormatConsole, nil
	default:
		return "", fmt.Errorf("unsupported format %q", raw)
	}
}

package app

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger returns the process logger writing to stdout. Every record carries
// the service name and APP_ENV so api and worker output can be told apart.
func NewLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true, Level: logLevel(cfg)}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	env := "development"
	if cfg != nil {
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(w, opts)
		}
		if cfg.AppEnv != "" {
			env = cfg.AppEnv
		}
	}
	return slog.New(handler).With(slog.String("service", "pampa"), slog.String("env", env))
}

// logLevel maps LOG_LEVEL onto slog levels. Unknown values fall back to info.
func logLevel(cfg *Config) slog.Level {
	if cfg == nil {
		return slog.LevelInfo
	}
	switch strings.ToLower(cfg.LogLevel) {
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

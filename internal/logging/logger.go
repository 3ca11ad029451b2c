// Package logging provides the process-wide structured logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	global *slog.Logger
	once   sync.Once
)

// Config selects log level and output sinks.
type Config struct {
	Level   string   `mapstructure:"level"`   // debug/info/warn/error
	Outputs []string `mapstructure:"outputs"` // "stdout" or file paths
}

func Init(cfg Config) error {
	var initErr error
	once.Do(func() {
		level := slog.LevelInfo
		switch cfg.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}

		var writers []io.Writer
		for _, out := range cfg.Outputs {
			switch out {
			case "", "stdout":
				writers = append(writers, os.Stdout)
			default:
				if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
					initErr = err
					return
				}
				f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err != nil {
					initErr = err
					return
				}
				writers = append(writers, f)
			}
		}
		if len(writers) == 0 {
			writers = append(writers, os.Stdout)
		}

		global = slog.New(slog.NewTextHandler(io.MultiWriter(writers...), &slog.HandlerOptions{
			Level: level,
		}))
	})
	return initErr
}

// fallback returns a stdout logger if Init was never called, so worker
// goroutines started from tests never dereference a nil logger.
func fallback() *slog.Logger {
	if global == nil {
		return slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return global
}

func Debug(msg string, args ...any) { fallback().Debug(msg, args...) }
func Info(msg string, args ...any)  { fallback().Info(msg, args...) }
func Warn(msg string, args ...any)  { fallback().Warn(msg, args...) }
func Error(msg string, args ...any) { fallback().Error(msg, args...) }

func Logger() *slog.Logger { return fallback() }

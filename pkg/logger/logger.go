// Package logger provides a structured, levelled logger built on log/slog.
//
// The logger is installed as the slog default at import time, so packages
// that only take a *slog.Logger (or call slog.Default) share its handler:
//
//	logger.Info("disk configured", "disk", "local", "driver", "local")
//	// → time=... level=INFO msg="disk configured" disk=local driver=local
//
// With LOG_FILE set, lines are also written to that file, rotated at
// LOG_MAX_SIZE_MB.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/shashiranjanraj/filestore/config"
)

var L *slog.Logger

func init() {
	L = New(Output(config.LogFile(), config.LogMaxSizeMB()), config.AppEnv())
	slog.SetDefault(L)
}

// Output returns stdout, or stdout plus a size-rotated file when file is
// set. Five compressed backups are kept.
func Output(file string, maxSizeMB int) io.Writer {
	if file == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSizeMB,
		MaxBackups: 5,
		Compress:   true,
	})
}

// New builds a logger for env: JSON at INFO for production, text at DEBUG
// otherwise.
func New(w io.Writer, env string) *slog.Logger {
	switch env {
	case "production", "prod":
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}))
	default:
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
}

// ctxKey is the unexported key used to store a per-request *slog.Logger.
type ctxKey struct{}

// WithCtx returns the logger stored in ctx by InjectLogger, or the base
// logger when there is none.
func WithCtx(ctx context.Context) *slog.Logger {
	if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && log != nil {
		return log
	}
	return L
}

// InjectLogger stores a *slog.Logger (pre-tagged with request_id) into ctx.
// Called by the server's logging middleware.
func InjectLogger(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) { L.Debug(msg, args...) }

// Info logs at INFO level.
func Info(msg string, args ...any) { L.Info(msg, args...) }

// Warn logs at WARN level.
func Warn(msg string, args ...any) { L.Warn(msg, args...) }

// Error logs at ERROR level.
func Error(msg string, args ...any) { L.Error(msg, args...) }

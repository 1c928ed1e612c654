package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"logsentinel/internal/config"
)

// New builds the process logger. A non-empty cfg.File sends output to a
// size-rotated file instead of stdout.
func New(level string, cfg config.LoggingConfig) *slog.Logger {
	logger, _ := NewLeveled(level, cfg)
	return logger
}

// NewLeveled is New with a level that can be changed after construction, so a
// config reload can raise or lower verbosity without rebuilding handlers.
func NewLeveled(level string, cfg config.LoggingConfig) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(parseLevel(level))
	opts := &slog.HandlerOptions{Level: lv}
	out := writer(cfg)
	var h slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(out, opts)
	} else {
		h = slog.NewJSONHandler(out, opts)
	}
	return slog.New(h), lv
}

func SetLevel(lv *slog.LevelVar, level string) {
	if lv != nil {
		lv.Set(parseLevel(level))
	}
}

// Discard returns a logger that drops everything, for tests and dry runs.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(level string) slog.Level {
	lvl := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	}
	return lvl
}

func writer(cfg config.LoggingConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}

// Package logger builds the slog logger the pool components share. Terminal
// output goes through pterm when colour makes sense, JSON otherwise; file
// output rotates through lumberjack. Attribute normalization keeps the
// pool's structured fields (hosts, slot ids, embargo durations, errors)
// grep-friendly in every sink.
package logger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mdedetrich/hostpool/internal/util"
	"github.com/mdedetrich/hostpool/theme"
)

type Config struct {
	Level      string
	LogDir     string
	Theme      string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	FileOutput bool
	PrettyLogs bool
}

const (
	DefaultLogOutputName = "hostpool.log"

	LogLevelDebug   = "debug"
	LogLevelInfo    = "info"
	LogLevelWarn    = "warn"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)

// New builds the shared logger. The cleanup function flushes and closes any
// file sink; call it on the way out.
func New(cfg *Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.Level)

	var sinks []slog.Handler
	var cleanups []func()

	// a pretty terminal only helps when something is watching it
	if cfg.PrettyLogs && util.ShouldUseColors() {
		sinks = append(sinks, terminalSink(level, theme.GetTheme(cfg.Theme)))
	} else {
		sinks = append(sinks, slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: normalizeAttrs,
		}))
	}

	if cfg.FileOutput {
		sink, cleanup, err := fileSink(cfg, level)
		if err != nil {
			return nil, nil, err
		}
		sinks = append(sinks, sink)
		cleanups = append(cleanups, cleanup)
	}

	handler := sinks[0]
	if len(sinks) > 1 {
		handler = &fanoutHandler{sinks: sinks}
	}

	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}
	return slog.New(handler), cleanup, nil
}

// terminalSink renders through pterm with the pool's fields styled: origin
// hosts and slot ids are what an operator scans for first.
func terminalSink(level slog.Level, appTheme *theme.Theme) slog.Handler {
	plogger := pterm.DefaultLogger.
		WithLevel(ptermLevel(level)).
		WithWriter(os.Stdout).
		WithFormatter(pterm.LogFormatterColorful).
		WithKeyStyles(map[string]pterm.Style{
			"host":    *appTheme.Highlight,
			"slot":    *appTheme.Accent,
			"conn":    *appTheme.Accent,
			"embargo": *appTheme.Warn,
			"error":   *appTheme.Error,
		})
	return pterm.NewSlogHandler(plogger)
}

func fileSink(cfg *Config, level slog.Level) (slog.Handler, func(), error) {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, nil, err
	}

	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, DefaultLogOutputName),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   true,
	}
	handler := slog.NewJSONHandler(rotator, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: normalizeAttrs,
	})
	return handler, func() { _ = rotator.Close() }, nil
}

// normalizeAttrs shapes records for structured sinks: a stable "ts" key,
// embargo/timeout durations as human-readable strings, errors flattened to
// their message, and stray ANSI from styled fragments stripped.
func normalizeAttrs(groups []string, a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindTime:
		if a.Key == slog.TimeKey && len(groups) == 0 {
			return slog.String("ts", a.Value.Time().Format(time.RFC3339Nano))
		}
	case slog.KindDuration:
		return slog.String(a.Key, a.Value.Duration().String())
	case slog.KindString:
		if s := a.Value.String(); strings.ContainsRune(s, '\x1b') {
			return slog.String(a.Key, stripAnsiCodes(s))
		}
	case slog.KindAny:
		if err, ok := a.Value.Any().(error); ok && err != nil {
			return slog.String(a.Key, err.Error())
		}
	}
	return a
}

// fanoutHandler delivers each record to every sink. Unlike a chain that
// stops at the first failure, a broken file sink must not silence the
// terminal, so errors are collected and joined.
type fanoutHandler struct {
	sinks []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, sink := range h.sinks {
		if sink.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, sink := range h.sinks {
		if !sink.Enabled(ctx, record.Level) {
			continue
		}
		if err := sink.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	sinks := make([]slog.Handler, len(h.sinks))
	for i, sink := range h.sinks {
		sinks[i] = sink.WithAttrs(attrs)
	}
	return &fanoutHandler{sinks: sinks}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	sinks := make([]slog.Handler, len(h.sinks))
	for i, sink := range h.sinks {
		sinks[i] = sink.WithGroup(name)
	}
	return &fanoutHandler{sinks: sinks}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case LogLevelDebug:
		return slog.LevelDebug
	case LogLevelWarn, LogLevelWarning:
		return slog.LevelWarn
	case LogLevelError:
		return slog.LevelError
	case LogLevelInfo, "":
		return slog.LevelInfo
	default:
		return slog.LevelInfo
	}
}

func ptermLevel(level slog.Level) pterm.LogLevel {
	switch {
	case level <= slog.LevelDebug:
		return pterm.LogLevelTrace
	case level <= slog.LevelInfo:
		return pterm.LogLevelInfo
	case level <= slog.LevelWarn:
		return pterm.LogLevelWarn
	default:
		return pterm.LogLevelError
	}
}

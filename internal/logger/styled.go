package logger

import (
	"fmt"
	"log/slog"

	"github.com/mdedetrich/hostpool/theme"
)

// StyledLogger is the logging surface handed to pool components. It wraps
// slog with a few host/slot-aware helpers so call sites stay terse.
type StyledLogger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)

	InfoWithHost(msg string, host string, args ...any)
	WarnWithHost(msg string, host string, args ...any)
	ErrorWithHost(msg string, host string, args ...any)
	InfoWithCount(msg string, count int, args ...any)

	WithSlot(slotID int) StyledLogger
	With(args ...any) StyledLogger
}

// ThemedLogger implements StyledLogger with pterm-styled fragments
type ThemedLogger struct {
	logger *slog.Logger
	theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, appTheme *theme.Theme) *ThemedLogger {
	return &ThemedLogger{
		logger: logger,
		theme:  appTheme,
	}
}

func (sl *ThemedLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *ThemedLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *ThemedLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *ThemedLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *ThemedLogger) InfoWithHost(msg string, host string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint(host))
	sl.logger.Info(styledMsg, args...)
}

func (sl *ThemedLogger) WarnWithHost(msg string, host string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint(host))
	sl.logger.Warn(styledMsg, args...)
}

func (sl *ThemedLogger) ErrorWithHost(msg string, host string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Highlight.Sprint(host))
	sl.logger.Error(styledMsg, args...)
}

func (sl *ThemedLogger) InfoWithCount(msg string, count int, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.theme.Accent.Sprint("(", count, ")"))
	sl.logger.Info(styledMsg, args...)
}

func (sl *ThemedLogger) WithSlot(slotID int) StyledLogger {
	return &ThemedLogger{
		logger: sl.logger.With("slot", slotID),
		theme:  sl.theme,
	}
}

func (sl *ThemedLogger) With(args ...any) StyledLogger {
	return &ThemedLogger{
		logger: sl.logger.With(args...),
		theme:  sl.theme,
	}
}

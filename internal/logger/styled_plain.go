package logger

import (
	"fmt"
	"log/slog"
)

// PlainStyledLogger implements StyledLogger without formatting
type PlainStyledLogger struct {
	logger *slog.Logger
}

func NewPlainStyledLogger(logger *slog.Logger) *PlainStyledLogger {
	return &PlainStyledLogger{
		logger: logger,
	}
}

func (sl *PlainStyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *PlainStyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *PlainStyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *PlainStyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

func (sl *PlainStyledLogger) InfoWithHost(msg string, host string, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s %s", msg, host), args...)
}

func (sl *PlainStyledLogger) WarnWithHost(msg string, host string, args ...any) {
	sl.logger.Warn(fmt.Sprintf("%s %s", msg, host), args...)
}

func (sl *PlainStyledLogger) ErrorWithHost(msg string, host string, args ...any) {
	sl.logger.Error(fmt.Sprintf("%s %s", msg, host), args...)
}

func (sl *PlainStyledLogger) InfoWithCount(msg string, count int, args ...any) {
	sl.logger.Info(fmt.Sprintf("%s (%d)", msg, count), args...)
}

func (sl *PlainStyledLogger) WithSlot(slotID int) StyledLogger {
	return &PlainStyledLogger{logger: sl.logger.With("slot", slotID)}
}

func (sl *PlainStyledLogger) With(args ...any) StyledLogger {
	return &PlainStyledLogger{logger: sl.logger.With(args...)}
}

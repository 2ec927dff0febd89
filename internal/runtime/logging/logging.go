package logging

import (
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
)

// LogFields carries structured key/value pairs for a single log line.
type LogFields map[string]any

// Logger is the logging contract used by nodes, proxies and transports. It
// mirrors Watermill's LoggerAdapter so one logger serves the router, the
// transports and the dispatch path alike.
type Logger interface {
	With(fields LogFields) Logger
	Debug(msg string, fields LogFields)
	Info(msg string, fields LogFields)
	Error(msg string, err error, fields LogFields)
	Trace(msg string, fields LogFields)
}

var logLevelMapping = map[slog.Level]slog.Level{
	slog.LevelDebug: slog.LevelDebug,
	slog.LevelInfo:  slog.LevelInfo,
	slog.LevelWarn:  slog.LevelWarn,
	slog.LevelError: slog.LevelError,
}

// NewSlogLogger wraps a slog.Logger.
func NewSlogLogger(log *slog.Logger) Logger {
	if log == nil {
		panic("messageless: slog logger cannot be nil")
	}
	return NewWatermillLogger(watermill.NewSlogLoggerWithLevelMapping(log, logLevelMapping))
}

// NewWatermillLogger wraps an existing Watermill LoggerAdapter.
func NewWatermillLogger(logger watermill.LoggerAdapter) Logger {
	if logger == nil {
		panic("messageless: watermill logger cannot be nil")
	}
	return &watermillLogger{inner: logger}
}

// NewNopLogger discards everything.
func NewNopLogger() Logger {
	return &watermillLogger{inner: watermill.NopLogger{}}
}

type watermillLogger struct {
	inner watermill.LoggerAdapter
}

func (w *watermillLogger) With(fields LogFields) Logger {
	if len(fields) == 0 {
		return w
	}
	return &watermillLogger{inner: w.inner.With(toWatermillFields(fields))}
}

func (w *watermillLogger) Debug(msg string, fields LogFields) {
	w.inner.Debug(msg, toWatermillFields(fields))
}

func (w *watermillLogger) Info(msg string, fields LogFields) {
	w.inner.Info(msg, toWatermillFields(fields))
}

func (w *watermillLogger) Error(msg string, err error, fields LogFields) {
	w.inner.Error(msg, err, toWatermillFields(fields))
}

func (w *watermillLogger) Trace(msg string, fields LogFields) {
	w.inner.Trace(msg, toWatermillFields(fields))
}

type loggerAdapter struct {
	base Logger
}

// NewWatermillAdapter exposes a Logger as a Watermill LoggerAdapter so the
// router and the transport builders log through the node's logger.
func NewWatermillAdapter(log Logger) watermill.LoggerAdapter {
	if log == nil {
		panic("messageless: logger cannot be nil")
	}
	return &loggerAdapter{base: log}
}

func (s *loggerAdapter) Error(msg string, err error, fields watermill.LogFields) {
	s.base.Error(msg, err, fromWatermillFields(fields))
}

func (s *loggerAdapter) Info(msg string, fields watermill.LogFields) {
	s.base.Info(msg, fromWatermillFields(fields))
}

func (s *loggerAdapter) Debug(msg string, fields watermill.LogFields) {
	s.base.Debug(msg, fromWatermillFields(fields))
}

func (s *loggerAdapter) Trace(msg string, fields watermill.LogFields) {
	s.base.Trace(msg, fromWatermillFields(fields))
}

func (s *loggerAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &loggerAdapter{base: s.base.With(fromWatermillFields(fields))}
}

func toWatermillFields(fields LogFields) watermill.LogFields {
	if len(fields) == 0 {
		return nil
	}
	return watermill.LogFields(fields)
}

func fromWatermillFields(fields watermill.LogFields) LogFields {
	if len(fields) == 0 {
		return nil
	}
	return LogFields(fields)
}

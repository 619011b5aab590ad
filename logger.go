package account

import (
	"log/slog"
	"os"

	"go.uber.org/zap"
)

// Logger is the structured logger contract: a message followed by
// key/value pairs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LoggerProvider hands out named loggers
type LoggerProvider interface {
	GetLogger(name string) Logger
}

// LegacyLogger is a printf style logger
type LegacyLogger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Debug(msg string, args ...any) { s.l.Debug(msg, args...) }
func (s slogLogger) Info(msg string, args ...any)  { s.l.Info(msg, args...) }
func (s slogLogger) Warn(msg string, args ...any)  { s.l.Warn(msg, args...) }
func (s slogLogger) Error(msg string, args ...any) { s.l.Error(msg, args...) }

// NewSlogLogger adapts a slog.Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		return defaultLogger()
	}
	return slogLogger{l: l}
}

type zapLogger struct {
	l *zap.SugaredLogger
}

func (z zapLogger) Debug(msg string, args ...any) { z.l.Debugw(msg, args...) }
func (z zapLogger) Info(msg string, args ...any)  { z.l.Infow(msg, args...) }
func (z zapLogger) Warn(msg string, args ...any)  { z.l.Warnw(msg, args...) }
func (z zapLogger) Error(msg string, args ...any) { z.l.Errorw(msg, args...) }

// NewZapLogger adapts a zap.Logger.
func NewZapLogger(l *zap.Logger) Logger {
	if l == nil {
		return defaultLogger()
	}
	return zapLogger{l: l.Sugar()}
}

type legacyAdapter struct {
	l LegacyLogger
}

func (a legacyAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a legacyAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a legacyAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a legacyAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }

// FromLegacyLogger wraps a printf style logger. A nil logger resolves to a
// no-op logger.
func FromLegacyLogger(l LegacyLogger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return legacyAdapter{l: l}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// NopLogger discards everything
func NopLogger() Logger {
	return nopLogger{}
}

func defaultLogger() Logger {
	return slogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))}
}

type providerFunc func(name string) Logger

func (f providerFunc) GetLogger(name string) Logger { return f(name) }

// ProviderFromLogger returns a provider that tags every logger with its name.
func ProviderFromLogger(l Logger) LoggerProvider {
	if l == nil {
		l = defaultLogger()
	}
	return providerFunc(func(name string) Logger {
		if sl, ok := l.(slogLogger); ok {
			return slogLogger{l: sl.l.With("logger", name)}
		}
		if zl, ok := l.(zapLogger); ok {
			return zapLogger{l: zl.l.Named(name)}
		}
		return l
	})
}

// ResolveLogger picks a named logger. An explicit logger wins; otherwise
// the provider is asked; otherwise the default slog logger is used.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if logger != nil {
		if provider == nil || provider.GetLogger(name) == nil {
			provider = providerFunc(func(string) Logger { return logger })
		}
		return provider, logger
	}

	if provider == nil {
		provider = ProviderFromLogger(defaultLogger())
	}

	resolved := provider.GetLogger(name)
	if resolved == nil {
		resolved = defaultLogger()
	}
	return provider, resolved
}

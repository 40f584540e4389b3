package observability

import "context"

// nopLogger is a logger that discards all messages.
type nopLogger struct{}

// NopLogger returns a logger that discards all messages.
func NopLogger() Logger {
	return &nopLogger{}
}

func (l *nopLogger) Debug(_ string, _ ...Field) {}

func (l *nopLogger) Info(_ string, _ ...Field) {}

func (l *nopLogger) Warn(_ string, _ ...Field) {}

func (l *nopLogger) Error(_ string, _ ...Field) {}

func (l *nopLogger) Fatal(_ string, _ ...Field) {}

func (l *nopLogger) With(_ ...Field) Logger { return l }

func (l *nopLogger) WithContext(_ context.Context) Logger { return l }

func (l *nopLogger) Sync() error { return nil }

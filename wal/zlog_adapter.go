package wal

import zlog "github.com/semihalev/log"

// ZlogLogger adapts a *zlog.StructuredLogger to this package's Logger
// contract. zlog's native Debug/Info/Warn/Error(msg string, fields
// ...zlog.Field) take typed fields, not the (msg string, keysAndValues
// ...any) shape Logger requires, so they cannot satisfy it directly; its
// compat.go KV methods (DebugKV/InfoKV/WarnKV/ErrorKV) accept exactly that
// shape, so ZlogLogger forwards through those instead.
type ZlogLogger struct {
	*zlog.StructuredLogger
}

// NewZlogLogger wraps logger as a Logger. A nil logger wraps zlog's
// package-level default logger (stdout terminal writer).
func NewZlogLogger(logger *zlog.StructuredLogger) ZlogLogger {
	if logger == nil {
		logger = zlog.Default()
	}
	return ZlogLogger{StructuredLogger: logger}
}

func (z ZlogLogger) Debug(msg string, keysAndValues ...any) {
	z.StructuredLogger.DebugKV(msg, keysAndValues...)
}

func (z ZlogLogger) Info(msg string, keysAndValues ...any) {
	z.StructuredLogger.InfoKV(msg, keysAndValues...)
}

func (z ZlogLogger) Warn(msg string, keysAndValues ...any) {
	z.StructuredLogger.WarnKV(msg, keysAndValues...)
}

func (z ZlogLogger) Error(msg string, keysAndValues ...any) {
	z.StructuredLogger.ErrorKV(msg, keysAndValues...)
}

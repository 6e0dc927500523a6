package orchestrator

import "go.uber.org/zap"

// Logger is the logging dependency every orchestrator component takes as an
// explicit constructor argument, never a global.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// NoOpLogger discards everything. Default for tests and for callers that
// don't care about orchestrator-level logging.
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(msg string, args ...interface{}) {}
func (n *NoOpLogger) Info(msg string, args ...interface{})  {}
func (n *NoOpLogger) Warn(msg string, args ...interface{})  {}
func (n *NoOpLogger) Error(msg string, args ...interface{}) {}

// ZapLogger adapts a *zap.Logger to the Logger interface, fanning the
// variadic key/value pairs into zap.Any fields.
type ZapLogger struct {
	base *zap.Logger
}

func NewZapLogger(base *zap.Logger) *ZapLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &ZapLogger{base: base}
}

func (z *ZapLogger) Debug(msg string, args ...interface{}) {
	z.base.Debug(msg, fields(args)...)
}

func (z *ZapLogger) Info(msg string, args ...interface{}) {
	z.base.Info(msg, fields(args)...)
}

func (z *ZapLogger) Warn(msg string, args ...interface{}) {
	z.base.Warn(msg, fields(args)...)
}

func (z *ZapLogger) Error(msg string, args ...interface{}) {
	z.base.Error(msg, fields(args)...)
}

// fields turns a flat ("key", value, "key", value, ...) arg list into zap
// fields, tolerating an odd trailing key by pairing it with nil.
func fields(args []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = "arg"
		}
		var val interface{}
		if i+1 < len(args) {
			val = args[i+1]
		}
		out = append(out, zap.Any(key, val))
	}
	return out
}

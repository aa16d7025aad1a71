// Package logging defines the small leveled-logger interface used across
// tansu's internal packages, mirroring the franz-go family's pluggable
// kgo.Logger: components depend on this interface, never on zap directly,
// so a caller can bridge in whatever sink it likes the way plugin/kzap
// bridges zap into kgo.
package logging

import "go.uber.org/zap"

// Level is a logging severity, ordered least to most severe.
type Level int8

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger is implemented by anything that can record a leveled, structured
// message with alternating key/value pairs.
type Logger interface {
	Log(level Level, msg string, keyvals ...any)
}

// Nop discards everything logged to it.
type Nop struct{}

func (Nop) Log(Level, string, ...any) {}

// Zap adapts a *zap.SugaredLogger to Logger.
type Zap struct {
	S *zap.SugaredLogger
}

// NewZap wraps an existing zap logger.
func NewZap(l *zap.Logger) Zap {
	return Zap{S: l.Sugar()}
}

func (z Zap) Log(level Level, msg string, keyvals ...any) {
	switch level {
	case LevelDebug:
		z.S.Debugw(msg, keyvals...)
	case LevelInfo:
		z.S.Infow(msg, keyvals...)
	case LevelWarn:
		z.S.Warnw(msg, keyvals...)
	case LevelError:
		z.S.Errorw(msg, keyvals...)
	default:
		z.S.Infow(msg, keyvals...)
	}
}

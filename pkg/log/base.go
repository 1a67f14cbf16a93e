package log

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// levelVar is shared between a logger and all loggers derived from it so
// that SetLevel on the root (e.g. on config reload) applies everywhere.
type levelVar struct{ v atomic.Int32 }

func (l *levelVar) get() Level  { return Level(l.v.Load()) }
func (l *levelVar) set(v Level) { l.v.Store(int32(v)) }

func (l *BaseLogger) currentLevel() Level {
	if l.shared != nil {
		return l.shared.get()
	}
	return l.level
}

func (l *BaseLogger) clone() *BaseLogger {
	nl := *l
	nl.fields = make(Fields, len(l.fields))
	for k, v := range l.fields {
		nl.fields[k] = v
	}
	return &nl
}

func (l *BaseLogger) handler() slog.Handler {
	return newBridgeHandler(l).withRedactions(l.redact).withSampler(l.sample[0], l.sample[1])
}

// derive returns a child logger with extra fields, sharing outputs and level.
func (l *BaseLogger) derive(extra Fields) *BaseLogger {
	nl := l.clone()
	for k, v := range extra {
		nl.fields[k] = v
	}
	nl.slogLogger = slog.New(nl.handler()).With(attrsFromMap(nl.fields)...)
	return nl
}

func (l *BaseLogger) log(level Level, msg string, fields []Field) {
	if l.currentLevel() > level {
		return
	}
	l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, attrsFromFieldSlice(fields)...)
	if level == FatalLevel {
		os.Exit(1)
	}
}

func (l *BaseLogger) logf(level Level, msg string, args []interface{}) {
	if l.currentLevel() > level {
		return
	}
	// printf-style when the message carries verbs, key/value pairs otherwise
	if len(args) > 0 && containsVerb(msg) {
		l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), fmt.Sprintf(msg, args...))
	} else {
		l.slogLogger.LogAttrs(context.Background(), toSlogLevel(level), msg, argsToAttrs(args)...)
	}
	if level == FatalLevel {
		os.Exit(1)
	}
}

func containsVerb(s string) bool {
	for i := 0; i < len(s)-1; i++ {
		if s[i] == '%' && s[i+1] != '%' {
			return true
		}
	}
	return false
}

func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(DebugLevel, msg, fields) }
func (l *BaseLogger) Info(msg string, fields ...Field)  { l.log(InfoLevel, msg, fields) }
func (l *BaseLogger) Warn(msg string, fields ...Field)  { l.log(WarnLevel, msg, fields) }
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(ErrorLevel, msg, fields) }
func (l *BaseLogger) Fatal(msg string, fields ...Field) { l.log(FatalLevel, msg, fields) }

func (l *BaseLogger) Debugf(msg string, args ...interface{}) { l.logf(DebugLevel, msg, args) }
func (l *BaseLogger) Infof(msg string, args ...interface{})  { l.logf(InfoLevel, msg, args) }
func (l *BaseLogger) Warnf(msg string, args ...interface{})  { l.logf(WarnLevel, msg, args) }
func (l *BaseLogger) Errorf(msg string, args ...interface{}) { l.logf(ErrorLevel, msg, args) }
func (l *BaseLogger) Fatalf(msg string, args ...interface{}) { l.logf(FatalLevel, msg, args) }

// WithField returns a child logger with one extra field.
func (l *BaseLogger) WithField(key string, value interface{}) Logger {
	return l.derive(Fields{key: value})
}

// WithFields returns a child logger with the given fields.
func (l *BaseLogger) WithFields(fields Fields) Logger {
	return l.derive(fields)
}

// WithError returns a child logger carrying err under "error".
func (l *BaseLogger) WithError(err error) Logger {
	if err == nil {
		return l
	}
	return l.derive(Fields{"error": err.Error()})
}

// With returns a child logger with the given structured fields.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	extra := make(Fields, len(fields))
	for _, f := range fields {
		extra[f.Key] = f.Value
	}
	return l.derive(extra)
}

// WithContext copies the well-known context keys into the logger fields.
func (l *BaseLogger) WithContext(ctx context.Context) Logger {
	extra := ContextExtractor(ctx)
	if len(extra) == 0 {
		return l
	}
	return l.derive(extra)
}

// WithComponent tags logs with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.derive(Fields{string(ComponentKey): component})
}

// SetLevel changes the minimum level for this logger and every logger
// derived from the same root.
func (l *BaseLogger) SetLevel(level Level) {
	l.level = level
	if l.shared != nil {
		l.shared.set(level)
	}
}

// GetLevel returns the current minimum level.
func (l *BaseLogger) GetLevel() Level { return l.currentLevel() }

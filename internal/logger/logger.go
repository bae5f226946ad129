// Package logger wraps logrus behind a small interface so the rest of the
// server never imports logrus directly, mirroring the facade the reference
// corpus keeps in front of its own logging backend.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the facade every subsystem depends on instead of the global
// logrus logger. Fields attach structured context the way access-log lines
// attach ip/method/status.
type Logger interface {
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
	Tracef(format string, args ...any)
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type entry struct {
	e *logrus.Entry
}

// New builds a Logger writing to stderr in text format, with level set from
// trace. When trace is true the level is logrus.TraceLevel (http.trace_flag);
// otherwise logrus.InfoLevel.
func New(trace bool) Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if trace {
		l.SetLevel(logrus.TraceLevel)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}
	return &entry{e: logrus.NewEntry(l)}
}

func (l *entry) WithField(key string, value any) Logger {
	return &entry{e: l.e.WithField(key, value)}
}

func (l *entry) WithFields(fields map[string]any) Logger {
	return &entry{e: l.e.WithFields(logrus.Fields(fields))}
}

func (l *entry) Tracef(format string, args ...any) { l.e.Tracef(format, args...) }
func (l *entry) Debugf(format string, args ...any) { l.e.Debugf(format, args...) }
func (l *entry) Infof(format string, args ...any)  { l.e.Infof(format, args...) }
func (l *entry) Warnf(format string, args ...any)  { l.e.Warnf(format, args...) }
func (l *entry) Errorf(format string, args ...any) { l.e.Errorf(format, args...) }

// SetLevel adjusts verbosity at runtime — wired to the trace_on/trace_off
// control command.
func SetLevel(l Logger, trace bool) {
	e, ok := l.(*entry)
	if !ok {
		return
	}
	if trace {
		e.e.Logger.SetLevel(logrus.TraceLevel)
	} else {
		e.e.Logger.SetLevel(logrus.InfoLevel)
	}
}

package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

type LogFields map[string]interface{}

type Logger interface {
	WithFields(fields LogFields) Logger

	Info(action, message string)
	Debug(action, message string)
	Warn(action, message string)
	Error(action string, err error)
}

// jsonLogger writes one JSON object per entry through logrus.
type jsonLogger struct {
	entry *logrus.Entry
}

type options struct {
	out   io.Writer
	level LogLevel
}

type Option func(*options)

// WithOutput redirects log lines, stdout by default.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// WithLevel sets the minimum level; unknown values keep info.
func WithLevel(level string) Option {
	return func(o *options) { o.level = LogLevel(level) }
}

// NewLogger creates a new structured JSON logger for a specific service.
func NewLogger(serviceName string, opts ...Option) Logger {
	o := options{out: os.Stdout, level: LevelInfo}
	for _, opt := range opts {
		opt(&o)
	}

	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	base := logrus.New()
	base.SetOutput(o.out)
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	level, err := logrus.ParseLevel(string(o.level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	return &jsonLogger{
		entry: base.WithFields(logrus.Fields{
			"service":  serviceName,
			"hostname": host,
		}),
	}
}

// WithFields returns a logger that adds fields to every entry, overwriting
// keys already present.
func (l *jsonLogger) WithFields(fields LogFields) Logger {
	return &jsonLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *jsonLogger) Info(action, message string) {
	l.entry.WithField("action", action).Info(message)
}

func (l *jsonLogger) Debug(action, message string) {
	l.entry.WithField("action", action).Debug(message)
}

func (l *jsonLogger) Warn(action, message string) {
	l.entry.WithField("action", action).Warn(message)
}

// Error logs err under action. A nil err is logged with the action as message.
func (l *jsonLogger) Error(action string, err error) {
	entry := l.entry.WithField("action", action)
	if err == nil {
		entry.Error(action)
		return
	}
	entry.WithError(err).Error(err.Error())
}

// Nop discards everything; handy for tests and tools.
func Nop() Logger {
	return NewLogger("nop", WithOutput(io.Discard))
}
